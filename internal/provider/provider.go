package provider

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sawpanic/spreadrun/internal/models"
)

var (
	ErrInvalidSymbol  = errors.New("invalid symbol")
	ErrSymbolNotFound = errors.New("symbol not found")
	ErrUpstream       = errors.New("upstream failure")
	ErrCircuitOpen    = errors.New("upstream circuit open")
)

// DataProvider supplies option chains. Implementations honour ctx
// cancellation on every blocking call.
type DataProvider interface {
	GetOptionChain(ctx context.Context, symbol string) ([]models.OptionContract, error)
}

var symbolPattern = regexp.MustCompile(`^[A-Z][A-Z0-9.\-]{0,9}$`)

// NormalizeSymbol upper-cases and validates a ticker
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if !symbolPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return s, nil
}
