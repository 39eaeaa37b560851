package scanner

import (
	"context"
	"errors"
	"fmt"
)

// ErrCancelled marks a scan abandoned through its context
var ErrCancelled = errors.New("scan cancelled")

// ScanError attributes a failure to a symbol
type ScanError struct {
	Symbol string
	Err    error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s: %v", e.Symbol, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsCancellation separates cancellation and timeout from data errors
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || isContextErr(err)
}

func cancelled(symbol string, cause error) error {
	return &ScanError{Symbol: symbol, Err: fmt.Errorf("%w: %w", ErrCancelled, cause)}
}
