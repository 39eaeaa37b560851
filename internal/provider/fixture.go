package provider

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/sawpanic/spreadrun/internal/models"
)

// FixtureProvider serves chains from a JSON file in the upstream wire
// format, for offline scans and demos.
type FixtureProvider struct {
	chains map[string][]contractDTO
	now    func() time.Time
}

// LoadFixtures reads a JSON array of {symbol, contracts} chains
func LoadFixtures(path string) (*FixtureProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}

	var chains []chainDTO
	if err := json.Unmarshal(data, &chains); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}

	p := &FixtureProvider{chains: make(map[string][]contractDTO), now: time.Now}
	for _, c := range chains {
		sym, err := NormalizeSymbol(c.Symbol)
		if err != nil {
			return nil, err
		}
		p.chains[sym] = append(p.chains[sym], c.Contracts...)
	}
	return p, nil
}

// GetOptionChain returns the fixture chain normalized against the current time
func (p *FixtureProvider) GetOptionChain(ctx context.Context, symbol string) ([]models.OptionContract, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dtos, ok := p.chains[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}
	contracts, _ := decodeChain(symbol, dtos, p.now())
	return contracts, nil
}

// Symbols lists the symbols present in the fixture file
func (p *FixtureProvider) Symbols() []string {
	out := make([]string, 0, len(p.chains))
	for s := range p.chains {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
