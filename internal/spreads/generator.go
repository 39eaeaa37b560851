package spreads

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/spreadrun/internal/models"
)

// Config bounds spread generation
type Config struct {
	// StrikeWindow is how many higher strikes each strike is paired with
	StrikeWindow int
	// Workers bounds concurrent (expiry, type) groups
	Workers int
}

// DefaultConfig returns a window of 3 strikes and 4 workers
func DefaultConfig() Config {
	return Config{StrikeWindow: 3, Workers: 4}
}

// Generator builds vertical spreads from a filtered chain
type Generator struct {
	config Config
}

// NewGenerator creates a generator, clamping non-positive settings to 1
func NewGenerator(cfg Config) *Generator {
	if cfg.StrikeWindow < 1 {
		cfg.StrikeWindow = 1
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Generator{config: cfg}
}

type groupKey struct {
	expiry time.Time
	kind   models.OptionType
}

// group returns contracts bucketed by (expiry, type) with strikes ascending,
// plus the keys in deterministic order. Legs without Greeks or with
// non-finite quotes are dropped here; crossed pairs are rejected by Build.
func group(contracts []models.OptionContract) ([]groupKey, map[groupKey][]models.OptionContract) {
	groups := make(map[groupKey][]models.OptionContract)
	for _, c := range contracts {
		if !c.Type.Valid() || !c.HasGreeks() {
			continue
		}
		if !finite(c.Bid) || !finite(c.Ask) || !finite(c.Strike) {
			continue
		}
		k := groupKey{expiry: c.Expiry.UTC(), kind: c.Type}
		groups[k] = append(groups[k], c)
	}

	keys := make([]groupKey, 0, len(groups))
	for k, cs := range groups {
		sort.SliceStable(cs, func(i, j int) bool { return cs[i].Strike < cs[j].Strike })
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].expiry.Equal(keys[j].expiry) {
			return keys[i].expiry.Before(keys[j].expiry)
		}
		return keys[i].kind < keys[j].kind
	})
	return keys, groups
}

// Generate pairs contracts within each (expiry, type) group. Output order is
// deterministic: groups by expiry then type, pairs by strike.
func (g *Generator) Generate(ctx context.Context, contracts []models.OptionContract) ([]models.VerticalSpread, error) {
	keys, groups := group(contracts)
	results := make([][]models.VerticalSpread, len(keys))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.config.Workers)
	for i, k := range keys {
		i, k := i, k
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = g.pairGroup(groups[k])
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var total int
	for _, r := range results {
		total += len(r)
	}
	out := make([]models.VerticalSpread, 0, total)
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// pairGroup walks sorted strikes, pairing each with at most StrikeWindow
// higher strikes, so cost is O(n·k).
func (g *Generator) pairGroup(sorted []models.OptionContract) []models.VerticalSpread {
	var out []models.VerticalSpread
	for i := 0; i < len(sorted); i++ {
		limit := i + g.config.StrikeWindow
		if limit >= len(sorted) {
			limit = len(sorted) - 1
		}
		for j := i + 1; j <= limit; j++ {
			lower, higher := sorted[i], sorted[j]
			if higher.Strike <= lower.Strike {
				continue
			}
			if s, ok := Build(lower, higher); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// Build prices the vertical formed by two same-expiry, same-type contracts
// with lower.Strike < higher.Strike. Calls are bull call debit spreads (long
// lower, short higher). Puts are long the higher strike and short the lower.
// ok is false when the pair does not price to a positive debit below the
// strike width.
func Build(lower, higher models.OptionContract) (models.VerticalSpread, bool) {
	long, short := lower, higher
	strategy := models.BullCall
	if lower.Type == models.Put {
		long, short = higher, lower
		strategy = models.BearPut
	}

	debit := decimal.NewFromFloat(long.Ask).Sub(decimal.NewFromFloat(short.Bid))
	if !debit.IsPositive() {
		return models.VerticalSpread{}, false
	}
	width := decimal.NewFromFloat(higher.Strike).Sub(decimal.NewFromFloat(lower.Strike))
	if debit.GreaterThanOrEqual(width) {
		return models.VerticalSpread{}, false
	}

	var breakeven decimal.Decimal
	var pop float64
	if strategy == models.BullCall {
		breakeven = decimal.NewFromFloat(long.Strike).Add(debit)
		pop = 1 - math.Abs(long.Greeks.Delta)
	} else {
		breakeven = decimal.NewFromFloat(short.Strike).Sub(debit)
		pop = math.Abs(short.Greeks.Delta)
	}

	return models.VerticalSpread{
		ID:         models.SpreadID(long.Symbol, long.Expiry, long.Type, long.Strike, short.Strike),
		Symbol:     long.Symbol,
		Expiry:     long.Expiry,
		OptionType: long.Type,
		Strategy:   strategy,
		Type:       models.Debit,
		Long:       long,
		Short:      short,
		Width:      width.InexactFloat64(),
		NetDebit:   debit.InexactFloat64(),
		MaxProfit:  width.Sub(debit).InexactFloat64(),
		MaxLoss:    debit.InexactFloat64(),
		Breakeven:  breakeven.InexactFloat64(),
		PoP:        clamp01(pop),
		NetDelta:   long.Greeks.Delta - short.Greeks.Delta,
		NetTheta:   long.Greeks.Theta - short.Greeks.Theta,
		NetVega:    long.Greeks.Vega - short.Greeks.Vega,
	}, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
