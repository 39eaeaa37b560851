package filters

import (
	"sort"
	"sync"

	"github.com/sawpanic/spreadrun/internal/models"
)

// parallelThreshold is the chain size below which fan-out costs more than it saves
const parallelThreshold = 256

// Chain is the AND of every enabled predicate in a Config
type Chain struct {
	config    Config
	contracts []ContractPredicate
	spreads   []SpreadPredicate
	workers   int
}

// NewChain validates cfg and builds its predicates. workers bounds the
// contract-stage fan-out.
func NewChain(cfg Config, workers int) (*Chain, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = 1
	}

	preds := contractPredicates(cfg)
	sort.SliceStable(preds, func(i, j int) bool { return preds[i].Cost < preds[j].Cost })

	return &Chain{
		config:    cfg.Clone(),
		contracts: preds,
		spreads:   spreadPredicates(cfg),
		workers:   workers,
	}, nil
}

// Config returns a copy of the chain's configuration
func (ch *Chain) Config() Config {
	return ch.config.Clone()
}

// ContractFilters lists the enabled contract-stage predicate names in run order
func (ch *Chain) ContractFilters() []string {
	names := make([]string, len(ch.contracts))
	for i, p := range ch.contracts {
		names[i] = p.Name
	}
	return names
}

func (ch *Chain) passContract(c *models.OptionContract) bool {
	for _, p := range ch.contracts {
		if !p.Test(c) {
			return false
		}
	}
	return true
}

// ApplyToContracts returns the contracts passing every predicate, in input order
func (ch *Chain) ApplyToContracts(contracts []models.OptionContract) []models.OptionContract {
	if len(ch.contracts) == 0 {
		out := make([]models.OptionContract, len(contracts))
		copy(out, contracts)
		return out
	}

	pass := make([]bool, len(contracts))
	if ch.workers == 1 || len(contracts) < parallelThreshold {
		for i := range contracts {
			pass[i] = ch.passContract(&contracts[i])
		}
	} else {
		chunk := (len(contracts) + ch.workers - 1) / ch.workers
		var wg sync.WaitGroup
		for start := 0; start < len(contracts); start += chunk {
			end := start + chunk
			if end > len(contracts) {
				end = len(contracts)
			}
			wg.Add(1)
			go func(start, end int) {
				defer wg.Done()
				for i := start; i < end; i++ {
					pass[i] = ch.passContract(&contracts[i])
				}
			}(start, end)
		}
		wg.Wait()
	}

	out := make([]models.OptionContract, 0, len(contracts))
	for i, ok := range pass {
		if ok {
			out = append(out, contracts[i])
		}
	}
	return out
}

// ApplyToSpreads returns the spreads passing every per-spread predicate
func (ch *Chain) ApplyToSpreads(spreads []models.VerticalSpread) []models.VerticalSpread {
	out := make([]models.VerticalSpread, 0, len(spreads))
	for i := range spreads {
		ok := true
		for _, p := range ch.spreads {
			if !p.Test(&spreads[i]) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, spreads[i])
		}
	}
	return out
}

// ApplyPortfolio enforces the portfolio caps over a ranked list. Without a
// portfolio config the list is returned unchanged.
func (ch *Chain) ApplyPortfolio(ranked []models.VerticalSpread) []models.VerticalSpread {
	if ch.config.Portfolio == nil {
		return ranked
	}
	return applyPortfolio(*ch.config.Portfolio, ranked)
}
