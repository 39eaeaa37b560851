package filters

import (
	"math"

	"github.com/sawpanic/spreadrun/internal/models"
)

// ContractPredicate is a named pure test on a single contract.
// Lower cost predicates run first.
type ContractPredicate struct {
	Name string
	Cost int
	Test func(c *models.OptionContract) bool
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func deltaFilter(r FloatRange) ContractPredicate {
	return ContractPredicate{Name: "delta", Cost: 1, Test: func(c *models.OptionContract) bool {
		if !c.HasGreeks() {
			return false
		}
		return r.Contains(math.Abs(c.Greeks.Delta))
	}}
}

func dteFilter(r IntRange) ContractPredicate {
	return ContractPredicate{Name: "dte", Cost: 1, Test: func(c *models.OptionContract) bool {
		return r.Contains(c.DTE)
	}}
}

func liquidityFilter(l LiquidityConfig) ContractPredicate {
	return ContractPredicate{Name: "liquidity", Cost: 3, Test: func(c *models.OptionContract) bool {
		if c.Volume < l.MinVolume || c.OpenInterest < l.MinOpenInterest {
			return false
		}
		if l.MaxBidAsk > 0 && c.BidAskSpread > l.MaxBidAsk {
			return false
		}
		return true
	}}
}

func ivFilter(r FloatRange) ContractPredicate {
	return ContractPredicate{Name: "iv", Cost: 2, Test: func(c *models.OptionContract) bool {
		return finite(c.IV) && r.Contains(c.IV)
	}}
}

func ivPercentileFilter(r FloatRange) ContractPredicate {
	return ContractPredicate{Name: "iv_percentile", Cost: 2, Test: func(c *models.OptionContract) bool {
		return finite(c.IVPercentile) && r.Contains(c.IVPercentile)
	}}
}

// thetaFilter and vegaFilter bound the magnitude of the Greek, so one
// range serves long and short legs alike.
func thetaFilter(r FloatRange) ContractPredicate {
	return ContractPredicate{Name: "theta", Cost: 2, Test: func(c *models.OptionContract) bool {
		if !c.HasGreeks() {
			return false
		}
		return r.Contains(math.Abs(c.Greeks.Theta))
	}}
}

func vegaFilter(r FloatRange) ContractPredicate {
	return ContractPredicate{Name: "vega", Cost: 2, Test: func(c *models.OptionContract) bool {
		if !c.HasGreeks() {
			return false
		}
		return r.Contains(math.Abs(c.Greeks.Vega))
	}}
}

// contractPredicates builds the enabled contract-stage predicates
func contractPredicates(cfg Config) []ContractPredicate {
	var preds []ContractPredicate
	if cfg.Delta != nil {
		preds = append(preds, deltaFilter(*cfg.Delta))
	}
	if cfg.DTE != nil {
		preds = append(preds, dteFilter(*cfg.DTE))
	}
	if cfg.IV != nil {
		preds = append(preds, ivFilter(*cfg.IV))
	}
	if cfg.IVPercentile != nil {
		preds = append(preds, ivPercentileFilter(*cfg.IVPercentile))
	}
	if cfg.Theta != nil {
		preds = append(preds, thetaFilter(*cfg.Theta))
	}
	if cfg.Vega != nil {
		preds = append(preds, vegaFilter(*cfg.Vega))
	}
	if cfg.Liquidity != nil {
		preds = append(preds, liquidityFilter(*cfg.Liquidity))
	}
	return preds
}
