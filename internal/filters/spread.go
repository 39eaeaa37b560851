package filters

import (
	"math"

	"github.com/sawpanic/spreadrun/internal/models"
)

// SpreadPredicate is a named pure test on a single spread
type SpreadPredicate struct {
	Name string
	Test func(s *models.VerticalSpread) bool
}

func spreadWidthFilter(r FloatRange) SpreadPredicate {
	return SpreadPredicate{Name: "spread_width", Test: func(s *models.VerticalSpread) bool {
		return r.Contains(s.Width)
	}}
}

func popFilter(r FloatRange) SpreadPredicate {
	return SpreadPredicate{Name: "pop", Test: func(s *models.VerticalSpread) bool {
		return finite(s.PoP) && r.Contains(s.PoP)
	}}
}

func riskRewardFilter(r FloatRange) SpreadPredicate {
	return SpreadPredicate{Name: "risk_reward", Test: func(s *models.VerticalSpread) bool {
		return s.MaxLoss > 0 && r.Contains(s.RiskReward())
	}}
}

func netDeltaFilter(max float64) SpreadPredicate {
	return SpreadPredicate{Name: "max_net_delta", Test: func(s *models.VerticalSpread) bool {
		return finite(s.NetDelta) && math.Abs(s.NetDelta) <= max
	}}
}

func spreadPredicates(cfg Config) []SpreadPredicate {
	var preds []SpreadPredicate
	if cfg.SpreadWidth != nil {
		preds = append(preds, spreadWidthFilter(*cfg.SpreadWidth))
	}
	if cfg.PoP != nil {
		preds = append(preds, popFilter(*cfg.PoP))
	}
	if cfg.RiskReward != nil {
		preds = append(preds, riskRewardFilter(*cfg.RiskReward))
	}
	if cfg.MaxNetDelta != nil {
		preds = append(preds, netDeltaFilter(*cfg.MaxNetDelta))
	}
	return preds
}

// applyPortfolio walks ranked spreads best-first and keeps those that fit
// the position count, aggregate risk and per-expiry caps.
func applyPortfolio(p PortfolioConfig, ranked []models.VerticalSpread) []models.VerticalSpread {
	out := make([]models.VerticalSpread, 0, len(ranked))
	perExpiry := make(map[string]int)
	var risk float64

	for _, s := range ranked {
		if p.MaxPositions > 0 && len(out) >= p.MaxPositions {
			break
		}
		cost := s.RiskDollars()
		if p.RiskLimit > 0 && risk+cost > p.RiskLimit {
			continue
		}
		key := s.Expiry.Format("2006-01-02")
		if p.MaxPerExpiry > 0 && perExpiry[key] >= p.MaxPerExpiry {
			continue
		}
		perExpiry[key]++
		risk += cost
		out = append(out, s)
	}
	return out
}
