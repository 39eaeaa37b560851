package scoring

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/sawpanic/spreadrun/internal/models"
)

// ErrUnknownProfile is returned for an unregistered profile name
var ErrUnknownProfile = errors.New("unknown scoring profile")

// Profile weights the normalized scoring factors. Caps and scales map raw
// values into comparable ranges before weighting.
type Profile struct {
	Name          string  `json:"name"`
	RiskReward    float64 `json:"risk_reward_weight"`
	Theta         float64 `json:"theta_weight"`
	BidAsk        float64 `json:"bid_ask_weight"`
	PoP           float64 `json:"pop_weight"`
	RiskRewardCap float64 `json:"risk_reward_cap"`
	ThetaScale    float64 `json:"theta_scale"`
	BidAskScale   float64 `json:"bid_ask_scale"`
}

var profiles = map[string]Profile{
	"default": {
		Name: "default", RiskReward: 0.35, Theta: 0.20, BidAsk: 0.15, PoP: 0.30,
		RiskRewardCap: 3, ThetaScale: 0.05, BidAskScale: 0.50,
	},
	"conservative": {
		Name: "conservative", RiskReward: 0.20, Theta: 0.20, BidAsk: 0.20, PoP: 0.40,
		RiskRewardCap: 2, ThetaScale: 0.05, BidAskScale: 0.30,
	},
	"aggressive": {
		Name: "aggressive", RiskReward: 0.50, Theta: 0.15, BidAsk: 0.10, PoP: 0.25,
		RiskRewardCap: 5, ThetaScale: 0.05, BidAskScale: 0.75,
	},
}

// Profiles lists the registered profile names
func Profiles() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupProfile returns a named profile; the empty name is "default"
func LookupProfile(name string) (Profile, error) {
	if name == "" {
		name = "default"
	}
	p, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return p, nil
}

// Scorer assigns a score to spreads under one profile
type Scorer struct {
	profile Profile
}

// NewScorer creates a scorer for the named profile
func NewScorer(profile string) (*Scorer, error) {
	p, err := LookupProfile(profile)
	if err != nil {
		return nil, err
	}
	return &Scorer{profile: p}, nil
}

// Profile returns the scorer's weights
func (s *Scorer) Profile() Profile {
	return s.profile
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// Score computes a spread's weighted score on a 0-100 style scale.
// Risk/reward is capped, net theta rewarded, quoted width penalized and
// PoP rewarded linearly.
func (s *Scorer) Score(sp *models.VerticalSpread) float64 {
	p := s.profile

	rr := clamp(sp.RiskReward(), 0, p.RiskRewardCap) / p.RiskRewardCap
	theta := clamp(sp.NetTheta/p.ThetaScale, -1, 1)
	bidAsk := clamp(sp.AvgBidAsk()/p.BidAskScale, 0, 1)
	pop := clamp(sp.PoP, 0, 1)

	score := p.RiskReward*rr + p.Theta*theta + p.PoP*pop - p.BidAsk*bidAsk
	return math.Round(score*100*1e4) / 1e4
}

// Rank scores every spread and sorts best first. Ties fall to higher PoP,
// then lower max loss, then ID.
func (s *Scorer) Rank(spreads []models.VerticalSpread) []models.VerticalSpread {
	for i := range spreads {
		spreads[i].Score = s.Score(&spreads[i])
	}
	sort.SliceStable(spreads, func(i, j int) bool {
		a, b := &spreads[i], &spreads[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.PoP != b.PoP {
			return a.PoP > b.PoP
		}
		if a.MaxLoss != b.MaxLoss {
			return a.MaxLoss < b.MaxLoss
		}
		return a.ID < b.ID
	})
	return spreads
}

// Summarize computes score statistics over ranked spreads
func Summarize(ranked []models.VerticalSpread) models.ScanSummary {
	if len(ranked) == 0 {
		return models.ScanSummary{}
	}
	scores := make(stats.Float64Data, len(ranked))
	pops := make(stats.Float64Data, len(ranked))
	for i := range ranked {
		scores[i] = ranked[i].Score
		pops[i] = ranked[i].PoP
	}

	var summary models.ScanSummary
	summary.BestScore, _ = scores.Max()
	summary.MeanScore, _ = scores.Mean()
	summary.MedianScore, _ = scores.Median()
	summary.StdDevScore, _ = scores.StandardDeviation()
	summary.MeanPoP, _ = pops.Mean()
	return summary
}
