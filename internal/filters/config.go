package filters

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid filter config")

// FloatRange is an inclusive [Min, Max] bound
type FloatRange struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Contains reports whether v lies within the range
func (r FloatRange) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// IntRange is an inclusive [Min, Max] bound
type IntRange struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// Contains reports whether v lies within the range
func (r IntRange) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

// LiquidityConfig sets minimum activity and a quoted-width cap.
// MaxBidAsk of zero disables the width check.
type LiquidityConfig struct {
	MinVolume       int64   `json:"min_volume" yaml:"min_volume"`
	MinOpenInterest int64   `json:"min_open_interest" yaml:"min_open_interest"`
	MaxBidAsk       float64 `json:"max_bid_ask,omitempty" yaml:"max_bid_ask,omitempty"`
}

// PortfolioConfig caps the ranked candidate set. Zero disables a cap.
// RiskLimit is in dollars per one-lot of each spread.
type PortfolioConfig struct {
	MaxPositions int     `json:"max_positions" yaml:"max_positions"`
	RiskLimit    float64 `json:"risk_limit" yaml:"risk_limit"`
	MaxPerExpiry int     `json:"max_per_expiry,omitempty" yaml:"max_per_expiry,omitempty"`
}

// Config holds optional per-dimension filter parameters. A nil field is
// not applied.
type Config struct {
	Delta        *FloatRange      `json:"delta,omitempty" yaml:"delta,omitempty"`
	DTE          *IntRange        `json:"dte,omitempty" yaml:"dte,omitempty"`
	Liquidity    *LiquidityConfig `json:"liquidity,omitempty" yaml:"liquidity,omitempty"`
	IV           *FloatRange      `json:"iv,omitempty" yaml:"iv,omitempty"`
	IVPercentile *FloatRange      `json:"iv_percentile,omitempty" yaml:"iv_percentile,omitempty"`
	Theta        *FloatRange      `json:"theta,omitempty" yaml:"theta,omitempty"`
	Vega         *FloatRange      `json:"vega,omitempty" yaml:"vega,omitempty"`

	SpreadWidth *FloatRange `json:"spread_width,omitempty" yaml:"spread_width,omitempty"`
	PoP         *FloatRange `json:"pop,omitempty" yaml:"pop,omitempty"`
	RiskReward  *FloatRange `json:"risk_reward,omitempty" yaml:"risk_reward,omitempty"`
	MaxNetDelta *float64    `json:"max_net_delta,omitempty" yaml:"max_net_delta,omitempty"`

	Portfolio *PortfolioConfig `json:"portfolio,omitempty" yaml:"portfolio,omitempty"`
}

func invalid(field, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, field, fmt.Sprintf(format, args...))
}

func checkRange(field string, r *FloatRange, lo, hi float64) error {
	if r == nil {
		return nil
	}
	if r.Min > r.Max {
		return invalid(field, "min %.4g exceeds max %.4g", r.Min, r.Max)
	}
	if r.Min < lo || r.Max > hi {
		return invalid(field, "range must lie within [%.4g, %.4g]", lo, hi)
	}
	return nil
}

const unbounded = 1e12

// Validate rejects inverted or out-of-domain ranges
func (c Config) Validate() error {
	if err := checkRange("delta", c.Delta, 0, 1); err != nil {
		return err
	}
	if c.DTE != nil {
		if c.DTE.Min > c.DTE.Max {
			return invalid("dte", "min %d exceeds max %d", c.DTE.Min, c.DTE.Max)
		}
		if c.DTE.Min < 0 {
			return invalid("dte", "min must not be negative")
		}
	}
	if l := c.Liquidity; l != nil {
		if l.MinVolume < 0 || l.MinOpenInterest < 0 || l.MaxBidAsk < 0 {
			return invalid("liquidity", "values must not be negative")
		}
	}
	if err := checkRange("iv", c.IV, 0, unbounded); err != nil {
		return err
	}
	if err := checkRange("iv_percentile", c.IVPercentile, 0, 100); err != nil {
		return err
	}
	if err := checkRange("theta", c.Theta, 0, unbounded); err != nil {
		return err
	}
	if err := checkRange("vega", c.Vega, 0, unbounded); err != nil {
		return err
	}
	if err := checkRange("spread_width", c.SpreadWidth, 0, unbounded); err != nil {
		return err
	}
	if err := checkRange("pop", c.PoP, 0, 1); err != nil {
		return err
	}
	if err := checkRange("risk_reward", c.RiskReward, 0, unbounded); err != nil {
		return err
	}
	if c.MaxNetDelta != nil && *c.MaxNetDelta < 0 {
		return invalid("max_net_delta", "must not be negative")
	}
	if p := c.Portfolio; p != nil {
		if p.MaxPositions < 0 || p.RiskLimit < 0 || p.MaxPerExpiry < 0 {
			return invalid("portfolio", "caps must not be negative")
		}
	}
	return nil
}

// Clone returns a deep copy
func (c Config) Clone() Config {
	out := Config{
		Delta:        cloneFloat(c.Delta),
		IV:           cloneFloat(c.IV),
		IVPercentile: cloneFloat(c.IVPercentile),
		Theta:        cloneFloat(c.Theta),
		Vega:         cloneFloat(c.Vega),
		SpreadWidth:  cloneFloat(c.SpreadWidth),
		PoP:          cloneFloat(c.PoP),
		RiskReward:   cloneFloat(c.RiskReward),
	}
	if c.DTE != nil {
		d := *c.DTE
		out.DTE = &d
	}
	if c.Liquidity != nil {
		l := *c.Liquidity
		out.Liquidity = &l
	}
	if c.MaxNetDelta != nil {
		v := *c.MaxNetDelta
		out.MaxNetDelta = &v
	}
	if c.Portfolio != nil {
		p := *c.Portfolio
		out.Portfolio = &p
	}
	return out
}

func cloneFloat(r *FloatRange) *FloatRange {
	if r == nil {
		return nil
	}
	v := *r
	return &v
}

// Merge overlays every non-nil field of patch onto a copy of c
func (c Config) Merge(patch Config) Config {
	out := c.Clone()
	p := patch.Clone()
	if p.Delta != nil {
		out.Delta = p.Delta
	}
	if p.DTE != nil {
		out.DTE = p.DTE
	}
	if p.Liquidity != nil {
		out.Liquidity = p.Liquidity
	}
	if p.IV != nil {
		out.IV = p.IV
	}
	if p.IVPercentile != nil {
		out.IVPercentile = p.IVPercentile
	}
	if p.Theta != nil {
		out.Theta = p.Theta
	}
	if p.Vega != nil {
		out.Vega = p.Vega
	}
	if p.SpreadWidth != nil {
		out.SpreadWidth = p.SpreadWidth
	}
	if p.PoP != nil {
		out.PoP = p.PoP
	}
	if p.RiskReward != nil {
		out.RiskReward = p.RiskReward
	}
	if p.MaxNetDelta != nil {
		out.MaxNetDelta = p.MaxNetDelta
	}
	if p.Portfolio != nil {
		out.Portfolio = p.Portfolio
	}
	return out
}

// IsEmpty reports a config with no dimension set
func (c Config) IsEmpty() bool {
	return c.Delta == nil && c.DTE == nil && c.Liquidity == nil && c.IV == nil &&
		c.IVPercentile == nil && c.Theta == nil && c.Vega == nil && c.SpreadWidth == nil &&
		c.PoP == nil && c.RiskReward == nil && c.MaxNetDelta == nil && c.Portfolio == nil
}
