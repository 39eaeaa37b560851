package models

import (
	"math"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// OptionType distinguishes calls from puts
type OptionType string

const (
	Call OptionType = "CALL"
	Put  OptionType = "PUT"
)

// Valid reports whether the option type is known
func (t OptionType) Valid() bool {
	return t == Call || t == Put
}

// Greeks as supplied by the data provider
type Greeks struct {
	Delta float64 `json:"delta" yaml:"delta"`
	Gamma float64 `json:"gamma" yaml:"gamma"`
	Theta float64 `json:"theta" yaml:"theta"`
	Vega  float64 `json:"vega" yaml:"vega"`
	Rho   float64 `json:"rho" yaml:"rho"`
}

// OptionContract is an immutable snapshot of a single listed option.
// A refresh replaces the whole chain rather than mutating contracts in place.
type OptionContract struct {
	Symbol       string     `json:"symbol"`
	Underlying   string     `json:"underlying"`
	Strike       float64    `json:"strike"`
	Expiry       time.Time  `json:"expiry"`
	Type         OptionType `json:"type"`
	Bid          float64    `json:"bid"`
	Ask          float64    `json:"ask"`
	Last         float64    `json:"last"`
	Volume       int64      `json:"volume"`
	OpenInterest int64      `json:"open_interest"`
	Greeks       *Greeks    `json:"greeks,omitempty"`
	IV           float64    `json:"iv"`
	IVRank       float64    `json:"iv_rank"`
	IVPercentile float64    `json:"iv_percentile"`
	DTE          int        `json:"dte"`
	BidAskSpread float64    `json:"bid_ask_spread"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// HasGreeks reports whether the provider supplied usable Greeks
func (c *OptionContract) HasGreeks() bool {
	if c.Greeks == nil {
		return false
	}
	g := c.Greeks
	return !math.IsNaN(g.Delta) && !math.IsNaN(g.Theta) && !math.IsNaN(g.Vega)
}

// Mid returns the quote midpoint
func (c *OptionContract) Mid() float64 {
	return (c.Bid + c.Ask) / 2
}

// DaysToExpiry counts calendar days from asOf to expiry, rounded up.
// Expired contracts return 0.
func DaysToExpiry(expiry, asOf time.Time) int {
	d := expiry.Sub(asOf)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours() / 24))
}

// Normalize fills the derived fields (DTE, bid-ask spread) relative to asOf
func (c *OptionContract) Normalize(asOf time.Time) {
	c.DTE = DaysToExpiry(c.Expiry, asOf)
	c.BidAskSpread = c.Ask - c.Bid
	if c.Underlying == "" {
		c.Underlying = c.Symbol
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = asOf
	}
}

type contractAlias OptionContract

type contractWire struct {
	contractAlias
	IV           *float64 `json:"iv"`
	IVPercentile *float64 `json:"iv_percentile"`
}

func optional(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// MarshalJSON writes unknown IV fields as null
func (c OptionContract) MarshalJSON() ([]byte, error) {
	return json.Marshal(contractWire{
		contractAlias: contractAlias(c),
		IV:            optional(c.IV),
		IVPercentile:  optional(c.IVPercentile),
	})
}

// UnmarshalJSON reads null IV fields back as unknown
func (c *OptionContract) UnmarshalJSON(data []byte) error {
	var w contractWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = OptionContract(w.contractAlias)
	c.IV = orNaN(w.IV)
	c.IVPercentile = orNaN(w.IVPercentile)
	return nil
}
