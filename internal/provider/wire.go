package provider

import (
	"fmt"
	"math"
	"time"

	"github.com/sawpanic/spreadrun/internal/models"
)

// contractDTO is the upstream wire shape of one contract
type contractDTO struct {
	Symbol       string   `json:"symbol"`
	Underlying   string   `json:"underlying,omitempty"`
	Strike       float64  `json:"strike"`
	Expiry       string   `json:"expiry"`
	Type         string   `json:"type"`
	Bid          float64  `json:"bid"`
	Ask          float64  `json:"ask"`
	Last         float64  `json:"last"`
	Volume       int64    `json:"volume"`
	OpenInterest int64    `json:"open_interest"`
	Delta        *float64 `json:"delta,omitempty"`
	Gamma        *float64 `json:"gamma,omitempty"`
	Theta        *float64 `json:"theta,omitempty"`
	Vega         *float64 `json:"vega,omitempty"`
	Rho          *float64 `json:"rho,omitempty"`
	IV           *float64 `json:"iv,omitempty"`
	IVRank       float64  `json:"iv_rank"`
	IVPercentile *float64 `json:"iv_percentile,omitempty"`
	UpdatedAt    string   `json:"updated_at,omitempty"`
}

// chainDTO is the upstream response envelope
type chainDTO struct {
	Symbol    string        `json:"symbol"`
	Contracts []contractDTO `json:"contracts"`
}

func deref(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

func parseExpiry(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339, "20060102"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable expiry %q", s)
}

// toContract converts the wire shape. Greeks are attached only when delta,
// theta and vega are all present; IV fields absent upstream become NaN so
// the IV filters reject them.
func (d contractDTO) toContract(symbol string, asOf time.Time) (models.OptionContract, error) {
	expiry, err := parseExpiry(d.Expiry)
	if err != nil {
		return models.OptionContract{}, err
	}

	kind := models.OptionType(d.Type)
	switch d.Type {
	case "C", "call", "CALL":
		kind = models.Call
	case "P", "put", "PUT":
		kind = models.Put
	}
	if !kind.Valid() {
		return models.OptionContract{}, fmt.Errorf("unknown option type %q", d.Type)
	}

	c := models.OptionContract{
		Symbol:       symbol,
		Underlying:   d.Underlying,
		Strike:       d.Strike,
		Expiry:       expiry,
		Type:         kind,
		Bid:          d.Bid,
		Ask:          d.Ask,
		Last:         d.Last,
		Volume:       d.Volume,
		OpenInterest: d.OpenInterest,
		IV:           deref(d.IV),
		IVRank:       d.IVRank,
		IVPercentile: deref(d.IVPercentile),
	}
	if d.Delta != nil && d.Theta != nil && d.Vega != nil {
		c.Greeks = &models.Greeks{
			Delta: *d.Delta,
			Theta: *d.Theta,
			Vega:  *d.Vega,
		}
		if d.Gamma != nil {
			c.Greeks.Gamma = *d.Gamma
		}
		if d.Rho != nil {
			c.Greeks.Rho = *d.Rho
		}
	}
	if d.UpdatedAt != "" {
		if t, err := time.Parse(time.RFC3339, d.UpdatedAt); err == nil {
			c.UpdatedAt = t
		}
	}

	c.Normalize(asOf)
	return c, nil
}

// decodeChain converts a wire chain, skipping malformed contracts and
// reporting how many were skipped.
func decodeChain(symbol string, dtos []contractDTO, asOf time.Time) ([]models.OptionContract, int) {
	out := make([]models.OptionContract, 0, len(dtos))
	skipped := 0
	for _, d := range dtos {
		c, err := d.toContract(symbol, asOf)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, c)
	}
	return out, skipped
}
