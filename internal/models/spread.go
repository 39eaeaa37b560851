package models

import (
	"fmt"
	"time"
)

// SpreadType is the premium direction of a vertical
type SpreadType string

// Debit: every generated vertical prices as longAsk - shortBid > 0
const Debit SpreadType = "DEBIT"

// Strategy names the vertical construction
type Strategy string

const (
	BullCall Strategy = "bull_call"
	BearPut  Strategy = "bear_put"
)

// ContractMultiplier converts per-share premiums into per-contract dollars
const ContractMultiplier = 100

// VerticalSpread pairs two contracts of the same underlying, expiry and type
type VerticalSpread struct {
	ID         string         `json:"id"`
	Symbol     string         `json:"symbol"`
	Expiry     time.Time      `json:"expiry"`
	OptionType OptionType     `json:"option_type"`
	Strategy   Strategy       `json:"strategy"`
	Type       SpreadType     `json:"spread_type"`
	Long       OptionContract `json:"long_leg"`
	Short      OptionContract `json:"short_leg"`

	Width     float64 `json:"width"`
	NetDebit  float64 `json:"net_debit"`
	MaxProfit float64 `json:"max_profit"`
	MaxLoss   float64 `json:"max_loss"`
	Breakeven float64 `json:"breakeven"`
	PoP       float64 `json:"probability_of_profit"`

	NetDelta float64 `json:"net_delta"`
	NetTheta float64 `json:"net_theta"`
	NetVega  float64 `json:"net_vega"`

	Score float64 `json:"score"`
}

// SpreadID is stable for the same symbol, expiry, type and strikes
func SpreadID(symbol string, expiry time.Time, t OptionType, longStrike, shortStrike float64) string {
	return fmt.Sprintf("%s-%s-%s-%.2f-%.2f", symbol, expiry.Format("20060102"), t, longStrike, shortStrike)
}

// RiskReward is max profit over max loss; zero when max loss is zero
func (s *VerticalSpread) RiskReward() float64 {
	if s.MaxLoss <= 0 {
		return 0
	}
	return s.MaxProfit / s.MaxLoss
}

// DTE of the spread, taken from the long leg
func (s *VerticalSpread) DTE() int {
	return s.Long.DTE
}

// RiskDollars is the per-contract dollar max loss
func (s *VerticalSpread) RiskDollars() float64 {
	return s.MaxLoss * ContractMultiplier
}

// AvgBidAsk averages the quoted bid-ask width of both legs
func (s *VerticalSpread) AvgBidAsk() float64 {
	return (s.Long.BidAskSpread + s.Short.BidAskSpread) / 2
}
