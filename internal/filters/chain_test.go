package filters

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/spreadrun/internal/models"
)

func contract(strike, delta float64, dte int) models.OptionContract {
	return models.OptionContract{
		Symbol:       "AAPL",
		Strike:       strike,
		Type:         models.Call,
		Bid:          1.00,
		Ask:          1.10,
		BidAskSpread: 0.10,
		Volume:       500,
		OpenInterest: 1000,
		IV:           0.35,
		IVPercentile: 55,
		DTE:          dte,
		Greeks:       &models.Greeks{Delta: delta, Theta: -0.04, Vega: 0.12},
	}
}

func strikes(cs []models.OptionContract) []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Strike
	}
	return out
}

func TestDeltaFilterScenario(t *testing.T) {
	chain, err := NewChain(Config{Delta: fr(0.25, 0.35)}, 1)
	require.NoError(t, err)

	in := []models.OptionContract{
		contract(100, 0.20, 30),
		contract(105, 0.30, 30),
		contract(110, 0.40, 30),
	}
	out := chain.ApplyToContracts(in)
	require.Len(t, out, 1)
	assert.Equal(t, 0.30, out[0].Greeks.Delta)
}

func TestDeltaFilterUsesAbsoluteDelta(t *testing.T) {
	chain, err := NewChain(Config{Delta: fr(0.25, 0.35)}, 1)
	require.NoError(t, err)

	put := contract(95, -0.30, 30)
	put.Type = models.Put
	assert.Len(t, chain.ApplyToContracts([]models.OptionContract{put}), 1)
}

func TestMissingGreeksFailClosed(t *testing.T) {
	noGreeks := contract(100, 0, 30)
	noGreeks.Greeks = nil
	nanGreeks := contract(105, math.NaN(), 30)

	for _, cfg := range []Config{
		{Delta: fr(0, 1)},
		{Theta: fr(0, 1)},
		{Vega: fr(0, 1)},
	} {
		chain, err := NewChain(cfg, 1)
		require.NoError(t, err)
		assert.Empty(t, chain.ApplyToContracts([]models.OptionContract{noGreeks, nanGreeks}))
	}

	// non-Greek filters still evaluate normally
	chain, err := NewChain(Config{DTE: ir(0, 60)}, 1)
	require.NoError(t, err)
	assert.Len(t, chain.ApplyToContracts([]models.OptionContract{noGreeks}), 1)
}

func TestContractFilters(t *testing.T) {
	base := contract(100, 0.30, 30)

	tests := []struct {
		name   string
		cfg    Config
		mutate func(*models.OptionContract)
		pass   bool
	}{
		{"dte inside", Config{DTE: ir(20, 45)}, nil, true},
		{"dte outside", Config{DTE: ir(31, 45)}, nil, false},
		{"volume below", Config{Liquidity: &LiquidityConfig{MinVolume: 600}}, nil, false},
		{"open interest ok", Config{Liquidity: &LiquidityConfig{MinOpenInterest: 1000}}, nil, true},
		{"bid ask too wide", Config{Liquidity: &LiquidityConfig{MaxBidAsk: 0.05}}, nil, false},
		{"bid ask cap disabled", Config{Liquidity: &LiquidityConfig{}}, func(c *models.OptionContract) { c.BidAskSpread = 5 }, true},
		{"iv inside", Config{IV: fr(0.30, 1.0)}, nil, true},
		{"iv nan", Config{IV: fr(0, 1.0)}, func(c *models.OptionContract) { c.IV = math.NaN() }, false},
		{"iv percentile outside", Config{IVPercentile: fr(70, 100)}, nil, false},
		{"theta absolute", Config{Theta: fr(0.02, 0.10)}, nil, true},
		{"theta positive", Config{Theta: fr(0.02, 0.10)}, func(c *models.OptionContract) { c.Greeks.Theta = 0.04 }, true},
		{"theta magnitude too small", Config{Theta: fr(0.05, 0.10)}, nil, false},
		{"vega outside", Config{Vega: fr(0.15, 0.20)}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			c.Greeks = &models.Greeks{Delta: 0.30, Theta: -0.04, Vega: 0.12}
			if tt.mutate != nil {
				tt.mutate(&c)
			}
			chain, err := NewChain(tt.cfg, 1)
			require.NoError(t, err)
			out := chain.ApplyToContracts([]models.OptionContract{c})
			assert.Equal(t, tt.pass, len(out) == 1)
		})
	}
}

func TestFilterCommutativity(t *testing.T) {
	cfg := Config{
		Delta:        fr(0.15, 0.45),
		DTE:          ir(10, 50),
		Liquidity:    &LiquidityConfig{MinVolume: 100, MinOpenInterest: 200, MaxBidAsk: 0.25},
		IV:           fr(0.2, 0.8),
		IVPercentile: fr(20, 90),
		Theta:        fr(0.01, 0.08),
		Vega:         fr(0.05, 0.25),
	}
	chain, err := NewChain(cfg, 1)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	in := make([]models.OptionContract, 500)
	for i := range in {
		c := contract(float64(50+i), rng.Float64()*0.6, rng.Intn(70))
		c.Volume = int64(rng.Intn(400))
		c.OpenInterest = int64(rng.Intn(800))
		c.BidAskSpread = rng.Float64() * 0.4
		c.IV = rng.Float64()
		c.IVPercentile = rng.Float64() * 100
		c.Greeks.Theta = -rng.Float64() * 0.1
		c.Greeks.Vega = rng.Float64() * 0.3
		if i%17 == 0 {
			c.Greeks = nil
		}
		in[i] = c
	}

	want := strikes(chain.ApplyToContracts(in))
	require.NotEmpty(t, want)

	for i := 0; i < 20; i++ {
		rng.Shuffle(len(chain.contracts), func(a, b int) {
			chain.contracts[a], chain.contracts[b] = chain.contracts[b], chain.contracts[a]
		})
		assert.Equal(t, want, strikes(chain.ApplyToContracts(in)))
	}
}

func TestParallelApplyPreservesOrder(t *testing.T) {
	in := make([]models.OptionContract, 2000)
	for i := range in {
		in[i] = contract(float64(i), 0.3, i%90)
	}

	sequential, err := NewChain(Config{DTE: ir(10, 40)}, 1)
	require.NoError(t, err)
	parallel, err := NewChain(Config{DTE: ir(10, 40)}, 8)
	require.NoError(t, err)

	want := strikes(sequential.ApplyToContracts(in))
	got := strikes(parallel.ApplyToContracts(in))
	assert.Equal(t, want, got)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1], got[i])
	}
}

func TestCheapFiltersRunFirst(t *testing.T) {
	chain, err := NewChain(Config{
		Delta:     fr(0.1, 0.5),
		Liquidity: &LiquidityConfig{MinVolume: 1},
		DTE:       ir(1, 90),
		IV:        fr(0, 2),
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"delta", "dte", "iv", "liquidity"}, chain.ContractFilters())
}

func spread(id string, width, debit, pop float64, expiry time.Time) models.VerticalSpread {
	return models.VerticalSpread{
		ID:        id,
		Expiry:    expiry,
		Width:     width,
		NetDebit:  debit,
		MaxProfit: width - debit,
		MaxLoss:   debit,
		PoP:       pop,
		NetDelta:  0.15,
	}
}

func TestSpreadFilters(t *testing.T) {
	exp := time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)
	in := []models.VerticalSpread{
		spread("a", 5, 2.40, 0.65, exp),
		spread("b", 10, 4.00, 0.55, exp),
		spread("c", 5, 1.00, 0.80, exp),
	}

	chain, err := NewChain(Config{SpreadWidth: fr(0, 5), PoP: fr(0.60, 0.90)}, 1)
	require.NoError(t, err)
	out := chain.ApplyToSpreads(in)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "c", out[1].ID)

	rr, err := NewChain(Config{RiskReward: fr(2, 10)}, 1)
	require.NoError(t, err)
	out = rr.ApplyToSpreads(in)
	require.Len(t, out, 1)
	assert.Equal(t, "c", out[0].ID)

	maxDelta := 0.1
	nd, err := NewChain(Config{MaxNetDelta: &maxDelta}, 1)
	require.NoError(t, err)
	assert.Empty(t, nd.ApplyToSpreads(in))
}

func TestApplyPortfolio(t *testing.T) {
	feb := time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	ranked := []models.VerticalSpread{
		spread("s1", 5, 2.00, 0.7, feb), // $200
		spread("s2", 5, 4.00, 0.7, feb), // $400
		spread("s3", 5, 1.00, 0.7, mar), // $100
		spread("s4", 5, 1.50, 0.7, mar), // $150
	}
	ids := func(s []models.VerticalSpread) []string {
		out := make([]string, len(s))
		for i := range s {
			out[i] = s[i].ID
		}
		return out
	}

	tests := []struct {
		name string
		cfg  PortfolioConfig
		want []string
	}{
		{"max positions", PortfolioConfig{MaxPositions: 2}, []string{"s1", "s2"}},
		{"risk limit skips oversized", PortfolioConfig{RiskLimit: 450}, []string{"s1", "s3", "s4"}},
		{"per expiry", PortfolioConfig{MaxPerExpiry: 1}, []string{"s1", "s3"}},
		{"no caps", PortfolioConfig{}, []string{"s1", "s2", "s3", "s4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			chain, err := NewChain(Config{Portfolio: &cfg}, 1)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(chain.ApplyPortfolio(ranked)))
		})
	}

	chain, err := NewChain(Config{}, 1)
	require.NoError(t, err)
	assert.Len(t, chain.ApplyPortfolio(ranked), 4)
}
