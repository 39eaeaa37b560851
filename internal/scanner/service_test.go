package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/spreadrun/internal/cache"
	"github.com/sawpanic/spreadrun/internal/filters"
	"github.com/sawpanic/spreadrun/internal/metrics"
	"github.com/sawpanic/spreadrun/internal/models"
	"github.com/sawpanic/spreadrun/internal/provider"
)

var testExpiry = time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)

type fakeProvider struct {
	chains map[string][]models.OptionContract
	delay  time.Duration
	block  bool
	calls  int32
}

func (f *fakeProvider) GetOptionChain(ctx context.Context, symbol string) ([]models.OptionContract, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c, ok := f.chains[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", provider.ErrSymbolNotFound, symbol)
	}
	return c, nil
}

func optionChain(symbol string) []models.OptionContract {
	var out []models.OptionContract
	for i := 0; i < 7; i++ {
		strike := 90 + float64(i)*5
		callAsk := 12 - float64(i)*1.8
		putAsk := 1 + float64(i)*1.7
		out = append(out,
			models.OptionContract{
				Symbol: symbol, Strike: strike, Expiry: testExpiry, Type: models.Call,
				Bid: callAsk - 0.15, Ask: callAsk, BidAskSpread: 0.15, DTE: 30,
				Volume: 500, OpenInterest: 2000, IV: 0.3, IVPercentile: 50,
				Greeks: &models.Greeks{Delta: 0.75 - float64(i)*0.1, Theta: -0.05 + float64(i)*0.005, Vega: 0.12},
			},
			models.OptionContract{
				Symbol: symbol, Strike: strike, Expiry: testExpiry, Type: models.Put,
				Bid: putAsk - 0.15, Ask: putAsk, BidAskSpread: 0.15, DTE: 30,
				Volume: 500, OpenInterest: 2000, IV: 0.3, IVPercentile: 50,
				Greeks: &models.Greeks{Delta: -0.15 - float64(i)*0.1, Theta: -0.02 - float64(i)*0.005, Vega: 0.11},
			},
		)
	}
	return out
}

func newTestService(p provider.DataProvider) *Service {
	return NewService(DefaultConfig(), p, cache.NewContractCache(time.Minute), metrics.NewRegistry())
}

func TestScanSymbolRanksSpreads(t *testing.T) {
	p := &fakeProvider{chains: map[string][]models.OptionContract{"AAPL": optionChain("AAPL")}}
	svc := newTestService(p)

	result, err := svc.ScanSymbol(context.Background(), "aapl", Options{})
	require.NoError(t, err)

	assert.Equal(t, "AAPL", result.Symbol)
	assert.NotEmpty(t, result.ScanID)
	assert.Equal(t, 14, result.TotalContracts)
	assert.Equal(t, 14, result.FilteredContracts)
	require.NotEmpty(t, result.Spreads)
	assert.False(t, result.CacheHit)

	for i, s := range result.Spreads {
		assert.Greater(t, s.NetDebit, 0.0)
		assert.InDelta(t, s.Width, s.MaxProfit+s.MaxLoss, 1e-9)
		if i > 0 {
			assert.GreaterOrEqual(t, result.Spreads[i-1].Score, s.Score)
		}
	}
	assert.Equal(t, result.Spreads[0].Score, result.Summary.BestScore)
}

func TestScanSymbolIsDeterministicAndCached(t *testing.T) {
	p := &fakeProvider{chains: map[string][]models.OptionContract{"AAPL": optionChain("AAPL")}}
	svc := newTestService(p)

	first, err := svc.ScanSymbol(context.Background(), "AAPL", Options{})
	require.NoError(t, err)
	second, err := svc.ScanSymbol(context.Background(), "AAPL", Options{})
	require.NoError(t, err)

	assert.True(t, second.CacheHit)
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.calls))
	assert.Equal(t, first.Spreads, second.Spreads)
	assert.NotEqual(t, first.ScanID, second.ScanID)
}

func TestScanSymbolAppliesFiltersAndLimit(t *testing.T) {
	p := &fakeProvider{chains: map[string][]models.OptionContract{"AAPL": optionChain("AAPL")}}
	svc := newTestService(p)

	opts := Options{
		Filters: filters.Config{
			Delta: &filters.FloatRange{Min: 0.25, Max: 0.55},
			PoP:   &filters.FloatRange{Min: 0.40, Max: 1},
		},
		Limit: 2,
	}
	result, err := svc.ScanSymbol(context.Background(), "AAPL", opts)
	require.NoError(t, err)

	assert.Less(t, result.FilteredContracts, result.TotalContracts)
	assert.LessOrEqual(t, len(result.Spreads), 2)
	for _, s := range result.Spreads {
		assert.GreaterOrEqual(t, s.PoP, 0.40)
	}
}

func TestScanSymbolRejectsBadInput(t *testing.T) {
	svc := newTestService(&fakeProvider{})

	_, err := svc.ScanSymbol(context.Background(), "not a symbol", Options{})
	assert.ErrorIs(t, err, provider.ErrInvalidSymbol)

	_, err = svc.ScanSymbol(context.Background(), "AAPL", Options{
		Filters: filters.Config{DTE: &filters.IntRange{Min: 60, Max: 10}},
	})
	assert.ErrorIs(t, err, filters.ErrInvalidConfig)

	_, err = svc.ScanSymbol(context.Background(), "AAPL", Options{Profile: "yolo"})
	assert.Error(t, err)
}

func TestScanSymbolCancellationIsDistinct(t *testing.T) {
	svc := newTestService(&fakeProvider{block: true})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := svc.ScanSymbol(ctx, "AAPL", Options{})
	require.Error(t, err)
	assert.True(t, IsCancellation(err))
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = newTestService(&fakeProvider{}).ScanSymbol(context.Background(), "MSFT", Options{})
	require.Error(t, err)
	assert.False(t, IsCancellation(err))
	assert.ErrorIs(t, err, provider.ErrSymbolNotFound)

	var scanErr *ScanError
	require.True(t, errors.As(err, &scanErr))
	assert.Equal(t, "MSFT", scanErr.Symbol)
}

func TestScanMultiplePartialFailure(t *testing.T) {
	p := &fakeProvider{chains: map[string][]models.OptionContract{"AAPL": optionChain("AAPL")}}
	svc := newTestService(p)

	batch, err := svc.ScanMultiple(context.Background(), []string{"AAPL", "BADSYM"}, Options{})
	require.NoError(t, err)

	require.Len(t, batch.Results, 1)
	assert.Equal(t, "AAPL", batch.Results[0].Symbol)
	require.Len(t, batch.Errors, 1)
	assert.Equal(t, "BADSYM", batch.Errors[0].Symbol)
	assert.False(t, batch.Errors[0].Cancelled)
	assert.ErrorIs(t, batch.Errors[0].Err, provider.ErrSymbolNotFound)
}

func TestScanMultiplePreservesOrderAndDedupes(t *testing.T) {
	chains := map[string][]models.OptionContract{}
	symbols := []string{"SPY", "QQQ", "IWM", "AAPL", "MSFT", "NVDA", "TSLA", "AMZN"}
	for _, s := range symbols {
		chains[s] = optionChain(s)
	}
	svc := newTestService(&fakeProvider{chains: chains, delay: 5 * time.Millisecond})

	batch, err := svc.ScanMultiple(context.Background(), append(symbols, "spy"), Options{})
	require.NoError(t, err)
	require.Len(t, batch.Results, len(symbols))
	assert.Empty(t, batch.Errors)
	for i, s := range symbols {
		assert.Equal(t, s, batch.Results[i].Symbol)
	}
}

func TestScanMultipleBoundedConcurrency(t *testing.T) {
	var inFlight, peak int32
	chains := map[string][]models.OptionContract{}
	var symbols []string
	for i := 0; i < 12; i++ {
		s := fmt.Sprintf("SYM%d", i)
		symbols = append(symbols, s)
		chains[s] = optionChain(s)
	}
	p := &trackingProvider{inner: &fakeProvider{chains: chains, delay: 10 * time.Millisecond}, inFlight: &inFlight, peak: &peak}

	cfg := DefaultConfig()
	cfg.Concurrency = 3
	svc := NewService(cfg, p, nil, nil)

	batch, err := svc.ScanMultiple(context.Background(), symbols, Options{})
	require.NoError(t, err)
	assert.Len(t, batch.Results, 12)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

type trackingProvider struct {
	inner    *fakeProvider
	inFlight *int32
	peak     *int32
}

func (t *trackingProvider) GetOptionChain(ctx context.Context, symbol string) ([]models.OptionContract, error) {
	n := atomic.AddInt32(t.inFlight, 1)
	defer atomic.AddInt32(t.inFlight, -1)
	for {
		p := atomic.LoadInt32(t.peak)
		if n <= p || atomic.CompareAndSwapInt32(t.peak, p, n) {
			break
		}
	}
	return t.inner.GetOptionChain(ctx, symbol)
}

func TestScanMultipleCancelled(t *testing.T) {
	svc := newTestService(&fakeProvider{block: true})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	batch, err := svc.ScanMultiple(ctx, []string{"AAPL", "MSFT", "SPY", "QQQ", "IWM", "DIA", "TLT"}, Options{})
	require.NoError(t, err)
	assert.Empty(t, batch.Results)
	require.Len(t, batch.Errors, 7)
	for _, e := range batch.Errors {
		assert.True(t, e.Cancelled, e.Symbol)
	}
}

func TestScanMultipleInvalidOptions(t *testing.T) {
	svc := newTestService(&fakeProvider{})
	_, err := svc.ScanMultiple(context.Background(), []string{"AAPL"}, Options{
		Filters: filters.Config{PoP: &filters.FloatRange{Min: 0.9, Max: 0.1}},
	})
	assert.ErrorIs(t, err, filters.ErrInvalidConfig)
}

func TestConcurrentScansShareOneFetch(t *testing.T) {
	p := &fakeProvider{chains: map[string][]models.OptionContract{"AAPL": optionChain("AAPL")}, delay: 50 * time.Millisecond}
	svc := newTestService(p)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ScanSymbol(context.Background(), "AAPL", Options{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.calls))
}

type memSnapshots struct {
	data  map[string][]models.OptionContract
	saves int
}

func (m *memSnapshots) Load(ctx context.Context, symbol string) ([]models.OptionContract, bool, error) {
	c, ok := m.data[symbol]
	return c, ok, nil
}

func (m *memSnapshots) Save(ctx context.Context, symbol string, contracts []models.OptionContract) error {
	m.data[symbol] = contracts
	m.saves++
	return nil
}

func TestSnapshotStoreServesMisses(t *testing.T) {
	snaps := &memSnapshots{data: map[string][]models.OptionContract{"SPY": optionChain("SPY")}}
	p := &fakeProvider{chains: map[string][]models.OptionContract{"AAPL": optionChain("AAPL")}}
	svc := newTestService(p).WithSnapshots(snaps)

	_, err := svc.ScanSymbol(context.Background(), "SPY", Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&p.calls), "snapshot hit skips the provider")

	_, err = svc.ScanSymbol(context.Background(), "AAPL", Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.calls))
	assert.Equal(t, 1, snaps.saves)
}
