package provider

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/spreadrun/internal/metrics"
	"github.com/sawpanic/spreadrun/internal/models"
)

const chainJSON = `{
  "symbol": "AAPL",
  "contracts": [
    {"symbol": "AAPL", "strike": 100, "expiry": "2026-02-20", "type": "C", "bid": 4.40, "ask": 4.60,
     "volume": 1200, "open_interest": 5400, "delta": 0.35, "gamma": 0.04, "theta": -0.03, "vega": 0.11,
     "iv": 0.31, "iv_percentile": 55},
    {"symbol": "AAPL", "strike": 105, "expiry": "2026-02-20", "type": "call", "bid": 2.20, "ask": 2.35,
     "volume": 800, "open_interest": 3100, "theta": -0.02, "vega": 0.10},
    {"symbol": "AAPL", "strike": 110, "expiry": "next friday", "type": "C", "bid": 1.0, "ask": 1.1}
  ]
}`

func testProvider(t *testing.T, url string) *HTTPProvider {
	t.Helper()
	p := NewHTTPProvider(HTTPConfig{
		BaseURL:    url,
		Timeout:    2 * time.Second,
		RatePerSec: 1000,
		Burst:      100,
		Breaker:    DefaultBreakerConfig("test"),
	}, metrics.NewRegistry())
	p.now = func() time.Time { return time.Date(2026, 1, 21, 0, 0, 0, 0, time.UTC) }
	return p
}

func TestHTTPProviderDecodesChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/options/AAPL/chain", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chainJSON))
	}))
	defer srv.Close()

	contracts, err := testProvider(t, srv.URL).GetOptionChain(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Len(t, contracts, 2, "malformed expiry is skipped")

	first := contracts[0]
	assert.Equal(t, models.Call, first.Type)
	assert.Equal(t, 30, first.DTE)
	assert.InDelta(t, 0.20, first.BidAskSpread, 1e-9)
	require.True(t, first.HasGreeks())
	assert.Equal(t, 0.35, first.Greeks.Delta)
	assert.Equal(t, "AAPL", first.Underlying)

	second := contracts[1]
	assert.Nil(t, second.Greeks, "greeks need delta, theta and vega")
	assert.True(t, math.IsNaN(second.IV))
}

func TestHTTPProviderNotFoundDoesNotTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such symbol", http.StatusNotFound)
	}))
	defer srv.Close()

	p := testProvider(t, srv.URL)
	for i := 0; i < 8; i++ {
		_, err := p.GetOptionChain(context.Background(), "BADSYM")
		assert.ErrorIs(t, err, ErrSymbolNotFound)
	}
	assert.Equal(t, "closed", p.Status().State)
}

func TestHTTPProviderBreakerOpens(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := testProvider(t, srv.URL)
	for i := 0; i < 5; i++ {
		_, err := p.GetOptionChain(context.Background(), "AAPL")
		assert.ErrorIs(t, err, ErrUpstream)
	}

	_, err := p.GetOptionChain(context.Background(), "AAPL")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(5), atomic.LoadInt32(&hits), "open circuit short-circuits upstream")
	assert.Equal(t, "open", p.Status().State)
}

func TestHTTPProviderHonoursDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := testProvider(t, srv.URL).GetOptionChain(ctx, "AAPL")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"aapl", "AAPL", true},
		{" spy ", "SPY", true},
		{"BRK.B", "BRK.B", true},
		{"", "", false},
		{"1ABC", "", false},
		{"WAYTOOLONGSYM", "", false},
		{"AA PL", "", false},
	}
	for _, tt := range tests {
		got, err := NormalizeSymbol(tt.in)
		if tt.ok {
			require.NoError(t, err, tt.in)
			assert.Equal(t, tt.want, got)
		} else {
			assert.ErrorIs(t, err, ErrInvalidSymbol, tt.in)
		}
	}
}
