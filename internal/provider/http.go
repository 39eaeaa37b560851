package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sawpanic/spreadrun/internal/metrics"
	"github.com/sawpanic/spreadrun/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HTTPConfig configures the upstream chain endpoint
type HTTPConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
	Breaker    BreakerConfig
}

// HTTPProvider fetches chains from GET {base}/v1/options/{symbol}/chain,
// rate limited and behind a circuit breaker.
type HTTPProvider struct {
	baseURL    string
	client     *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	breakerCfg BreakerConfig
	metrics    *metrics.Registry
	now        func() time.Time
}

// NewHTTPProvider creates an upstream client
func NewHTTPProvider(cfg HTTPConfig, m *metrics.Registry) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker = DefaultBreakerConfig("upstream")
	}

	p := &HTTPProvider{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		client:     &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		breakerCfg: cfg.Breaker,
		metrics:    m,
		now:        time.Now,
	}
	p.breaker = newBreaker(cfg.Breaker, func(to gobreaker.State) {
		m.SetBreakerState(stateValue(to))
	})
	return p
}

// GetOptionChain fetches and normalizes a symbol's chain
func (p *HTTPProvider) GetOptionChain(ctx context.Context, symbol string) ([]models.OptionContract, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		p.metrics.RecordUpstream("rate_limited", 0)
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.fetch(ctx, symbol)
	})
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			p.metrics.RecordUpstream("rejected", 0)
			return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, symbol)
		}
		p.metrics.RecordUpstream("error", elapsed)
		return nil, err
	}

	p.metrics.RecordUpstream("ok", elapsed)
	return result.([]models.OptionContract), nil
}

func (p *HTTPProvider) fetch(ctx context.Context, symbol string) ([]models.OptionContract, error) {
	endpoint := fmt.Sprintf("%s/v1/options/%s/chain", p.baseURL, url.PathEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "spreadrun/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("fetch %s: %w", symbol, ctxErr)
		}
		return nil, fmt.Errorf("%w: fetch %s: %v", ErrUpstream, symbol, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrUpstream, symbol, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var chain chainDTO
	if err := json.NewDecoder(resp.Body).Decode(&chain); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrUpstream, symbol, err)
	}

	contracts, skipped := decodeChain(symbol, chain.Contracts, p.now())
	if skipped > 0 {
		log.Warn().
			Str("symbol", symbol).
			Int("skipped", skipped).
			Msg("Skipped malformed contracts")
	}
	return contracts, nil
}

// Status reports the upstream circuit
func (p *HTTPProvider) Status() BreakerStatus {
	return breakerStatus(p.breaker, p.breakerCfg)
}
