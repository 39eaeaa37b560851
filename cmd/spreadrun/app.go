package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/spreadrun/internal/cache"
	"github.com/sawpanic/spreadrun/internal/config"
	"github.com/sawpanic/spreadrun/internal/filters"
	httpapi "github.com/sawpanic/spreadrun/internal/interfaces/http"
	"github.com/sawpanic/spreadrun/internal/metrics"
	"github.com/sawpanic/spreadrun/internal/provider"
	"github.com/sawpanic/spreadrun/internal/scanner"
	"github.com/sawpanic/spreadrun/internal/spreads"
)

// core is the scan pipeline shared by every command
type core struct {
	metrics   *metrics.Registry
	provider  provider.DataProvider
	breaker   httpapi.BreakerReporter
	snapshots *cache.RedisSnapshotStore
	scanner   *scanner.Service
	filters   *filters.Manager
}

func newProvider(cfg config.UpstreamConfig, m *metrics.Registry) (provider.DataProvider, httpapi.BreakerReporter, error) {
	if cfg.Fixtures != "" {
		p, err := provider.LoadFixtures(cfg.Fixtures)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("file", cfg.Fixtures).Strs("symbols", p.Symbols()).Msg("Serving option chains from fixtures")
		return p, nil, nil
	}

	breaker := provider.DefaultBreakerConfig("upstream")
	if cfg.BreakerFailures > 0 {
		breaker.ConsecutiveFailures = cfg.BreakerFailures
	}
	if cfg.BreakerTimeout > 0 {
		breaker.Timeout = cfg.BreakerTimeout
	}
	p := provider.NewHTTPProvider(provider.HTTPConfig{
		BaseURL:    cfg.URL,
		Timeout:    cfg.Timeout,
		RatePerSec: cfg.RatePerSec,
		Burst:      cfg.Burst,
		Breaker:    breaker,
	}, m)
	return p, p, nil
}

func newCore(ctx context.Context, cfg *config.Config) (*core, error) {
	c := &core{metrics: metrics.NewRegistry()}

	p, breaker, err := newProvider(cfg.Upstream, c.metrics)
	if err != nil {
		return nil, err
	}
	c.provider, c.breaker = p, breaker

	c.scanner = scanner.NewService(scanner.Config{
		Concurrency:   cfg.Scanner.Concurrency,
		FilterWorkers: cfg.Scanner.FilterWorkers,
		Generator: spreads.Config{
			StrikeWindow: cfg.Scanner.StrikeWindow,
			Workers:      cfg.Scanner.GeneratorWorkers,
		},
		ResultLimit:    cfg.Scanner.ResultLimit,
		DefaultProfile: cfg.Scanner.Profile,
	}, p, cache.NewContractCache(cfg.Cache.ContractTTL), c.metrics)

	if cfg.Redis.Enabled {
		store := cache.NewRedisSnapshotStore(cfg.Redis.Addr, cfg.Redis.DB, cfg.Redis.TTL)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := store.Ping(pingCtx)
		cancel()
		if err != nil {
			// the scanner treats snapshot failures as misses
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unreachable, snapshots will miss until it recovers")
		}
		c.snapshots = store
		c.scanner.WithSnapshots(store)
	}

	presets := filters.NewPresetStore()
	if cfg.Filters.PresetFile != "" {
		n, err := presets.LoadFile(cfg.Filters.PresetFile)
		if err != nil {
			return nil, err
		}
		log.Info().Int("presets", n).Str("file", cfg.Filters.PresetFile).Msg("Loaded custom filter presets")
	}
	fm, err := filters.NewManager(presets, cfg.Filters.Preset)
	if err != nil {
		return nil, fmt.Errorf("filters.preset: %w", err)
	}
	c.filters = fm
	return c, nil
}

func (c *core) Close() {
	if c.snapshots != nil {
		if err := c.snapshots.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close redis client")
		}
	}
}
