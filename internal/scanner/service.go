package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/sawpanic/spreadrun/internal/cache"
	"github.com/sawpanic/spreadrun/internal/filters"
	"github.com/sawpanic/spreadrun/internal/metrics"
	"github.com/sawpanic/spreadrun/internal/models"
	"github.com/sawpanic/spreadrun/internal/provider"
	"github.com/sawpanic/spreadrun/internal/scoring"
	"github.com/sawpanic/spreadrun/internal/spreads"
)

// Config sizes the scan pipeline
type Config struct {
	Concurrency    int
	FilterWorkers  int
	Generator      spreads.Config
	ResultLimit    int
	DefaultProfile string
}

// DefaultConfig matches the documented defaults
func DefaultConfig() Config {
	return Config{
		Concurrency:    5,
		FilterWorkers:  4,
		Generator:      spreads.DefaultConfig(),
		ResultLimit:    50,
		DefaultProfile: "default",
	}
}

// Options carry per-request scan parameters
type Options struct {
	Filters filters.Config
	Profile string
	Limit   int
}

// Service runs the scan pipeline: fetch or cache, contract filter, generate,
// spread filter, score, rank, portfolio caps, truncate.
type Service struct {
	provider  provider.DataProvider
	contracts *cache.ContractCache
	snapshots cache.SnapshotStore
	generator *spreads.Generator
	metrics   *metrics.Registry
	config    Config
	fetches   singleflight.Group
}

// NewService wires a scanner around a data provider and its chain cache
func NewService(cfg Config, p provider.DataProvider, contracts *cache.ContractCache, m *metrics.Registry) *Service {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.ResultLimit < 1 {
		cfg.ResultLimit = DefaultConfig().ResultLimit
	}
	if cfg.DefaultProfile == "" {
		cfg.DefaultProfile = "default"
	}
	if contracts == nil {
		contracts = cache.NewContractCache(0)
	}
	return &Service{
		provider:  p,
		contracts: contracts,
		generator: spreads.NewGenerator(cfg.Generator),
		metrics:   m,
		config:    cfg,
	}
}

// WithSnapshots adds a shared snapshot store consulted on local cache misses
func (s *Service) WithSnapshots(store cache.SnapshotStore) *Service {
	s.snapshots = store
	return s
}

// Cache exposes the chain cache
func (s *Service) Cache() *cache.ContractCache {
	return s.contracts
}

// Config returns the service configuration
func (s *Service) Config() Config {
	return s.config
}

func (s *Service) prepare(opts Options) (*filters.Chain, *scoring.Scorer, int, error) {
	chain, err := filters.NewChain(opts.Filters, s.config.FilterWorkers)
	if err != nil {
		return nil, nil, 0, err
	}
	profile := opts.Profile
	if profile == "" {
		profile = s.config.DefaultProfile
	}
	scorer, err := scoring.NewScorer(profile)
	if err != nil {
		return nil, nil, 0, err
	}
	limit := opts.Limit
	if limit <= 0 || limit > s.config.ResultLimit {
		limit = s.config.ResultLimit
	}
	return chain, scorer, limit, nil
}

// ValidateOptions checks filters and profile without scanning
func (s *Service) ValidateOptions(opts Options) error {
	_, _, _, err := s.prepare(opts)
	return err
}

// ScanSymbol scans one symbol. Cancellation discards partial work and
// returns an error matching ErrCancelled.
func (s *Service) ScanSymbol(ctx context.Context, symbol string, opts Options) (*models.ScanResult, error) {
	sym, err := provider.NormalizeSymbol(symbol)
	if err != nil {
		return nil, &ScanError{Symbol: symbol, Err: err}
	}
	chain, scorer, limit, err := s.prepare(opts)
	if err != nil {
		return nil, &ScanError{Symbol: sym, Err: err}
	}

	s.metrics.ScanStarted()
	defer s.metrics.ScanFinished()
	start := time.Now()

	result, err := s.run(ctx, sym, chain, scorer, limit)
	if err != nil {
		status := "error"
		if IsCancellation(err) {
			status = "cancelled"
		}
		s.metrics.RecordScan(status, time.Since(start))
		return nil, err
	}

	result.Duration = time.Since(start)
	s.metrics.RecordScan("ok", result.Duration)

	log.Debug().
		Str("symbol", sym).
		Str("scan_id", result.ScanID).
		Int("contracts", result.TotalContracts).
		Int("filtered", result.FilteredContracts).
		Int("candidates", result.CandidateSpreads).
		Int("ranked", len(result.Spreads)).
		Dur("duration", result.Duration).
		Msg("Symbol scanned")
	return result, nil
}

func (s *Service) run(ctx context.Context, sym string, chain *filters.Chain, scorer *scoring.Scorer, limit int) (*models.ScanResult, error) {
	timer := s.metrics.StartStepTimer("fetch")
	contracts, hit, err := s.chainFor(ctx, sym)
	if err != nil {
		timer.Stop("error")
		if isContextErr(err) {
			return nil, cancelled(sym, err)
		}
		return nil, &ScanError{Symbol: sym, Err: err}
	}
	timer.Stop("ok")
	s.metrics.RecordContracts("fetched", len(contracts))

	timer = s.metrics.StartStepTimer("contract_filter")
	filtered := chain.ApplyToContracts(contracts)
	timer.Stop("ok")
	s.metrics.RecordContracts("filtered", len(filtered))
	if err := ctx.Err(); err != nil {
		return nil, cancelled(sym, err)
	}

	timer = s.metrics.StartStepTimer("generate")
	candidates, err := s.generator.Generate(ctx, filtered)
	if err != nil {
		timer.Stop("error")
		return nil, cancelled(sym, err)
	}
	timer.Stop("ok")
	s.metrics.RecordSpreads("generated", len(candidates))

	timer = s.metrics.StartStepTimer("rank")
	passed := chain.ApplyToSpreads(candidates)
	ranked := chain.ApplyPortfolio(scorer.Rank(passed))
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	timer.Stop("ok")
	s.metrics.RecordSpreads("ranked", len(ranked))

	if err := ctx.Err(); err != nil {
		return nil, cancelled(sym, err)
	}

	return &models.ScanResult{
		ScanID:            uuid.New().String(),
		Timestamp:         time.Now().UTC(),
		Symbol:            sym,
		Spreads:           ranked,
		TotalContracts:    len(contracts),
		FilteredContracts: len(filtered),
		CandidateSpreads:  len(candidates),
		CacheHit:          hit,
		Summary:           scoring.Summarize(ranked),
	}, nil
}

// chainFor serves a chain from the local cache, the shared snapshot store,
// or the provider, collapsing concurrent fetches of the same symbol.
func (s *Service) chainFor(ctx context.Context, sym string) ([]models.OptionContract, bool, error) {
	if contracts, ok := s.contracts.Get(sym); ok {
		s.metrics.RecordCacheHit("contracts")
		return contracts, true, nil
	}
	s.metrics.RecordCacheMiss("contracts")

	ch := s.fetches.DoChan(sym, func() (interface{}, error) {
		return s.fetch(ctx, sym)
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			// a joined flight may have failed on another caller's cancellation
			if isContextErr(res.Err) && ctx.Err() == nil {
				contracts, err := s.fetch(ctx, sym)
				return contracts, false, err
			}
			return nil, false, res.Err
		}
		return res.Val.([]models.OptionContract), false, nil
	}
}

func (s *Service) fetch(ctx context.Context, sym string) ([]models.OptionContract, error) {
	if s.snapshots != nil {
		contracts, ok, err := s.snapshots.Load(ctx, sym)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("symbol", sym).Msg("Snapshot load failed, falling back to provider")
		case ok:
			s.metrics.RecordCacheHit("snapshots")
			s.contracts.Set(sym, contracts)
			return contracts, nil
		default:
			s.metrics.RecordCacheMiss("snapshots")
		}
	}

	contracts, err := s.provider.GetOptionChain(ctx, sym)
	if err != nil {
		return nil, err
	}
	s.contracts.Set(sym, contracts)

	if s.snapshots != nil {
		if err := s.snapshots.Save(ctx, sym, contracts); err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("Snapshot save failed")
		}
	}
	return contracts, nil
}

// SymbolError reports one failed symbol in a batch
type SymbolError struct {
	Symbol    string `json:"symbol"`
	Error     string `json:"error"`
	Cancelled bool   `json:"cancelled,omitempty"`
	Err       error  `json:"-"`
}

// BatchResult pairs successful results with per-symbol failures, both in
// input order.
type BatchResult struct {
	Results []*models.ScanResult `json:"results"`
	Errors  []SymbolError        `json:"errors"`
}

// ScanMultiple scans symbols on a semaphore-bounded pool. A failing symbol
// never aborts the others. Only invalid options fail the whole batch.
func (s *Service) ScanMultiple(ctx context.Context, symbols []string, opts Options) (*BatchResult, error) {
	if _, _, _, err := s.prepare(opts); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(symbols))
	unique := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		norm, err := provider.NormalizeSymbol(sym)
		if err != nil {
			norm = sym
		}
		if !seen[norm] {
			seen[norm] = true
			unique = append(unique, norm)
		}
	}

	type slot struct {
		result *models.ScanResult
		err    error
	}
	slots := make([]slot, len(unique))
	sem := semaphore.NewWeighted(int64(s.config.Concurrency))
	var wg sync.WaitGroup

	for i, sym := range unique {
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(unique); j++ {
				slots[j].err = cancelled(unique[j], err)
			}
			break
		}
		wg.Add(1)
		go func(i int, sym string) {
			defer wg.Done()
			defer sem.Release(1)
			res, err := s.ScanSymbol(ctx, sym, opts)
			slots[i] = slot{result: res, err: err}
		}(i, sym)
	}
	wg.Wait()

	batch := &BatchResult{
		Results: make([]*models.ScanResult, 0, len(unique)),
		Errors:  []SymbolError{},
	}
	for i, sl := range slots {
		if sl.err != nil {
			batch.Errors = append(batch.Errors, SymbolError{
				Symbol:    unique[i],
				Error:     sl.err.Error(),
				Cancelled: IsCancellation(sl.err),
				Err:       sl.err,
			})
			continue
		}
		batch.Results = append(batch.Results, sl.result)
	}

	log.Info().
		Int("symbols", len(unique)).
		Int("succeeded", len(batch.Results)).
		Int("failed", len(batch.Errors)).
		Msg("Batch scan complete")
	return batch, nil
}
