package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/spreadrun/internal/cache"
	"github.com/sawpanic/spreadrun/internal/filters"
	"github.com/sawpanic/spreadrun/internal/metrics"
	"github.com/sawpanic/spreadrun/internal/models"
	"github.com/sawpanic/spreadrun/internal/scanner"
)

var (
	ErrAlreadyRunning = errors.New("continuous scanning already running")
	ErrNotRunning     = errors.New("continuous scanning not running")
	ErrQueueFull      = errors.New("scan request queue full")
	ErrNoSymbols      = errors.New("no symbols to scan")
	ErrBroadcastFull  = errors.New("broadcast queue full")
)

// ScanService is the scanner surface the streaming layer drives
type ScanService interface {
	ScanMultiple(ctx context.Context, symbols []string, opts scanner.Options) (*scanner.BatchResult, error)
}

// FilterSource supplies the live filter config for each cycle
type FilterSource interface {
	Current() filters.Config
}

// Publisher receives deduplicated results and lifecycle status
type Publisher interface {
	PublishResult(update ScanUpdate) error
	PublishStatus(status, message string, data map[string]interface{}) error
	PublishError(symbol string, err error) error
}

// ResultObserver sees every published result (alerting, history)
type ResultObserver interface {
	ObserveResult(ctx context.Context, result *models.ScanResult)
}

// ContinuousConfig sets loop timing and queue sizing
type ContinuousConfig struct {
	Interval          time.Duration
	MinRescanInterval time.Duration
	RequestQueue      int
	ResultTTL         time.Duration
	Profile           string
	Limit             int
}

// DefaultContinuousConfig returns a 5s cycle, 1s minimum rescan and a
// 100-request queue
func DefaultContinuousConfig() ContinuousConfig {
	return ContinuousConfig{
		Interval:          5 * time.Second,
		MinRescanInterval: time.Second,
		RequestQueue:      100,
		ResultTTL:         5 * time.Minute,
	}
}

// Request is an ad-hoc scan submitted to the queue. A nil Filters uses the
// live config.
type Request struct {
	ID      string
	Symbols []string
	Filters *filters.Config
	Profile string
	Limit   int
	reply   chan Response
}

// Response answers a Request
type Response struct {
	RequestID string               `json:"request_id"`
	Batch     *scanner.BatchResult `json:"batch,omitempty"`
	Err       error                `json:"-"`
}

// Status is a snapshot of the continuous scanner
type Status struct {
	Running      bool      `json:"running"`
	Symbols      []string  `json:"symbols"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	Cycles       int64     `json:"cycles"`
	Scans        int64     `json:"scans"`
	Published    int64     `json:"published"`
	Unchanged    int64     `json:"unchanged"`
	Errors       int64     `json:"errors"`
	QueuedAdHoc  int       `json:"queued_requests"`
	IntervalSecs float64   `json:"interval_seconds"`
}

// ContinuousScanner rescans a symbol set on an interval, publishing only
// results whose content changed, and serves queued ad-hoc requests.
type ContinuousScanner struct {
	scanner   ScanService
	filters   FilterSource
	publisher Publisher
	observers []ResultObserver
	results   *cache.ResultCache
	metrics   *metrics.Registry
	config    ContinuousConfig
	now       func() time.Time

	mutex     sync.RWMutex
	running   bool
	symbols   []string
	lastScan  map[string]time.Time
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	requests chan Request

	cycles    int64
	scans     int64
	published int64
	unchanged int64
	errors    int64
}

// NewContinuousScanner wires the loop to a scanner, filter source and publisher
func NewContinuousScanner(cfg ContinuousConfig, svc ScanService, fs FilterSource, pub Publisher, m *metrics.Registry) *ContinuousScanner {
	def := DefaultContinuousConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MinRescanInterval < 0 {
		cfg.MinRescanInterval = def.MinRescanInterval
	}
	if cfg.RequestQueue < 1 {
		cfg.RequestQueue = def.RequestQueue
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = def.ResultTTL
	}
	return &ContinuousScanner{
		scanner:   svc,
		filters:   fs,
		publisher: pub,
		results:   cache.NewResultCache(cfg.ResultTTL),
		metrics:   m,
		config:    cfg,
		now:       time.Now,
		lastScan:  make(map[string]time.Time),
		requests:  make(chan Request, cfg.RequestQueue),
	}
}

// AddObserver registers a consumer of published results
func (cs *ContinuousScanner) AddObserver(o ResultObserver) {
	cs.observers = append(cs.observers, o)
}

// Start launches the scan loop for symbols
func (cs *ContinuousScanner) Start(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return ErrNoSymbols
	}

	cs.mutex.Lock()
	if cs.running {
		cs.mutex.Unlock()
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	cs.running = true
	cs.symbols = append([]string(nil), symbols...)
	cs.startedAt = cs.now()
	cs.cancel = cancel
	cs.done = make(chan struct{})
	done := cs.done
	cs.mutex.Unlock()

	_ = cs.publisher.PublishStatus("scanning_started", "Continuous scanning started", map[string]interface{}{
		"symbols":  symbols,
		"interval": cs.config.Interval.String(),
	})
	log.Info().Strs("symbols", symbols).Dur("interval", cs.config.Interval).Msg("Continuous scanning started")

	go cs.loop(loopCtx, done)
	return nil
}

// Stop ends the scan loop and waits for it to exit
func (cs *ContinuousScanner) Stop() error {
	cs.mutex.Lock()
	if !cs.running {
		cs.mutex.Unlock()
		return ErrNotRunning
	}
	cancel, done := cs.cancel, cs.done
	cs.mutex.Unlock()

	cancel()
	<-done

	_ = cs.publisher.PublishStatus("scanning_stopped", "Continuous scanning stopped", nil)
	log.Info().Msg("Continuous scanning stopped")
	return nil
}

// Running reports whether the loop is active
func (cs *ContinuousScanner) Running() bool {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()
	return cs.running
}

// Status returns counters and the current symbol set
func (cs *ContinuousScanner) Status() Status {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()
	return Status{
		Running:      cs.running,
		Symbols:      append([]string{}, cs.symbols...),
		StartedAt:    cs.startedAt,
		Cycles:       atomic.LoadInt64(&cs.cycles),
		Scans:        atomic.LoadInt64(&cs.scans),
		Published:    atomic.LoadInt64(&cs.published),
		Unchanged:    atomic.LoadInt64(&cs.unchanged),
		Errors:       atomic.LoadInt64(&cs.errors),
		QueuedAdHoc:  len(cs.requests),
		IntervalSecs: cs.config.Interval.Seconds(),
	}
}

func (cs *ContinuousScanner) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		cs.mutex.Lock()
		cs.running = false
		cs.cancel = nil
		cs.mutex.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(cs.config.Interval)
	defer ticker.Stop()

	cs.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cs.cycle(ctx)
		}
	}
}

// dueSymbols returns symbols not scanned within MinRescanInterval and
// stamps them as scanned now
func (cs *ContinuousScanner) dueSymbols() []string {
	now := cs.now()
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	var due []string
	for _, sym := range cs.symbols {
		if last, ok := cs.lastScan[sym]; ok && now.Sub(last) < cs.config.MinRescanInterval {
			continue
		}
		cs.lastScan[sym] = now
		due = append(due, sym)
	}
	return due
}

func (cs *ContinuousScanner) options(override *filters.Config, profile string, limit int) scanner.Options {
	opts := scanner.Options{Profile: cs.config.Profile, Limit: cs.config.Limit}
	if override != nil {
		opts.Filters = *override
	} else if cs.filters != nil {
		opts.Filters = cs.filters.Current()
	}
	if profile != "" {
		opts.Profile = profile
	}
	if limit > 0 {
		opts.Limit = limit
	}
	return opts
}

func (cs *ContinuousScanner) cycle(ctx context.Context) {
	due := cs.dueSymbols()
	if len(due) == 0 {
		return
	}
	atomic.AddInt64(&cs.cycles, 1)

	batch, err := cs.scanner.ScanMultiple(ctx, due, cs.options(nil, "", 0))
	if err != nil {
		atomic.AddInt64(&cs.errors, 1)
		log.Error().Err(err).Msg("Continuous scan cycle rejected")
		_ = cs.publisher.PublishError("", err)
		return
	}

	published := cs.handleBatch(ctx, batch)
	if ctx.Err() != nil {
		return
	}
	_ = cs.publisher.PublishStatus("scan_complete", "", map[string]interface{}{
		"symbols":   len(due),
		"results":   len(batch.Results),
		"errors":    len(batch.Errors),
		"published": published,
	})
}

func (cs *ContinuousScanner) handleBatch(ctx context.Context, batch *scanner.BatchResult) int {
	published := 0
	for _, r := range batch.Results {
		atomic.AddInt64(&cs.scans, 1)
		if cs.Publish(ctx, r) {
			published++
		}
	}
	for _, e := range batch.Errors {
		if e.Cancelled {
			continue
		}
		atomic.AddInt64(&cs.errors, 1)
		cs.metrics.RecordStreamScan("error")
		log.Warn().Str("symbol", e.Symbol).Str("error", e.Error).Msg("Continuous scan failed")
		_ = cs.publisher.PublishError(e.Symbol, errors.New(e.Error))
	}
	return published
}

// Publish broadcasts result unless its content hash matches the last one
// published for the symbol. The hash is stored only once the publisher
// accepts the update. It reports whether anything was sent.
func (cs *ContinuousScanner) Publish(ctx context.Context, result *models.ScanResult) bool {
	updateType := UpdateUpdate
	if !cs.results.Seen(result.Symbol) {
		updateType = UpdateNew
	}
	hash := ResultHash(result)
	if cs.results.Matches(result.Symbol, hash) {
		atomic.AddInt64(&cs.unchanged, 1)
		cs.metrics.RecordStreamScan("unchanged")
		return false
	}

	update := ScanUpdate{
		ScanID:     result.ScanID,
		Symbol:     result.Symbol,
		Spreads:    result.Spreads,
		UpdateType: updateType,
		Metadata: map[string]interface{}{
			"total_contracts":    result.TotalContracts,
			"filtered_contracts": result.FilteredContracts,
			"candidate_spreads":  result.CandidateSpreads,
			"duration_ms":        float64(result.Duration.Microseconds()) / 1000,
			"cache_hit":          result.CacheHit,
			"summary":            result.Summary,
		},
	}
	if err := cs.publisher.PublishResult(update); err != nil {
		log.Error().Err(err).Str("symbol", result.Symbol).Msg("Failed to publish result")
		return false
	}
	cs.results.Store(result.Symbol, hash)
	atomic.AddInt64(&cs.published, 1)
	cs.metrics.RecordStreamScan("published")

	for _, o := range cs.observers {
		o.ObserveResult(ctx, result)
	}
	return true
}

// Submit queues an ad-hoc scan. A full queue is reported immediately.
func (cs *ContinuousScanner) Submit(req Request) (Request, <-chan Response, error) {
	if len(req.Symbols) == 0 {
		return req, nil, ErrNoSymbols
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	req.reply = make(chan Response, 1)

	select {
	case cs.requests <- req:
		cs.metrics.SetRequestQueue(len(cs.requests))
		return req, req.reply, nil
	default:
		return req, nil, ErrQueueFull
	}
}

// RunRequests serves the ad-hoc queue until ctx is done
func (cs *ContinuousScanner) RunRequests(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-cs.requests:
			cs.metrics.SetRequestQueue(len(cs.requests))
			cs.serve(ctx, req)
		}
	}
}

func (cs *ContinuousScanner) serve(ctx context.Context, req Request) {
	batch, err := cs.scanner.ScanMultiple(ctx, req.Symbols, cs.options(req.Filters, req.Profile, req.Limit))
	if err == nil {
		cs.handleBatch(ctx, batch)
	}
	req.reply <- Response{RequestID: req.ID, Batch: batch, Err: err}

	log.Debug().Str("request_id", req.ID).Strs("symbols", req.Symbols).Msg("Ad-hoc scan served")
}
