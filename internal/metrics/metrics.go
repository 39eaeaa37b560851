package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Registry holds every spreadrun collector on its own prometheus registry.
// All methods are safe on a nil *Registry so components can run unmetered.
type Registry struct {
	registry *prometheus.Registry

	StepDuration *prometheus.HistogramVec
	ScansTotal   *prometheus.CounterVec
	ScanDuration prometheus.Histogram
	ActiveScans  prometheus.Gauge

	Contracts *prometheus.CounterVec
	Spreads   *prometheus.CounterVec

	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec
	CacheHitRatio *prometheus.GaugeVec

	UpstreamRequests *prometheus.CounterVec
	UpstreamLatency  prometheus.Histogram
	BreakerState     prometheus.Gauge

	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec
	WSEvictions   *prometheus.CounterVec

	StreamScans  *prometheus.CounterVec
	RequestQueue prometheus.Gauge

	Alerts *prometheus.CounterVec
}

// NewRegistry creates and registers all collectors
func NewRegistry() *Registry {
	m := &Registry{
		registry: prometheus.NewRegistry(),

		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spreadrun_step_duration_seconds",
				Help:    "Duration of scan pipeline steps",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"step", "result"},
		),
		ScansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spreadrun_scans_total",
				Help: "Symbol scans by outcome",
			},
			[]string{"status"},
		),
		ScanDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "spreadrun_scan_duration_seconds",
				Help:    "End to end symbol scan duration",
				Buckets: prometheus.DefBuckets,
			},
		),
		ActiveScans: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "spreadrun_active_scans",
				Help: "Symbol scans in flight",
			},
		),
		Contracts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spreadrun_contracts_total",
				Help: "Contracts seen per pipeline stage",
			},
			[]string{"stage"},
		),
		Spreads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spreadrun_spreads_total",
				Help: "Spreads seen per pipeline stage",
			},
			[]string{"stage"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spreadrun_cache_hits_total",
				Help: "Cache hits by cache",
			},
			[]string{"cache"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spreadrun_cache_misses_total",
				Help: "Cache misses by cache",
			},
			[]string{"cache"},
		),
		CacheHitRatio: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "spreadrun_cache_hit_ratio",
				Help: "Hit ratio by cache",
			},
			[]string{"cache"},
		),
		UpstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spreadrun_upstream_requests_total",
				Help: "Data provider requests by result",
			},
			[]string{"result"},
		),
		UpstreamLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "spreadrun_upstream_latency_seconds",
				Help:    "Data provider request latency",
				Buckets: prometheus.DefBuckets,
			},
		),
		BreakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "spreadrun_upstream_breaker_state",
				Help: "Upstream circuit state (0 closed, 1 half-open, 2 open)",
			},
		),
		WSConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "spreadrun_ws_connections",
				Help: "Connected WebSocket subscribers",
			},
		),
		WSMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spreadrun_ws_messages_total",
				Help: "Messages queued to subscribers by type",
			},
			[]string{"type"},
		),
		WSEvictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spreadrun_ws_evictions_total",
				Help: "Subscribers disconnected by the server",
			},
			[]string{"reason"},
		),
		StreamScans: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spreadrun_stream_scans_total",
				Help: "Continuous scans by outcome",
			},
			[]string{"outcome"},
		),
		RequestQueue: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "spreadrun_stream_request_queue_depth",
				Help: "Pending ad-hoc scan requests",
			},
		),
		Alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spreadrun_alerts_total",
				Help: "Alerts by outcome",
			},
			[]string{"outcome"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.StepDuration, m.ScansTotal, m.ScanDuration, m.ActiveScans,
		m.Contracts, m.Spreads,
		m.CacheHits, m.CacheMisses, m.CacheHitRatio,
		m.UpstreamRequests, m.UpstreamLatency, m.BreakerState,
		m.WSConnections, m.WSMessages, m.WSEvictions,
		m.StreamScans, m.RequestQueue,
		m.Alerts,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Registry) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry
func (m *Registry) Gatherer() prometheus.Gatherer {
	return m.registry
}

// StepTimer tracks execution time for pipeline steps
type StepTimer struct {
	metrics *Registry
	step    string
	start   time.Time
}

// StartStepTimer begins timing a pipeline step
func (m *Registry) StartStepTimer(step string) *StepTimer {
	return &StepTimer{metrics: m, step: step, start: time.Now()}
}

// Stop completes the step timing and records the metric
func (st *StepTimer) Stop(result string) time.Duration {
	duration := time.Since(st.start)
	if st.metrics != nil {
		st.metrics.StepDuration.WithLabelValues(st.step, result).Observe(duration.Seconds())
	}
	log.Debug().
		Str("step", st.step).
		Str("result", result).
		Dur("duration", duration).
		Msg("Pipeline step completed")
	return duration
}

// RecordScan records a finished symbol scan
func (m *Registry) RecordScan(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ScansTotal.WithLabelValues(status).Inc()
	if status == "ok" {
		m.ScanDuration.Observe(d.Seconds())
	}
}

// ScanStarted and ScanFinished bracket an in-flight scan
func (m *Registry) ScanStarted() {
	if m == nil {
		return
	}
	m.ActiveScans.Inc()
}

func (m *Registry) ScanFinished() {
	if m == nil {
		return
	}
	m.ActiveScans.Dec()
}

// RecordContracts adds n contracts at a pipeline stage
func (m *Registry) RecordContracts(stage string, n int) {
	if m == nil {
		return
	}
	m.Contracts.WithLabelValues(stage).Add(float64(n))
}

// RecordSpreads adds n spreads at a pipeline stage
func (m *Registry) RecordSpreads(stage string, n int) {
	if m == nil {
		return
	}
	m.Spreads.WithLabelValues(stage).Add(float64(n))
}

// RecordCacheHit records a cache hit for the named cache
func (m *Registry) RecordCacheHit(cache string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(cache).Inc()
	m.updateCacheHitRatio(cache)
}

// RecordCacheMiss records a cache miss for the named cache
func (m *Registry) RecordCacheMiss(cache string) {
	if m == nil {
		return
	}
	m.CacheMisses.WithLabelValues(cache).Inc()
	m.updateCacheHitRatio(cache)
}

func counterValue(c prometheus.Counter) float64 {
	metric := &io_prometheus_client.Metric{}
	if err := c.Write(metric); err != nil || metric.Counter == nil {
		return 0
	}
	return metric.Counter.GetValue()
}

// updateCacheHitRatio derives the ratio from the hit and miss counters
func (m *Registry) updateCacheHitRatio(cache string) {
	hits := counterValue(m.CacheHits.WithLabelValues(cache))
	misses := counterValue(m.CacheMisses.WithLabelValues(cache))
	if total := hits + misses; total > 0 {
		m.CacheHitRatio.WithLabelValues(cache).Set(hits / total)
	}
}

// RecordUpstream records one data provider call
func (m *Registry) RecordUpstream(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(result).Inc()
	if d > 0 {
		m.UpstreamLatency.Observe(d.Seconds())
	}
}

// SetBreakerState records the upstream circuit state
func (m *Registry) SetBreakerState(state float64) {
	if m == nil {
		return
	}
	m.BreakerState.Set(state)
}

// SubscriberConnected and SubscriberDisconnected track live connections
func (m *Registry) SubscriberConnected() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

func (m *Registry) SubscriberDisconnected() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// RecordMessage counts a message queued to a subscriber
func (m *Registry) RecordMessage(msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(msgType).Inc()
}

// RecordEviction counts a server-initiated disconnect
func (m *Registry) RecordEviction(reason string) {
	if m == nil {
		return
	}
	m.WSEvictions.WithLabelValues(reason).Inc()
	log.Warn().Str("reason", reason).Msg("Subscriber evicted")
}

// RecordStreamScan counts a continuous scan outcome
func (m *Registry) RecordStreamScan(outcome string) {
	if m == nil {
		return
	}
	m.StreamScans.WithLabelValues(outcome).Inc()
}

// SetRequestQueue records the ad-hoc queue depth
func (m *Registry) SetRequestQueue(depth int) {
	if m == nil {
		return
	}
	m.RequestQueue.Set(float64(depth))
}

// RecordAlert counts an alert outcome
func (m *Registry) RecordAlert(outcome string) {
	if m == nil {
		return
	}
	m.Alerts.WithLabelValues(outcome).Inc()
}
