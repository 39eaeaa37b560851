package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/schema"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/spreadrun/internal/alerts"
	"github.com/sawpanic/spreadrun/internal/filters"
	"github.com/sawpanic/spreadrun/internal/history"
	"github.com/sawpanic/spreadrun/internal/metrics"
	"github.com/sawpanic/spreadrun/internal/provider"
	"github.com/sawpanic/spreadrun/internal/scanner"
	"github.com/sawpanic/spreadrun/internal/scoring"
	"github.com/sawpanic/spreadrun/internal/stream"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// BreakerReporter exposes upstream circuit state to /health
type BreakerReporter interface {
	Status() provider.BreakerStatus
}

// Deps are the components the handlers drive. Alerts, History, Breaker and
// the streaming pieces are optional.
type Deps struct {
	Scanner *scanner.Service
	Filters *filters.Manager
	Hub     *stream.Hub
	Stream  *stream.ContinuousScanner
	Alerts  *alerts.Manager
	History history.Recorder
	Metrics *metrics.Registry
	Breaker BreakerReporter
	Version string

	// StreamContext bounds continuous scans started over HTTP; the
	// request context ends with the response.
	StreamContext context.Context
}

// Handlers holds every endpoint
type Handlers struct {
	deps      Deps
	decoder   *schema.Decoder
	startTime time.Time
}

// NewHandlers creates the handler set
func NewHandlers(deps Deps) *Handlers {
	if deps.History == nil {
		deps.History = history.NopRecorder{}
	}
	if deps.StreamContext == nil {
		deps.StreamContext = context.Background()
	}
	dec := schema.NewDecoder()
	dec.IgnoreUnknownKeys(true)
	return &Handlers{deps: deps, decoder: dec, startTime: time.Now()}
}

var (
	errBadRequest  = errors.New("bad request")
	errUnavailable = errors.New("component not enabled")
)

// writeJSON writes JSON response with proper error handling
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"json_encoding_failed"}`))
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeError writes standardized error response
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestID(r),
		Timestamp: time.Now().UTC(),
	})
}

// statusFor maps domain errors onto HTTP status codes and stable codes
func statusFor(err error) (int, string) {
	switch {
	case scanner.IsCancellation(err):
		return http.StatusRequestTimeout, "scan_timeout"
	case errors.Is(err, errBadRequest), errors.Is(err, provider.ErrInvalidSymbol),
		errors.Is(err, filters.ErrInvalidConfig), errors.Is(err, scoring.ErrUnknownProfile),
		errors.Is(err, alerts.ErrInvalidRule), errors.Is(err, stream.ErrNoSymbols):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, filters.ErrUnknownPreset), errors.Is(err, alerts.ErrRuleNotFound),
		errors.Is(err, alerts.ErrAlertNotFound), errors.Is(err, provider.ErrSymbolNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, filters.ErrPresetImmutable), errors.Is(err, stream.ErrAlreadyRunning),
		errors.Is(err, stream.ErrNotRunning):
		return http.StatusConflict, "conflict"
	case errors.Is(err, stream.ErrQueueFull), errors.Is(err, provider.ErrCircuitOpen),
		errors.Is(err, errUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, provider.ErrUpstream):
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("request_id", requestID(r)).Str("path", r.URL.Path).Msg("Request failed")
	}
	h.writeError(w, r, status, code, err.Error())
}

// decodeBody reads a JSON body into dst. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: malformed JSON: %v", errBadRequest, err)
	}
	return nil
}

// NotFound handles 404 responses
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found",
		"The requested endpoint does not exist")
}

// MethodNotAllowed handles 405 responses
func (h *Handlers) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed",
		fmt.Sprintf("%s is not supported on %s", r.Method, r.URL.Path))
}

// MetricsHandler serves the Prometheus exposition
func (h *Handlers) MetricsHandler() http.Handler {
	if h.deps.Metrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			h.fail(w, r, fmt.Errorf("%w: metrics", errUnavailable))
		})
	}
	return h.deps.Metrics.Handler()
}

// Health reports component state. An open upstream circuit degrades it.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Version:   h.deps.Version,
		System: SystemInfo{
			GoVersion:     runtime.Version(),
			NumGoroutines: runtime.NumGoroutine(),
			MemAlloc:      mem.Alloc,
			MemSys:        mem.Sys,
			NumGC:         mem.NumGC,
		},
		History: h.deps.History.Enabled(),
		Checks:  make(map[string]CheckResult),
	}

	if h.deps.Scanner != nil {
		c := h.deps.Scanner.Cache()
		resp.Cache = CacheInfo{Entries: c.Len(), TTL: c.TTL().String()}
	}
	if h.deps.Stream != nil {
		resp.Stream.Running = h.deps.Stream.Running()
	}
	if h.deps.Hub != nil {
		resp.Stream.Subscribers = h.deps.Hub.SubscriberCount()
	}

	if h.deps.Breaker != nil {
		st := h.deps.Breaker.Status()
		resp.Upstream = &st
		switch st.State {
		case "open":
			resp.Status = "degraded"
			resp.Checks["upstream"] = CheckResult{Status: "fail", Message: "circuit open"}
		case "half-open":
			resp.Checks["upstream"] = CheckResult{Status: "warn", Message: "circuit probing"}
		default:
			resp.Checks["upstream"] = CheckResult{Status: "pass", Message: "circuit closed"}
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}
