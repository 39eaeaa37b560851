package http

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// Server is the scanner's HTTP and WebSocket front end
type Server struct {
	router   *mux.Router
	server   *http.Server
	handlers *Handlers
	config   ServerConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "127.0.0.1", // Local-only by default
		Port:           8080,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// NewServer wires routes for deps
func NewServer(config ServerConfig, deps Deps) *Server {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultServerConfig().RequestTimeout
	}

	s := &Server{
		router:   mux.NewRouter(),
		handlers: NewHandlers(deps),
		config:   config,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.Address(),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	h := s.handlers

	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.corsMiddleware)

	// WebSocket and Prometheus bypass the JSON API middleware
	s.router.HandleFunc("/scan/stream", h.StreamSocket).Methods(http.MethodGet)
	s.router.Handle("/metrics", h.MetricsHandler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.timeoutMiddleware)
	api.Use(s.jsonContentTypeMiddleware)

	api.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	api.HandleFunc("/scan", h.ScanBatch).Methods(http.MethodPost)
	api.HandleFunc("/scan/stream/start", h.StreamStart).Methods(http.MethodPost)
	api.HandleFunc("/scan/stream/stop", h.StreamStop).Methods(http.MethodPost)
	api.HandleFunc("/scan/stream/status", h.StreamStatus).Methods(http.MethodGet)
	api.HandleFunc("/scan/stream/request", h.StreamRequest).Methods(http.MethodPost)
	api.HandleFunc("/scan/{symbol}", h.ScanSymbol).Methods(http.MethodGet)

	api.HandleFunc("/filters", h.GetFilters).Methods(http.MethodGet)
	api.HandleFunc("/filters", h.UpdateFilters).Methods(http.MethodPut)
	api.HandleFunc("/filters/reset", h.ResetFilters).Methods(http.MethodPost)
	api.HandleFunc("/filters/history", h.FilterHistory).Methods(http.MethodGet)
	api.HandleFunc("/filters/presets", h.ListPresets).Methods(http.MethodGet)
	api.HandleFunc("/filters/presets", h.AddPreset).Methods(http.MethodPost)
	api.HandleFunc("/filters/presets/{name}/apply", h.ApplyPreset).Methods(http.MethodPost)

	api.HandleFunc("/alerts", h.ListAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/rules", h.ListRules).Methods(http.MethodGet)
	api.HandleFunc("/alerts/rules", h.AddRule).Methods(http.MethodPost)
	api.HandleFunc("/alerts/rules/{id}", h.RemoveRule).Methods(http.MethodDelete)
	api.HandleFunc("/alerts/{id}/ack", h.AcknowledgeAlert).Methods(http.MethodPost)

	api.HandleFunc("/history/{symbol}", h.History).Methods(http.MethodGet)

	s.router.NotFoundHandler = s.jsonContentTypeMiddleware(http.HandlerFunc(h.NotFound))
	s.router.MethodNotAllowedHandler = s.jsonContentTypeMiddleware(http.HandlerFunc(h.MethodNotAllowed))
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return "unknown"
}

// requestIDMiddleware adds unique request ID to each request
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLoggingMiddleware logs all requests with structured fields
func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		log.Info().
			Str("request_id", requestID(r)).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("HTTP request")
	})
}

// timeoutMiddleware enforces request timeouts
func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// corsMiddleware adds CORS headers for local development
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only allow localhost origins
		origin := r.Header.Get("Origin")
		if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// jsonContentTypeMiddleware sets JSON content type for API responses
func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Handler exposes the routed handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens and serves until Shutdown. A busy port fails immediately.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.Address())
	if err != nil {
		return fmt.Errorf("port %d is busy or unavailable: %w", s.config.Port, err)
	}

	log.Info().Str("addr", s.Address()).Msg("Starting HTTP server")
	if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Address returns the listen address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// responseWrapper captures HTTP status codes for logging
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrade through the logging wrapper
func (rw *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}
