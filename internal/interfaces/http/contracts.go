package http

import (
	"time"

	"github.com/sawpanic/spreadrun/internal/filters"
	"github.com/sawpanic/spreadrun/internal/provider"
	"github.com/sawpanic/spreadrun/internal/stream"
)

// ErrorResponse is the envelope for every non-2xx reply
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ScanRequest is the body of POST /scan and POST /scan/stream/request
type ScanRequest struct {
	Symbols []string        `json:"symbols"`
	Filters *filters.Config `json:"filters,omitempty"`
	Preset  string          `json:"preset,omitempty"`
	Profile string          `json:"profile,omitempty"`
	Limit   int             `json:"limit,omitempty"`
}

// ScanQuery holds the query-string overrides accepted by GET /scan/{symbol}
type ScanQuery struct {
	DeltaMin        *float64 `schema:"delta_min"`
	DeltaMax        *float64 `schema:"delta_max"`
	DTEMin          *int     `schema:"dte_min"`
	DTEMax          *int     `schema:"dte_max"`
	MinVolume       *int64   `schema:"min_volume"`
	MinOpenInterest *int64   `schema:"min_open_interest"`
	MaxBidAsk       *float64 `schema:"max_bid_ask"`
	IVMin           *float64 `schema:"iv_min"`
	IVMax           *float64 `schema:"iv_max"`
	IVPMin          *float64 `schema:"ivp_min"`
	IVPMax          *float64 `schema:"ivp_max"`
	WidthMin        *float64 `schema:"width_min"`
	WidthMax        *float64 `schema:"width_max"`
	PoPMin          *float64 `schema:"pop_min"`
	PoPMax          *float64 `schema:"pop_max"`
	MaxPositions    *int     `schema:"max_positions"`
	RiskLimit       *float64 `schema:"risk_limit"`
	Preset          string   `schema:"preset"`
	Profile         string   `schema:"profile"`
	Limit           int      `schema:"limit"`
}

// StreamStartRequest is the body of POST /scan/stream/start
type StreamStartRequest struct {
	Symbols []string `json:"symbols"`
}

// StreamStatusResponse reports the continuous scanner and its audience
type StreamStatusResponse struct {
	stream.Status
	SubscriberCount int                     `json:"subscriber_count"`
	Subscribers     []stream.SubscriberInfo `json:"subscribers"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"` // "healthy", "degraded"
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	Version   string    `json:"version"`

	System   SystemInfo              `json:"system"`
	Upstream *provider.BreakerStatus `json:"upstream,omitempty"`
	Cache    CacheInfo               `json:"cache"`
	Stream   StreamHealth            `json:"stream"`
	History  bool                    `json:"history_enabled"`
	Checks   map[string]CheckResult  `json:"checks"`
}

// SystemInfo provides system-level information
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	MemAlloc      uint64 `json:"mem_alloc_bytes"`
	MemSys        uint64 `json:"mem_sys_bytes"`
	NumGC         uint32 `json:"num_gc"`
}

// CacheInfo summarizes the contract cache
type CacheInfo struct {
	Entries int    `json:"entries"`
	TTL     string `json:"ttl"`
}

// StreamHealth summarizes the streaming layer
type StreamHealth struct {
	Running     bool `json:"running"`
	Subscribers int  `json:"subscribers"`
}

// CheckResult represents individual health check results
type CheckResult struct {
	Status  string `json:"status"` // "pass", "warn", "fail"
	Message string `json:"message"`
}
