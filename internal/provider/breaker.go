package provider

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// BreakerConfig sets the upstream circuit trip conditions
type BreakerConfig struct {
	Name                string
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ErrorRateThreshold  float64
	ConsecutiveFailures uint32
}

// DefaultBreakerConfig trips after 5 consecutive failures or a 50% error rate
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:                name,
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ErrorRateThreshold:  50,
		ConsecutiveFailures: 5,
	}
}

// BreakerStatus is a point-in-time view of the upstream circuit
type BreakerStatus struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	Requests            uint32    `json:"requests"`
	ErrorRate           float64   `json:"error_rate"`
	ConsecutiveFailures uint32    `json:"consecutive_failures"`
	NextReset           time.Time `json:"next_reset,omitempty"`
}

func tripCondition(cfg BreakerConfig) func(counts gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		if counts.Requests >= 10 {
			errorRate := float64(counts.TotalFailures) / float64(counts.Requests) * 100
			if errorRate >= cfg.ErrorRateThreshold {
				return true
			}
		}
		return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
	}
}

// upstreamHealthy treats unknown symbols and caller cancellations as
// successes; they say nothing about upstream health.
func upstreamHealthy(err error) bool {
	return err == nil || errors.Is(err, ErrSymbolNotFound) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func newBreaker(cfg BreakerConfig, onChange func(to gobreaker.State)) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:         cfg.Name,
		MaxRequests:  cfg.MaxRequests,
		Interval:     cfg.Interval,
		Timeout:      cfg.Timeout,
		ReadyToTrip:  tripCondition(cfg),
		IsSuccessful: upstreamHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Upstream circuit state changed")
			if onChange != nil {
				onChange(to)
			}
		},
	})
}

func breakerStatus(cb *gobreaker.CircuitBreaker, cfg BreakerConfig) BreakerStatus {
	counts := cb.Counts()
	var errorRate float64
	if counts.Requests > 0 {
		errorRate = float64(counts.TotalFailures) / float64(counts.Requests) * 100
	}
	status := BreakerStatus{
		Name:                cfg.Name,
		State:               cb.State().String(),
		Requests:            counts.Requests,
		ErrorRate:           errorRate,
		ConsecutiveFailures: counts.ConsecutiveFailures,
	}
	if cb.State() == gobreaker.StateOpen {
		status.NextReset = time.Now().Add(cfg.Timeout)
	}
	return status
}
