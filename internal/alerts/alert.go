// Package alerts turns scan results into throttled notifications.
package alerts

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidRule   = errors.New("invalid alert rule")
	ErrRuleNotFound  = errors.New("alert rule not found")
	ErrAlertNotFound = errors.New("alert not found")
)

// Type identifies the rule that produced an alert
type Type string

const (
	TypeNewOpportunity   Type = "new_opportunity"
	TypeThresholdCrossed Type = "threshold_crossed"
	TypeScoreChange      Type = "score_change"
)

// Severity grades an alert
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ActionType selects a handler
type ActionType string

const (
	ActionWebSocket ActionType = "websocket"
	ActionLog       ActionType = "log"
	ActionTelegram  ActionType = "telegram"
)

// Alert is one fired notification
type Alert struct {
	ID           string                 `json:"id"`
	RuleID       string                 `json:"rule_id"`
	Type         Type                   `json:"type"`
	Symbol       string                 `json:"symbol"`
	Message      string                 `json:"message"`
	Severity     Severity               `json:"severity"`
	Data         map[string]interface{} `json:"data,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	Acknowledged bool                   `json:"acknowledged"`
}

// ThrottleKey groups alerts that may not repeat within the throttle window
func (a Alert) ThrottleKey() string {
	return string(a.Type) + ":" + a.Symbol
}

// Conditions holds the thresholds a rule type reads. Unused fields are
// ignored by other rule types.
type Conditions struct {
	MinScore   float64 `json:"min_score,omitempty" yaml:"min_score,omitempty"`
	MinPoP     float64 `json:"min_pop,omitempty" yaml:"min_pop,omitempty"`
	MaxSpreads int     `json:"max_spreads,omitempty" yaml:"max_spreads,omitempty"`
	MinChange  float64 `json:"min_change,omitempty" yaml:"min_change,omitempty"`
}

// Action routes an alert to a handler
type Action struct {
	Type ActionType `json:"type" yaml:"type"`
}

// Rule defines when an alert fires and where it goes
type Rule struct {
	ID         string     `json:"id" yaml:"id"`
	Name       string     `json:"name" yaml:"name"`
	Type       Type       `json:"type" yaml:"type"`
	Conditions Conditions `json:"conditions" yaml:"conditions"`
	Actions    []Action   `json:"actions" yaml:"actions"`
	Enabled    bool       `json:"enabled" yaml:"enabled"`
	CreatedAt  time.Time  `json:"created_at" yaml:"-"`
}

// Validate checks the rule type and the conditions it depends on
func (r Rule) Validate() error {
	switch r.Type {
	case TypeNewOpportunity:
		if r.Conditions.MinPoP < 0 || r.Conditions.MinPoP > 1 {
			return fmt.Errorf("%w: min_pop must be within [0, 1]", ErrInvalidRule)
		}
	case TypeThresholdCrossed:
		if r.Conditions.MaxSpreads < 1 {
			return fmt.Errorf("%w: max_spreads must be at least 1", ErrInvalidRule)
		}
	case TypeScoreChange:
		if r.Conditions.MinChange <= 0 {
			return fmt.Errorf("%w: min_change must be positive", ErrInvalidRule)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRule, r.Type)
	}
	for _, a := range r.Actions {
		switch a.Type {
		case ActionWebSocket, ActionLog, ActionTelegram:
		default:
			return fmt.Errorf("%w: unknown action %q", ErrInvalidRule, a.Type)
		}
	}
	return nil
}

var defaultActions = []Action{{Type: ActionWebSocket}, {Type: ActionLog}}

// PresetRules are the rules installed at startup
func PresetRules() []Rule {
	return []Rule{
		{
			ID:         "high-score-opportunities",
			Name:       "High Score Opportunities",
			Type:       TypeNewOpportunity,
			Conditions: Conditions{MinScore: 80, MinPoP: 0.70},
			Actions:    defaultActions,
			Enabled:    true,
		},
		{
			ID:         "many-spreads-found",
			Name:       "Many Spreads Found",
			Type:       TypeThresholdCrossed,
			Conditions: Conditions{MaxSpreads: 20},
			Actions:    defaultActions,
			Enabled:    true,
		},
		{
			ID:         "best-score-moved",
			Name:       "Best Score Moved",
			Type:       TypeScoreChange,
			Conditions: Conditions{MinChange: 10},
			Actions:    []Action{{Type: ActionLog}},
			Enabled:    true,
		},
	}
}
