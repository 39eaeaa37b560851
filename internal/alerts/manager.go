package alerts

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/spreadrun/internal/metrics"
	"github.com/sawpanic/spreadrun/internal/models"
)

// Config sizes the alert pipeline
type Config struct {
	Throttle   time.Duration
	Queue      int
	MaxHistory int
}

// DefaultConfig throttles each (type, symbol) pair to one alert per 30s
func DefaultConfig() Config {
	return Config{Throttle: 30 * time.Second, Queue: 100, MaxHistory: 1000}
}

// Manager evaluates rules against scan results and dispatches the alerts
// that survive throttling to handlers on a single worker.
type Manager struct {
	config  Config
	metrics *metrics.Registry
	now     func() time.Time

	mutex     sync.RWMutex
	rules     map[string]*Rule
	handlers  map[ActionType]Handler
	alerts    map[string]*Alert
	history   []string
	lastFired map[string]time.Time
	lastBest  map[string]float64

	queue chan Alert
}

// NewManager creates a manager with no rules and no handlers
func NewManager(cfg Config, m *metrics.Registry) *Manager {
	def := DefaultConfig()
	if cfg.Throttle < 0 {
		cfg.Throttle = def.Throttle
	}
	if cfg.Queue < 1 {
		cfg.Queue = def.Queue
	}
	if cfg.MaxHistory < 1 {
		cfg.MaxHistory = def.MaxHistory
	}
	return &Manager{
		config:    cfg,
		metrics:   m,
		now:       time.Now,
		rules:     make(map[string]*Rule),
		handlers:  make(map[ActionType]Handler),
		alerts:    make(map[string]*Alert),
		lastFired: make(map[string]time.Time),
		lastBest:  make(map[string]float64),
		queue:     make(chan Alert, cfg.Queue),
	}
}

// RegisterHandler installs h for its action type, replacing any previous one
func (m *Manager) RegisterHandler(h Handler) {
	m.mutex.Lock()
	m.handlers[h.Type()] = h
	m.mutex.Unlock()
}

// AddRule validates and stores a rule. An empty ID is generated.
func (m *Manager) AddRule(rule Rule) (Rule, error) {
	if err := rule.Validate(); err != nil {
		return Rule{}, err
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if len(rule.Actions) == 0 {
		rule.Actions = append([]Action(nil), defaultActions...)
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = m.now()
	}

	m.mutex.Lock()
	stored := rule
	m.rules[rule.ID] = &stored
	m.mutex.Unlock()

	log.Info().Str("rule_id", rule.ID).Str("type", string(rule.Type)).Msg("Alert rule added")
	return rule, nil
}

// RemoveRule deletes a rule by ID
func (m *Manager) RemoveRule(id string) error {
	m.mutex.Lock()
	_, ok := m.rules[id]
	delete(m.rules, id)
	m.mutex.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	log.Info().Str("rule_id", id).Msg("Alert rule removed")
	return nil
}

// Rules lists rules ordered by ID
func (m *Manager) Rules() []Rule {
	m.mutex.RLock()
	out := make([]Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, *r)
	}
	m.mutex.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ObserveResult lets the manager sit behind the continuous scanner
func (m *Manager) ObserveResult(_ context.Context, result *models.ScanResult) {
	m.CheckResult(result)
}

// CheckResult evaluates every enabled rule against result and queues the
// alerts that pass throttling. Each rule yields at most one alert per call.
func (m *Manager) CheckResult(result *models.ScanResult) []Alert {
	if result == nil {
		return nil
	}

	m.mutex.Lock()
	rules := make([]Rule, 0, len(m.rules))
	for _, r := range m.rules {
		if r.Enabled {
			rules = append(rules, *r)
		}
	}
	prevBest, hadBest := m.lastBest[result.Symbol]
	if top := result.Top(); top != nil {
		m.lastBest[result.Symbol] = top.Score
	}
	m.mutex.Unlock()
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })

	var fired []Alert
	for i := range rules {
		alert, ok := m.evaluate(&rules[i], result, prevBest, hadBest)
		if !ok {
			continue
		}
		if m.trigger(alert) {
			fired = append(fired, alert)
		}
	}
	return fired
}

func (m *Manager) newAlert(rule *Rule, symbol string, severity Severity, message string, data map[string]interface{}) Alert {
	return Alert{
		ID:        uuid.New().String(),
		RuleID:    rule.ID,
		Type:      rule.Type,
		Symbol:    symbol,
		Message:   message,
		Severity:  severity,
		Data:      data,
		CreatedAt: m.now(),
	}
}

func (m *Manager) evaluate(rule *Rule, result *models.ScanResult, prevBest float64, hadBest bool) (Alert, bool) {
	cond := rule.Conditions
	switch rule.Type {
	case TypeNewOpportunity:
		for i := range result.Spreads {
			s := &result.Spreads[i]
			if s.Score < cond.MinScore || s.PoP < cond.MinPoP {
				continue
			}
			msg := fmt.Sprintf("New opportunity: %s %s %.2f/%.2f for %.2f debit, %.1f%% PoP",
				result.Symbol, s.Strategy, s.Long.Strike, s.Short.Strike, s.NetDebit, s.PoP*100)
			return m.newAlert(rule, result.Symbol, SeverityInfo, msg, map[string]interface{}{
				"spread_id": s.ID,
				"score":     s.Score,
				"pop":       s.PoP,
			}), true
		}

	case TypeThresholdCrossed:
		if n := len(result.Spreads); n > cond.MaxSpreads {
			msg := fmt.Sprintf("High opportunity count: %d spreads found for %s", n, result.Symbol)
			return m.newAlert(rule, result.Symbol, SeverityWarning, msg, map[string]interface{}{
				"spread_count": n,
				"threshold":    cond.MaxSpreads,
			}), true
		}

	case TypeScoreChange:
		top := result.Top()
		if top == nil || !hadBest {
			return Alert{}, false
		}
		delta := top.Score - prevBest
		if delta >= cond.MinChange || -delta >= cond.MinChange {
			msg := fmt.Sprintf("Best score for %s moved %.1f to %.1f", result.Symbol, prevBest, top.Score)
			return m.newAlert(rule, result.Symbol, SeverityInfo, msg, map[string]interface{}{
				"previous": prevBest,
				"current":  top.Score,
				"change":   delta,
			}), true
		}
	}
	return Alert{}, false
}

// trigger applies the throttle and hands the alert to the worker. A full
// queue drops the alert without starting the throttle window.
func (m *Manager) trigger(alert Alert) bool {
	key := alert.ThrottleKey()
	now := m.now()

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if last, ok := m.lastFired[key]; ok && now.Sub(last) < m.config.Throttle {
		m.metrics.RecordAlert("throttled")
		return false
	}

	select {
	case m.queue <- alert:
		m.lastFired[key] = now
		m.metrics.RecordAlert("queued")
		return true
	default:
		m.metrics.RecordAlert("dropped")
		log.Warn().Str("alert_id", alert.ID).Str("symbol", alert.Symbol).Msg("Alert queue full, dropping alert")
		return false
	}
}

// Run handles queued alerts until ctx is done
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-m.queue:
			m.handle(ctx, alert)
		}
	}
}

func (m *Manager) handle(ctx context.Context, alert Alert) {
	m.mutex.Lock()
	stored := alert
	m.alerts[alert.ID] = &stored
	m.history = append(m.history, alert.ID)
	if over := len(m.history) - m.config.MaxHistory; over > 0 {
		for _, id := range m.history[:over] {
			delete(m.alerts, id)
		}
		m.history = append([]string(nil), m.history[over:]...)
	}

	actions := defaultActions
	if rule, ok := m.rules[alert.RuleID]; ok && len(rule.Actions) > 0 {
		actions = rule.Actions
	}
	handlers := make([]Handler, 0, len(actions))
	for _, a := range actions {
		if h, ok := m.handlers[a.Type]; ok {
			handlers = append(handlers, h)
		}
	}
	m.mutex.Unlock()

	for _, h := range handlers {
		m.dispatch(ctx, h, alert)
	}
	m.metrics.RecordAlert("fired")
}

// dispatch runs one handler; its failure never reaches the others
func (m *Manager) dispatch(ctx context.Context, h Handler, alert Alert) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.RecordAlert("handler_error")
			log.Error().Interface("panic", r).Str("alert_id", alert.ID).Str("handler", string(h.Type())).Msg("Alert handler panicked")
		}
	}()
	if err := h.Handle(ctx, alert); err != nil {
		m.metrics.RecordAlert("handler_error")
		log.Error().Err(err).Str("alert_id", alert.ID).Str("handler", string(h.Type())).Msg("Failed to handle alert")
	}
}

// History returns up to limit alerts, newest first. limit <= 0 returns all.
func (m *Manager) History(limit int) []Alert {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	n := len(m.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Alert, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, *m.alerts[m.history[i]])
	}
	return out
}

// Acknowledge marks an alert as seen
func (m *Manager) Acknowledge(id string) (Alert, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return Alert{}, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	a.Acknowledged = true
	return *a, nil
}
