package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/spreadrun/internal/metrics"
	"github.com/sawpanic/spreadrun/internal/models"
)

type recordingHandler struct {
	kind   ActionType
	mutex  sync.Mutex
	alerts []Alert
	err    error
	panics bool
}

func (h *recordingHandler) Type() ActionType { return h.kind }

func (h *recordingHandler) Handle(_ context.Context, a Alert) error {
	if h.panics {
		panic("handler exploded")
	}
	h.mutex.Lock()
	h.alerts = append(h.alerts, a)
	h.mutex.Unlock()
	return h.err
}

func (h *recordingHandler) count() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.alerts)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(cfg Config) (*Manager, *clock) {
	c := &clock{t: time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)}
	m := NewManager(cfg, metrics.NewRegistry())
	m.now = c.now
	return m, c
}

func result(symbol string, scores ...float64) *models.ScanResult {
	r := &models.ScanResult{Symbol: symbol}
	for i, s := range scores {
		r.Spreads = append(r.Spreads, models.VerticalSpread{
			ID:       symbol + "-" + string(rune('a'+i)),
			Symbol:   symbol,
			Strategy: models.BullCall,
			Long:     models.OptionContract{Strike: 100},
			Short:    models.OptionContract{Strike: 105},
			NetDebit: 2,
			PoP:      0.75,
			Score:    s,
		})
	}
	return r
}

func opportunityRule() Rule {
	return Rule{ID: "opp", Type: TypeNewOpportunity, Conditions: Conditions{MinScore: 80, MinPoP: 0.7}, Enabled: true}
}

func TestRuleValidate(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		ok   bool
	}{
		{"opportunity", opportunityRule(), true},
		{"bad pop", Rule{Type: TypeNewOpportunity, Conditions: Conditions{MinPoP: 1.5}}, false},
		{"threshold", Rule{Type: TypeThresholdCrossed, Conditions: Conditions{MaxSpreads: 5}}, true},
		{"threshold missing max", Rule{Type: TypeThresholdCrossed}, false},
		{"score change missing delta", Rule{Type: TypeScoreChange}, false},
		{"unknown type", Rule{Type: "volume_spike"}, false},
		{"unknown action", Rule{Type: TypeScoreChange, Conditions: Conditions{MinChange: 1}, Actions: []Action{{Type: "sms"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidRule)
			}
		})
	}
}

func TestPresetRulesAreValid(t *testing.T) {
	for _, r := range PresetRules() {
		assert.NoError(t, r.Validate(), r.ID)
	}
}

func TestAddAndRemoveRule(t *testing.T) {
	m, _ := newTestManager(DefaultConfig())

	added, err := m.AddRule(Rule{Type: TypeThresholdCrossed, Conditions: Conditions{MaxSpreads: 3}})
	require.NoError(t, err)
	assert.NotEmpty(t, added.ID)
	assert.Equal(t, defaultActions, added.Actions)

	_, err = m.AddRule(Rule{Type: "bogus"})
	assert.ErrorIs(t, err, ErrInvalidRule)

	assert.Len(t, m.Rules(), 1)
	require.NoError(t, m.RemoveRule(added.ID))
	assert.ErrorIs(t, m.RemoveRule(added.ID), ErrRuleNotFound)
	assert.Empty(t, m.Rules())
}

func TestNewOpportunityFiresOncePerSymbol(t *testing.T) {
	m, _ := newTestManager(DefaultConfig())
	_, err := m.AddRule(opportunityRule())
	require.NoError(t, err)

	fired := m.CheckResult(result("AAPL", 95, 90, 85))
	require.Len(t, fired, 1)
	assert.Equal(t, TypeNewOpportunity, fired[0].Type)
	assert.Equal(t, "AAPL-a", fired[0].Data["spread_id"])
	assert.Equal(t, "opp", fired[0].RuleID)

	assert.Empty(t, m.CheckResult(result("MSFT", 60)))
}

func TestDisabledRulesAreSkipped(t *testing.T) {
	m, _ := newTestManager(DefaultConfig())
	rule := opportunityRule()
	rule.Enabled = false
	_, err := m.AddRule(rule)
	require.NoError(t, err)

	assert.Empty(t, m.CheckResult(result("AAPL", 95)))
}

func TestThrottlePerTypeAndSymbol(t *testing.T) {
	m, c := newTestManager(Config{Throttle: 30 * time.Second})
	_, err := m.AddRule(opportunityRule())
	require.NoError(t, err)

	assert.Len(t, m.CheckResult(result("AAPL", 95)), 1)
	assert.Empty(t, m.CheckResult(result("AAPL", 96)))
	assert.Len(t, m.CheckResult(result("MSFT", 95)), 1)

	c.advance(29 * time.Second)
	assert.Empty(t, m.CheckResult(result("AAPL", 95)))

	c.advance(2 * time.Second)
	assert.Len(t, m.CheckResult(result("AAPL", 95)), 1)
}

func TestThresholdCrossed(t *testing.T) {
	m, _ := newTestManager(DefaultConfig())
	_, err := m.AddRule(Rule{ID: "many", Type: TypeThresholdCrossed, Conditions: Conditions{MaxSpreads: 2}, Enabled: true})
	require.NoError(t, err)

	assert.Empty(t, m.CheckResult(result("AAPL", 10, 20)))
	fired := m.CheckResult(result("AAPL", 10, 20, 30))
	require.Len(t, fired, 1)
	assert.Equal(t, SeverityWarning, fired[0].Severity)
	assert.Equal(t, 3, fired[0].Data["spread_count"])
}

func TestScoreChangeComparesPreviousBest(t *testing.T) {
	m, _ := newTestManager(Config{Throttle: 0})
	_, err := m.AddRule(Rule{ID: "move", Type: TypeScoreChange, Conditions: Conditions{MinChange: 10}, Enabled: true})
	require.NoError(t, err)

	assert.Empty(t, m.CheckResult(result("AAPL", 50)), "first observation has no baseline")
	assert.Empty(t, m.CheckResult(result("AAPL", 55)))

	fired := m.CheckResult(result("AAPL", 42))
	require.Len(t, fired, 1)
	assert.Equal(t, 55.0, fired[0].Data["previous"])
	assert.Equal(t, 42.0, fired[0].Data["current"])
}

func TestQueueFullDropsAlert(t *testing.T) {
	m, _ := newTestManager(Config{Queue: 1})
	_, err := m.AddRule(opportunityRule())
	require.NoError(t, err)

	assert.Len(t, m.CheckResult(result("AAPL", 95)), 1)
	assert.Empty(t, m.CheckResult(result("MSFT", 95)))

	// a dropped alert does not open a throttle window
	<-m.queue
	assert.Len(t, m.CheckResult(result("MSFT", 95)), 1)
}

func runManager(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go m.Run(ctx)
}

func TestHandlerFailuresAreIsolated(t *testing.T) {
	m, _ := newTestManager(DefaultConfig())
	failing := &recordingHandler{kind: ActionWebSocket, err: errors.New("socket gone")}
	panicking := &recordingHandler{kind: ActionTelegram, panics: true}
	logged := &recordingHandler{kind: ActionLog}
	m.RegisterHandler(failing)
	m.RegisterHandler(panicking)
	m.RegisterHandler(logged)

	rule := opportunityRule()
	rule.Actions = []Action{{Type: ActionWebSocket}, {Type: ActionTelegram}, {Type: ActionLog}}
	_, err := m.AddRule(rule)
	require.NoError(t, err)
	runManager(t, m)

	m.CheckResult(result("AAPL", 95))
	m.CheckResult(result("MSFT", 95))

	assert.Eventually(t, func() bool { return logged.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, failing.count())
}

func TestHistoryAndAcknowledge(t *testing.T) {
	m, _ := newTestManager(Config{MaxHistory: 2})
	_, err := m.AddRule(opportunityRule())
	require.NoError(t, err)

	ctx := context.Background()
	for _, sym := range []string{"AAPL", "MSFT", "NVDA"} {
		fired := m.CheckResult(result(sym, 95))
		require.Len(t, fired, 1)
		m.handle(ctx, <-m.queue)
	}

	history := m.History(0)
	require.Len(t, history, 2)
	assert.Equal(t, "NVDA", history[0].Symbol)
	assert.Equal(t, "MSFT", history[1].Symbol)

	acked, err := m.Acknowledge(history[0].ID)
	require.NoError(t, err)
	assert.True(t, acked.Acknowledged)
	assert.True(t, m.History(1)[0].Acknowledged)

	_, err = m.Acknowledge("missing")
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestObserveResultChecksRules(t *testing.T) {
	m, _ := newTestManager(DefaultConfig())
	_, err := m.AddRule(opportunityRule())
	require.NoError(t, err)

	m.ObserveResult(context.Background(), result("AAPL", 95))
	assert.Len(t, m.queue, 1)
}
