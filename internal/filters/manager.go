package filters

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ChangeKind describes how the live config changed
type ChangeKind string

const (
	ChangeUpdate ChangeKind = "update"
	ChangePreset ChangeKind = "preset"
	ChangeReset  ChangeKind = "reset"
)

const defaultHistoryLimit = 100

// Change is one entry in the live config history
type Change struct {
	ID        string     `json:"id"`
	Timestamp time.Time  `json:"timestamp"`
	Kind      ChangeKind `json:"kind"`
	Preset    string     `json:"preset,omitempty"`
	Source    string     `json:"source,omitempty"`
	Previous  Config     `json:"previous"`
	Current   Config     `json:"current"`
}

// Manager owns the live filter config. Changes are validated before they
// take effect and published to watchers without blocking.
type Manager struct {
	mutex        sync.RWMutex
	current      Config
	basePreset   string
	presets      *PresetStore
	history      []Change
	historyLimit int
	watchers     []chan Change
}

// NewManager starts from the named preset
func NewManager(presets *PresetStore, basePreset string) (*Manager, error) {
	p, err := presets.Get(basePreset)
	if err != nil {
		return nil, err
	}
	return &Manager{
		current:      p.Filters,
		basePreset:   basePreset,
		presets:      presets,
		historyLimit: defaultHistoryLimit,
	}, nil
}

// Presets exposes the backing preset store
func (m *Manager) Presets() *PresetStore {
	return m.presets
}

// Current returns a copy of the live config
func (m *Manager) Current() Config {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.current.Clone()
}

// Update patches the live config
func (m *Manager) Update(patch Config, source string) (Change, error) {
	m.mutex.Lock()
	next := m.current.Merge(patch)
	if err := next.Validate(); err != nil {
		m.mutex.Unlock()
		return Change{}, err
	}
	change := m.commitLocked(ChangeUpdate, "", source, next)
	m.mutex.Unlock()

	m.publish(change)
	return change, nil
}

// ApplyPreset replaces the live config with a preset
func (m *Manager) ApplyPreset(name, source string) (Change, error) {
	p, err := m.presets.Get(name)
	if err != nil {
		return Change{}, err
	}

	m.mutex.Lock()
	change := m.commitLocked(ChangePreset, name, source, p.Filters)
	m.mutex.Unlock()

	m.publish(change)
	return change, nil
}

// Reset restores the base preset
func (m *Manager) Reset(source string) (Change, error) {
	p, err := m.presets.Get(m.basePreset)
	if err != nil {
		return Change{}, err
	}

	m.mutex.Lock()
	change := m.commitLocked(ChangeReset, m.basePreset, source, p.Filters)
	m.mutex.Unlock()

	m.publish(change)
	return change, nil
}

func (m *Manager) commitLocked(kind ChangeKind, preset, source string, next Config) Change {
	change := Change{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Preset:    preset,
		Source:    source,
		Previous:  m.current,
		Current:   next.Clone(),
	}
	m.current = next

	m.history = append(m.history, change)
	if len(m.history) > m.historyLimit {
		m.history = m.history[len(m.history)-m.historyLimit:]
	}

	log.Info().
		Str("kind", string(kind)).
		Str("preset", preset).
		Str("source", source).
		Msg("Filter config changed")
	return change
}

// History returns up to limit recent changes, newest first. limit <= 0 returns all.
func (m *Manager) History(limit int) []Change {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	n := len(m.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Change, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.history[i])
	}
	return out
}

// Watch returns a channel that receives future changes. A watcher that
// falls behind misses changes rather than blocking updates.
func (m *Manager) Watch() <-chan Change {
	ch := make(chan Change, 16)
	m.mutex.Lock()
	m.watchers = append(m.watchers, ch)
	m.mutex.Unlock()
	return ch
}

func (m *Manager) publish(change Change) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, ch := range m.watchers {
		select {
		case ch <- change:
		default:
			log.Warn().Str("change_id", change.ID).Msg("Filter watcher behind, change dropped")
		}
	}
}
