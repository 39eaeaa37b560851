package filters

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownPreset   = errors.New("unknown filter preset")
	ErrPresetImmutable = errors.New("built-in presets cannot be replaced")
)

// Preset is a named filter template
type Preset struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Filters     Config `json:"filters" yaml:"filters"`
	BuiltIn     bool   `json:"built_in" yaml:"-"`
}

func fr(min, max float64) *FloatRange { return &FloatRange{Min: min, Max: max} }
func ir(min, max int) *IntRange       { return &IntRange{Min: min, Max: max} }

func builtinPresets() map[string]Preset {
	return map[string]Preset{
		"conservative": {
			Name:        "conservative",
			Description: "Far OTM, longer dated, high liquidity",
			Filters: Config{
				Delta:        fr(0.15, 0.30),
				DTE:          ir(30, 60),
				Liquidity:    &LiquidityConfig{MinVolume: 50, MinOpenInterest: 100},
				IVPercentile: fr(30, 70),
				PoP:          fr(0.70, 0.90),
				Portfolio:    &PortfolioConfig{MaxPositions: 5, RiskLimit: 5000},
			},
		},
		"moderate": {
			Name:        "moderate",
			Description: "Balanced delta and duration",
			Filters: Config{
				Delta:        fr(0.20, 0.40),
				DTE:          ir(20, 45),
				Liquidity:    &LiquidityConfig{MinVolume: 25, MinOpenInterest: 50},
				IVPercentile: fr(40, 80),
				PoP:          fr(0.60, 0.85),
				Portfolio:    &PortfolioConfig{MaxPositions: 10, RiskLimit: 10000},
			},
		},
		"aggressive": {
			Name:        "aggressive",
			Description: "Closer to the money, short dated",
			Filters: Config{
				Delta:        fr(0.25, 0.50),
				DTE:          ir(7, 30),
				Liquidity:    &LiquidityConfig{MinVolume: 10, MinOpenInterest: 25},
				IVPercentile: fr(50, 90),
				PoP:          fr(0.50, 0.80),
				Portfolio:    &PortfolioConfig{MaxPositions: 20, RiskLimit: 20000},
			},
		},
		"high_iv": {
			Name:        "high_iv",
			Description: "Elevated implied volatility regimes",
			Filters: Config{
				Delta:        fr(0.10, 0.25),
				DTE:          ir(30, 60),
				Liquidity:    &LiquidityConfig{MinVolume: 50, MinOpenInterest: 100},
				IV:           fr(0.30, 1.0),
				IVPercentile: fr(70, 100),
				Vega:         fr(0.05, 0.20),
				Portfolio:    &PortfolioConfig{MaxPositions: 8, RiskLimit: 8000},
			},
		},
		"theta_harvest": {
			Name:        "theta_harvest",
			Description: "Time decay focus",
			Filters: Config{
				Delta:     fr(0.20, 0.35),
				DTE:       ir(15, 45),
				Liquidity: &LiquidityConfig{MinVolume: 25, MinOpenInterest: 50},
				Theta:     fr(0.02, 0.10),
				PoP:       fr(0.65, 0.85),
				Portfolio: &PortfolioConfig{MaxPositions: 15, RiskLimit: 15000},
			},
		},
	}
}

// PresetStore serves the built-in presets plus custom ones. Every lookup
// returns a copy so callers can never alter a stored template.
type PresetStore struct {
	builtin map[string]Preset
	custom  map[string]Preset
	mutex   sync.RWMutex
}

// NewPresetStore creates a store holding only the built-ins
func NewPresetStore() *PresetStore {
	builtin := builtinPresets()
	for name, p := range builtin {
		p.BuiltIn = true
		builtin[name] = p
	}
	return &PresetStore{
		builtin: builtin,
		custom:  make(map[string]Preset),
	}
}

func (s *PresetStore) copyOf(p Preset) Preset {
	p.Filters = p.Filters.Clone()
	return p
}

// Get returns a copy of the named preset
func (s *PresetStore) Get(name string) (Preset, error) {
	if p, ok := s.builtin[name]; ok {
		return s.copyOf(p), nil
	}
	s.mutex.RLock()
	p, ok := s.custom[name]
	s.mutex.RUnlock()
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return s.copyOf(p), nil
}

// List returns all presets sorted by name
func (s *PresetStore) List() []Preset {
	s.mutex.RLock()
	out := make([]Preset, 0, len(s.builtin)+len(s.custom))
	for _, p := range s.builtin {
		out = append(out, s.copyOf(p))
	}
	for _, p := range s.custom {
		out = append(out, s.copyOf(p))
	}
	s.mutex.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Add validates and stores a custom preset, replacing a custom one of the same name
func (s *PresetStore) Add(p Preset) error {
	if p.Name == "" {
		return fmt.Errorf("%w: preset name is required", ErrInvalidConfig)
	}
	if _, ok := s.builtin[p.Name]; ok {
		return fmt.Errorf("%w: %q", ErrPresetImmutable, p.Name)
	}
	if err := p.Filters.Validate(); err != nil {
		return fmt.Errorf("preset %q: %w", p.Name, err)
	}
	p.BuiltIn = false

	s.mutex.Lock()
	s.custom[p.Name] = s.copyOf(p)
	s.mutex.Unlock()
	return nil
}

type presetFile struct {
	Presets []Preset `yaml:"presets"`
}

// LoadFile adds every preset defined in a YAML file. Nothing is stored if
// any preset fails validation.
func (s *PresetStore) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read preset file: %w", err)
	}

	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("failed to parse preset file: %w", err)
	}

	for _, p := range file.Presets {
		if _, ok := s.builtin[p.Name]; ok {
			return 0, fmt.Errorf("%w: %q", ErrPresetImmutable, p.Name)
		}
		if p.Name == "" {
			return 0, fmt.Errorf("%w: preset name is required", ErrInvalidConfig)
		}
		if err := p.Filters.Validate(); err != nil {
			return 0, fmt.Errorf("preset %q: %w", p.Name, err)
		}
	}
	for _, p := range file.Presets {
		if err := s.Add(p); err != nil {
			return 0, err
		}
	}
	return len(file.Presets), nil
}
