package filters

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinPresetsAreValid(t *testing.T) {
	store := NewPresetStore()
	names := []string{}
	for _, p := range store.List() {
		names = append(names, p.Name)
		assert.True(t, p.BuiltIn)
		assert.NoError(t, p.Filters.Validate(), p.Name)
	}
	assert.Equal(t, []string{"aggressive", "conservative", "high_iv", "moderate", "theta_harvest"}, names)

	c, err := store.Get("conservative")
	require.NoError(t, err)
	assert.Equal(t, FloatRange{Min: 0.15, Max: 0.30}, *c.Filters.Delta)
	assert.Equal(t, IntRange{Min: 30, Max: 60}, *c.Filters.DTE)
	assert.Equal(t, 5, c.Filters.Portfolio.MaxPositions)
	assert.Equal(t, 5000.0, c.Filters.Portfolio.RiskLimit)
}

func TestPresetsAreImmutable(t *testing.T) {
	store := NewPresetStore()

	p, err := store.Get("moderate")
	require.NoError(t, err)
	p.Filters.Delta.Min = 0.99

	again, err := store.Get("moderate")
	require.NoError(t, err)
	assert.Equal(t, 0.20, again.Filters.Delta.Min)

	err = store.Add(Preset{Name: "moderate", Filters: Config{}})
	assert.ErrorIs(t, err, ErrPresetImmutable)
}

func TestAddCustomPreset(t *testing.T) {
	store := NewPresetStore()

	require.NoError(t, store.Add(Preset{Name: "wheel", Filters: Config{DTE: ir(25, 35)}}))
	p, err := store.Get("wheel")
	require.NoError(t, err)
	assert.False(t, p.BuiltIn)
	assert.Len(t, store.List(), 6)

	err = store.Add(Preset{Name: "broken", Filters: Config{DTE: ir(35, 25)}})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = store.Get("broken")
	assert.ErrorIs(t, err, ErrUnknownPreset)
}

func TestLoadPresetFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "presets.yaml")
	content := `
presets:
  - name: earnings_crush
    description: short dated after earnings
    filters:
      dte: {min: 1, max: 10}
      iv_percentile: {min: 80, max: 100}
      portfolio: {max_positions: 3, risk_limit: 2000}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	store := NewPresetStore()
	n, err := store.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p, err := store.Get("earnings_crush")
	require.NoError(t, err)
	assert.Equal(t, IntRange{Min: 1, Max: 10}, *p.Filters.DTE)
	assert.Equal(t, 3, p.Filters.Portfolio.MaxPositions)
	assert.Nil(t, p.Filters.Delta)
}

func TestLoadPresetFileRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presets.yaml")
	content := `
presets:
  - name: ok
    filters:
      dte: {min: 1, max: 10}
  - name: bad
    filters:
      pop: {min: 0.9, max: 0.1}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	store := NewPresetStore()
	_, err := store.LoadFile(path)
	require.Error(t, err)
	_, err = store.Get("ok")
	assert.ErrorIs(t, err, ErrUnknownPreset, "no preset is stored when the file is invalid")
}
