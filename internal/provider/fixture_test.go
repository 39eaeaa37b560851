package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixtureProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.json")
	require.NoError(t, os.WriteFile(path, []byte("["+chainJSON+"]"), 0o644))

	p, err := LoadFixtures(path)
	require.NoError(t, err)
	p.now = func() time.Time { return time.Date(2026, 1, 21, 0, 0, 0, 0, time.UTC) }
	assert.Equal(t, []string{"AAPL"}, p.Symbols())

	contracts, err := p.GetOptionChain(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Len(t, contracts, 2)

	_, err = p.GetOptionChain(context.Background(), "MSFT")
	assert.ErrorIs(t, err, ErrSymbolNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.GetOptionChain(ctx, "AAPL")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadFixturesErrors(t *testing.T) {
	_, err := LoadFixtures(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"not": "a list"}`), 0o644))
	_, err = LoadFixtures(path)
	assert.Error(t, err)
}
