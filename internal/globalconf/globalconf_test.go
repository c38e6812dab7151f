package globalconf

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/messagelog/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConf(t *testing.T, path, body string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestFileProvider_LoadAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "globalconf.json")
	base := time.Now().Add(-time.Hour).Truncate(time.Second)

	writeConf(t, path, `{"valid_until":"2030-01-01T00:00:00Z","timestamping_interval_seconds":60}`, base)

	p := NewFileProvider(ctx, path, logging.NewNopLogger())
	snap := p.Current()
	assert.Equal(t, time.Minute, snap.TimestampingInterval)
	assert.True(t, snap.IsValid(time.Date(2029, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, snap.IsValid(time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC)))

	changed, err := p.ReloadIfChanged(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	writeConf(t, path, `{"valid_until":"2020-01-01T00:00:00Z","timestamping_interval_seconds":120,"tsa_urls":["http://tsa"]}`, base.Add(time.Minute))
	changed, err = p.ReloadIfChanged(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	assert.Equal(t, 2*time.Minute, p.Current().TimestampingInterval)
	assert.Equal(t, []string{"http://tsa"}, p.Current().TSAURLs)
	assert.False(t, p.Current().IsValid(time.Now()))

	// the old snapshot is untouched
	assert.Equal(t, time.Minute, snap.TimestampingInterval)
}

func TestFileProvider_MissingFileIsOutdated(t *testing.T) {
	p := NewFileProvider(context.Background(), filepath.Join(t.TempDir(), "missing.json"), logging.NewNopLogger())
	require.NotNil(t, p.Current())
	assert.False(t, p.Current().IsValid(time.Now()))
}

func TestFileProvider_BrokenFileKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "globalconf.json")
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	writeConf(t, path, `{"valid_until":"2030-01-01T00:00:00Z","timestamping_interval_seconds":60}`, base)

	p := NewFileProvider(ctx, path, logging.NewNopLogger())
	writeConf(t, path, `{broken`, base.Add(time.Minute))

	_, err := p.ReloadIfChanged(ctx)
	require.Error(t, err)
	assert.Equal(t, time.Minute, p.Current().TimestampingInterval)
}

func TestStatic(t *testing.T) {
	s := NewStatic(Snapshot{ValidUntil: time.Now().Add(time.Hour)})
	assert.True(t, s.Current().IsValid(time.Now()))
	s.Set(Snapshot{})
	assert.False(t, s.Current().IsValid(time.Now()))

	var nilSnap *Snapshot
	assert.False(t, nilSnap.IsValid(time.Now()))
}
