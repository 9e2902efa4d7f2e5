package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "builtin", cfg.Evaluator.Kind)
	assert.Equal(t, "null", cfg.Destroy.Backend)
	assert.Equal(t, time.Minute, cfg.Lock.EventWaitTime())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corral.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level = "debug"

[store]
backend = "sqlite"
data_dir = "/var/lib/corral"

[evaluator]
kind = "remote"
address = "library.internal:7070"

[lock]
event_wait_ms = 1500
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/var/lib/corral", cfg.Store.DataDir)
	assert.Equal(t, "remote", cfg.Evaluator.Kind)
	assert.Equal(t, "library.internal:7070", cfg.Evaluator.Address)
	assert.Equal(t, 1500*time.Millisecond, cfg.Lock.EventWaitTime())

	// Sections absent from the file keep their defaults.
	assert.Equal(t, "pkl", cfg.Resolver.Kind)
	assert.Equal(t, "null", cfg.Destroy.Backend)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corral.toml")
	require.NoError(t, os.WriteFile(path, []byte("log_level = ["), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
