package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/halvard/fieldlink/internal/config"
	"codeberg.org/halvard/fieldlink/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetArgs pins os.Args so test binary flags do not leak into Load.
func resetArgs(t *testing.T, args ...string) {
	t.Helper()

	oldArgs := os.Args
	t.Cleanup(func() { os.Args = oldArgs })
	os.Args = append([]string{"fieldlink"}, args...)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fieldlink.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad(t *testing.T) {
	resetArgs(t)

	configPath := writeConfig(t, `
station_id = "greenhouse-7"
collector = "uplink.example.net:7331"
interval = 5
capture_timeout = 10
log_level = "debug"
database = "/path/to/queue.db"
queue_max_entries = 1000
queue_policy = "evict-oldest"
batch_size = 16
`)
	t.Setenv("FIELDLINK_CONFIG", configPath)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "greenhouse-7", cfg.StationID)
	assert.Equal(t, "uplink.example.net:7331", cfg.Collector)
	assert.Equal(t, 5, cfg.Interval)
	assert.Equal(t, 10, cfg.CaptureTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/path/to/queue.db", cfg.Database)
	assert.Equal(t, int64(1000), cfg.QueueMaxEntries)
	assert.Equal(t, "evict-oldest", cfg.QueuePolicy)
	assert.Equal(t, 16, cfg.BatchSize)
}

func TestLoadDefaults(t *testing.T) {
	resetArgs(t)
	t.Setenv("FIELDLINK_CONFIG", "")

	cfg, err := config.Load()
	require.NoError(t, err, "Failed to load config")

	assert.NotEmpty(t, cfg.StationID, "Expected station_id to default to hostname")
	assert.Equal(t, 1, cfg.Interval, "Expected default Interval 1")
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel, "Expected default LogLevel info")
	assert.Equal(t, "reject-newest", cfg.QueuePolicy)
	assert.Equal(t, 64, cfg.BatchSize)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 1, cfg.BackoffMin)
	assert.Equal(t, 300, cfg.BackoffMax)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	resetArgs(t)

	configPath := writeConfig(t, `
This is not a valid TOML file
`)
	t.Setenv("FIELDLINK_CONFIG", configPath)

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to read config file")
}

func TestInvalidLogLevel(t *testing.T) {
	resetArgs(t)

	configPath := writeConfig(t, `
log_level = "invalid"
`)
	t.Setenv("FIELDLINK_CONFIG", configPath)

	_, err := config.Load()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidLogLevel))
}

func TestInvalidBackoffBounds(t *testing.T) {
	resetArgs(t)

	configPath := writeConfig(t, `
backoff_min = 60
backoff_max = 5
`)
	t.Setenv("FIELDLINK_CONFIG", configPath)

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backoff bounds")
}

func TestLogLevelFlag(t *testing.T) {
	resetArgs(t, "--log-level", "debug")
	t.Setenv("FIELDLINK_CONFIG", "")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel, "Expected LogLevel to be set by flag")
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	configPath := writeConfig(t, `
collector = "file.example.net:7331"
interval = 5
`)
	resetArgs(t, "--collector", "flag.example.net:7331", "--interval", "9")
	t.Setenv("FIELDLINK_CONFIG", configPath)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "flag.example.net:7331", cfg.Collector)
	assert.Equal(t, 9, cfg.Interval)
}
