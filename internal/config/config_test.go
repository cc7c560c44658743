package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, "prepchain.db", cfg.DBPath)
	assert.Equal(t, 100, cfg.SampleSize)
	assert.Equal(t, 10*time.Second, cfg.PreviewTimeout)
	assert.Zero(t, cfg.LockTTL, "locks never expire by default")
	assert.Equal(t, 3, cfg.DatasetRetries)
	assert.Equal(t, "none", cfg.TraceExporter)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"PREPCHAIN_STORE":           "badger",
		"PREPCHAIN_DB_PATH":         "/var/lib/prepchain",
		"PREPCHAIN_SAMPLE_SIZE":     "25",
		"PREPCHAIN_LOCK_TTL":        "15m",
		"PREPCHAIN_LOG_LEVEL":       "debug",
		"PREPCHAIN_TRACE_EXPORTER":  "stdout",
		"PREPCHAIN_PREVIEW_TIMEOUT": "0s",
	})
	require.NoError(t, err)

	assert.Equal(t, StoreBadger, cfg.Store)
	assert.Equal(t, 25, cfg.SampleSize)
	assert.Equal(t, 15*time.Minute, cfg.LockTTL)
	assert.Zero(t, cfg.PreviewTimeout)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want string
	}{
		{"unknown store", map[string]string{"PREPCHAIN_STORE": "postgres"}, "Store"},
		{"zero sample", map[string]string{"PREPCHAIN_SAMPLE_SIZE": "0"}, "SampleSize"},
		{"negative ttl", map[string]string{"PREPCHAIN_LOCK_TTL": "-1s"}, "LockTTL"},
		{"bad level", map[string]string{"PREPCHAIN_LOG_LEVEL": "loud"}, "LogLevel"},
		{"unparsable duration", map[string]string{"PREPCHAIN_BREAKER_RESET": "soon"}, "parse env"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(tt.vars)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ReportsAllViolations(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)
	cfg.Store = "nope"
	cfg.SampleSize = 0

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Store")
	assert.Contains(t, err.Error(), "SampleSize")
}
