package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)

	assert.Equal(t, "corsbroker.db", cfg.Store.DSN)
	assert.Empty(t, cfg.Store.SeedFile)

	assert.Equal(t, 1048576, cfg.Broker.ChunkSize)
	assert.Equal(t, 2097152, cfg.Broker.ChunkThreshold)
	assert.Equal(t, time.Second, cfg.Broker.ChunkGrace)

	assert.Equal(t, 60*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, 20, cfg.Upstream.MaxRedirects)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":             "9000",
		"HOST":             "0.0.0.0",
		"STORE_DSN":        "file::memory:",
		"STORE_SEED_FILE":  "/etc/corsbroker/rules.yaml",
		"CHUNK_SIZE":       "1024",
		"CHUNK_THRESHOLD":  "4096",
		"CHUNK_GRACE":      "250ms",
		"PROMPT_TTL":       "30s",
		"UPSTREAM_TIMEOUT": "5s",
		"UPSTREAM_RPS":     "12.5",
		"BROKER_URL":       "ws://broker:9000/stream",
		"CALLER_ORIGIN":    "https://app.example",
		"LOG_LEVEL":        "debug",
		"LOG_DEV":          "true",
		"LOG_FILE":         "/var/log/corsbroker.log",
		"RATE_LIMIT_RPS":   "500",
	}

	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "file::memory:", cfg.Store.DSN)
	assert.Equal(t, "/etc/corsbroker/rules.yaml", cfg.Store.SeedFile)
	assert.Equal(t, 1024, cfg.Broker.ChunkSize)
	assert.Equal(t, 4096, cfg.Broker.ChunkThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.Broker.ChunkGrace)
	assert.Equal(t, 30*time.Second, cfg.Broker.PromptTTL)
	assert.Equal(t, 5*time.Second, cfg.Upstream.Timeout)
	assert.InDelta(t, 12.5, cfg.Upstream.RequestsPerSecond, 0.001)
	assert.Equal(t, "ws://broker:9000/stream", cfg.Caller.BrokerURL)
	assert.Equal(t, "https://app.example", cfg.Caller.Origin)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, "/var/log/corsbroker.log", cfg.Logging.File)
	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"malformed duration", "CHUNK_GRACE", "soon"},
		{"zero chunk size", "CHUNK_SIZE", "0"},
		{"threshold below chunk size", "CHUNK_THRESHOLD", "10"},
		{"negative redirects", "UPSTREAM_MAX_REDIRECTS", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			assert.Error(t, err)

			assert.Equal(t, Default(), LoadOrDefault())
		})
	}
}
