package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_RejectsBadValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"max retries zero", func(c *Config) { c.DefaultMaxRetries = 0 }, "default_max_retries"},
		{"batch too large", func(c *Config) { c.BatchSize = 5000 }, "batch_size"},
		{"concurrency zero", func(c *Config) { c.Concurrency = 0 }, "concurrency"},
		{"jitter one", func(c *Config) { c.BackoffJitter = 1 }, "backoff_jitter"},
		{"jitter negative", func(c *Config) { c.BackoffJitter = -0.1 }, "backoff_jitter"},
		{"dispatch timeout garbage", func(c *Config) { c.DispatchTimeout = "soon" }, "dispatch_timeout"},
		{"dispatch timeout too short", func(c *Config) { c.DispatchTimeout = "10ms" }, "dispatch_timeout"},
		{"backoff max below base", func(c *Config) { c.BackoffBase = "1m"; c.BackoffMax = "10s" }, "backoff_max"},
		{"backoff base zero", func(c *Config) { c.BackoffBase = "0s" }, "backoff_base"},
		{"poll interval", func(c *Config) { c.PollInterval = "1ms" }, "poll_interval"},
		{"base url relative", func(c *Config) { c.BaseURL = "/api" }, "base_url"},
		{"base url scheme", func(c *Config) { c.BaseURL = "ftp://example.com" }, "base_url"},
		{"probe mode", func(c *Config) { c.ProbeMode = "icmp" }, "probe_mode"},
		{"websocket probe needs ws url", func(c *Config) { c.ProbeMode = ProbeWebSocket; c.ProbeURL = "https://x" }, "probe_url"},
		{"probe interval", func(c *Config) { c.ProbeInterval = "abc" }, "probe_interval"},
		{"connect timeout", func(c *Config) { c.ConnectTimeout = "1ms" }, "connect_timeout"},
		{"log level", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"log retention", func(c *Config) { c.LogRetentionDays = 0 }, "log_retention_days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field+":")
		})
	}
}

func TestValidate_AccumulatesErrors(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.BatchSize = 0
	cfg.LogLevel = "loud"
	cfg.ProbeMode = "carrier-pigeon"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch_size")
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "probe_mode")
}

func TestValidate_AcceptsGoodURLs(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.BaseURL = "https://api.example.com/v1"
	cfg.ProbeMode = ProbeWebSocket
	cfg.ProbeURL = "wss://api.example.com/live"

	assert.NoError(t, Validate(cfg))
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	for level, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	} {
		l := LoggingConfig{LogLevel: level}
		assert.Equal(t, want, l.SlogLevel(), level)
	}
}
