// Package config implements TOML configuration loading, validation and
// platform-specific path resolution for offlineq. Settings resolve through a
// four-layer override chain: defaults, then the config file, then environment
// variables, then CLI flags. All keys are flat top-level keys.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
// The embedded sub-structs only group related keys in Go; in the file every
// key sits at the top level.
type Config struct {
	QueueConfig
	SyncConfig
	RemoteConfig
	NetworkConfig
	LoggingConfig
}

// QueueConfig controls the durable queue.
type QueueConfig struct {
	// DBPath is the SQLite file. Empty means DefaultDBPath().
	DBPath            string `toml:"db_path"`
	DefaultMaxRetries int    `toml:"default_max_retries"`
}

// SyncConfig controls the orchestrator's throughput and retry timing.
type SyncConfig struct {
	BatchSize       int     `toml:"batch_size"`
	Concurrency     int     `toml:"concurrency"`
	DispatchTimeout string  `toml:"dispatch_timeout"`
	BackoffBase     string  `toml:"backoff_base"`
	BackoffMax      string  `toml:"backoff_max"`
	BackoffJitter   float64 `toml:"backoff_jitter"`
	// PollInterval is how often the watch daemon checks for queued actions
	// written by other processes.
	PollInterval string `toml:"poll_interval"`
}

// RemoteConfig describes the REST API actions are dispatched to.
type RemoteConfig struct {
	BaseURL   string `toml:"base_url"`
	UserAgent string `toml:"user_agent"`
}

// NetworkConfig controls connectivity probing.
type NetworkConfig struct {
	// ProbeMode is http, websocket or none. none assumes always online.
	ProbeMode string `toml:"probe_mode"`
	// ProbeURL defaults to base_url when empty.
	ProbeURL       string `toml:"probe_url"`
	ProbeInterval  string `toml:"probe_interval"`
	ConnectTimeout string `toml:"connect_timeout"`
}

// LoggingConfig controls log output: level, format and rotation.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level"`
	LogFile          string `toml:"log_file"`
	LogFormat        string `toml:"log_format"`
	LogRetentionDays int    `toml:"log_retention_days"`
}

// CLIOverrides holds values from CLI flags that override the config file and
// the environment. Pointer fields distinguish "not specified" (nil) from an
// explicit zero value.
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	DBPath     *string // --db flag
}

// Probe modes.
const (
	ProbeHTTP      = "http"
	ProbeWebSocket = "websocket"
	ProbeNone      = "none"
)

// Durations returns the parsed duration settings. Call it only on a Config
// that passed Validate; unparseable values fall back to the defaults.
func (c *Config) Durations() Durations {
	return Durations{
		DispatchTimeout: parseDurationOr(c.DispatchTimeout, defaultDispatchTimeout),
		BackoffBase:     parseDurationOr(c.BackoffBase, defaultBackoffBase),
		BackoffMax:      parseDurationOr(c.BackoffMax, defaultBackoffMax),
		PollInterval:    parseDurationOr(c.PollInterval, defaultPollInterval),
		ProbeInterval:   parseDurationOr(c.ProbeInterval, defaultProbeInterval),
		ConnectTimeout:  parseDurationOr(c.ConnectTimeout, defaultConnectTimeout),
	}
}

// Durations holds the parsed forms of the duration keys.
type Durations struct {
	DispatchTimeout time.Duration
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	PollInterval    time.Duration
	ProbeInterval   time.Duration
	ConnectTimeout  time.Duration
}

// EffectiveProbeURL returns probe_url, or base_url when probe_url is unset.
func (c *Config) EffectiveProbeURL() string {
	if c.ProbeURL != "" {
		return c.ProbeURL
	}

	return c.BaseURL
}

// EffectiveDBPath returns db_path, or DefaultDBPath() when it is unset.
func (c *Config) EffectiveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	return DefaultDBPath()
}

func parseDurationOr(s, fallback string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}

	d, _ := time.ParseDuration(fallback)

	return d
}
