package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Validation range constants.
const (
	minMaxRetries      = 1
	maxMaxRetries      = 100
	minBatchSize       = 1
	maxBatchSize       = 1000
	minConcurrency     = 1
	maxConcurrency     = 64
	maxJitter          = 1.0
	minLogRetention    = 1
	minDispatchTimeout = 1 * time.Second
	minPollInterval    = 1 * time.Second
	minProbeInterval   = 1 * time.Second
	minConnectTimeout  = 100 * time.Millisecond
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateQueue(&cfg.QueueConfig)...)
	errs = append(errs, validateSync(&cfg.SyncConfig)...)
	errs = append(errs, validateRemote(&cfg.RemoteConfig)...)
	errs = append(errs, validateNetwork(&cfg.NetworkConfig)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)

	return errors.Join(errs...)
}

func validateQueue(q *QueueConfig) []error {
	if q.DefaultMaxRetries < minMaxRetries || q.DefaultMaxRetries > maxMaxRetries {
		return []error{fmt.Errorf("default_max_retries: must be between %d and %d, got %d",
			minMaxRetries, maxMaxRetries, q.DefaultMaxRetries)}
	}

	return nil
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if s.BatchSize < minBatchSize || s.BatchSize > maxBatchSize {
		errs = append(errs, fmt.Errorf("batch_size: must be between %d and %d, got %d",
			minBatchSize, maxBatchSize, s.BatchSize))
	}

	if s.Concurrency < minConcurrency || s.Concurrency > maxConcurrency {
		errs = append(errs, fmt.Errorf("concurrency: must be between %d and %d, got %d",
			minConcurrency, maxConcurrency, s.Concurrency))
	}

	if s.BackoffJitter < 0 || s.BackoffJitter >= maxJitter {
		errs = append(errs, fmt.Errorf("backoff_jitter: must be in [0, 1), got %g", s.BackoffJitter))
	}

	errs = append(errs, validateDuration("dispatch_timeout", s.DispatchTimeout, minDispatchTimeout)...)
	errs = append(errs, validateDuration("poll_interval", s.PollInterval, minPollInterval)...)

	base, baseErrs := parseDuration("backoff_base", s.BackoffBase)
	ceiling, maxErrs := parseDuration("backoff_max", s.BackoffMax)
	errs = append(errs, baseErrs...)
	errs = append(errs, maxErrs...)

	if len(baseErrs) == 0 && len(maxErrs) == 0 {
		if base <= 0 {
			errs = append(errs, fmt.Errorf("backoff_base: must be positive, got %s", s.BackoffBase))
		}

		if ceiling < base {
			errs = append(errs, fmt.Errorf("backoff_max: must be >= backoff_base (%s), got %s", s.BackoffBase, s.BackoffMax))
		}
	}

	return errs
}

func validateRemote(r *RemoteConfig) []error {
	if r.BaseURL == "" {
		return nil
	}

	return validateURL("base_url", r.BaseURL, "http", "https")
}

var validProbeModes = map[string]bool{
	ProbeHTTP:      true,
	ProbeWebSocket: true,
	ProbeNone:      true,
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	if !validProbeModes[n.ProbeMode] {
		errs = append(errs, fmt.Errorf("probe_mode: must be one of http, websocket, none; got %q", n.ProbeMode))
	}

	if n.ProbeURL != "" {
		schemes := []string{"http", "https"}
		if n.ProbeMode == ProbeWebSocket {
			schemes = []string{"ws", "wss"}
		}

		errs = append(errs, validateURL("probe_url", n.ProbeURL, schemes...)...)
	}

	errs = append(errs, validateDuration("probe_interval", n.ProbeInterval, minProbeInterval)...)
	errs = append(errs, validateDuration("connect_timeout", n.ConnectTimeout, minConnectTimeout)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	if l.LogRetentionDays < minLogRetention {
		errs = append(errs, fmt.Errorf("log_retention_days: must be >= %d, got %d", minLogRetention, l.LogRetentionDays))
	}

	return errs
}

// SlogLevel maps log_level to a slog.Level. Unknown values map to info.
func (l *LoggingConfig) SlogLevel() slog.Level {
	switch l.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseDuration(field, value string) (time.Duration, []error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	return d, nil
}

func validateDuration(field, value string, minimum time.Duration) []error {
	d, errs := parseDuration(field, value)
	if len(errs) > 0 {
		return errs
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, value)}
	}

	return nil
}

func validateURL(field, raw string, schemes ...string) []error {
	u, err := url.Parse(raw)
	if err != nil {
		return []error{fmt.Errorf("%s: %w", field, err)}
	}

	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) && u.Host != "" {
			return nil
		}
	}

	return []error{fmt.Errorf("%s: must be an absolute %s URL, got %q", field, strings.Join(schemes, " or "), raw)}
}
