package config

// Default values for configuration options. These are layer 0 of the
// override chain and work without any config file, except that dispatching
// needs base_url.
const (
	defaultMaxRetries       = 3
	defaultBatchSize        = 50
	defaultConcurrency      = 1
	defaultDispatchTimeout  = "30s"
	defaultBackoffBase      = "2s"
	defaultBackoffMax       = "10m"
	defaultBackoffJitter    = 0.25
	defaultPollInterval     = "1m"
	defaultProbeMode        = ProbeHTTP
	defaultProbeInterval    = "30s"
	defaultConnectTimeout   = "10s"
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
	defaultLogRetentionDays = 30
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		QueueConfig:   QueueConfig{DefaultMaxRetries: defaultMaxRetries},
		SyncConfig:    defaultSyncConfig(),
		NetworkConfig: defaultNetworkConfig(),
		LoggingConfig: defaultLoggingConfig(),
	}
}

func defaultSyncConfig() SyncConfig {
	return SyncConfig{
		BatchSize:       defaultBatchSize,
		Concurrency:     defaultConcurrency,
		DispatchTimeout: defaultDispatchTimeout,
		BackoffBase:     defaultBackoffBase,
		BackoffMax:      defaultBackoffMax,
		BackoffJitter:   defaultBackoffJitter,
		PollInterval:    defaultPollInterval,
	}
}

func defaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		ProbeMode:      defaultProbeMode,
		ProbeInterval:  defaultProbeInterval,
		ConnectTimeout: defaultConnectTimeout,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:         defaultLogLevel,
		LogFormat:        defaultLogFormat,
		LogRetentionDays: defaultLogRetentionDays,
	}
}
