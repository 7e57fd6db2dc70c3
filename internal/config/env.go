package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig  = "OFFLINEQ_CONFIG"
	EnvDB      = "OFFLINEQ_DB"
	EnvBaseURL = "OFFLINEQ_BASE_URL"
	EnvToken   = "OFFLINEQ_TOKEN"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // OFFLINEQ_CONFIG: override config file path
	DBPath     string // OFFLINEQ_DB: queue database path
	BaseURL    string // OFFLINEQ_BASE_URL: remote API base URL
	// Token is the bearer token for the remote API (OFFLINEQ_TOKEN). It is
	// never read from the config file.
	Token string
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		DBPath:     os.Getenv(EnvDB),
		BaseURL:    os.Getenv(EnvBaseURL),
		Token:      os.Getenv(EnvToken),
	}
}
