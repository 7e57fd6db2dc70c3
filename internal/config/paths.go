package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "offlineq"

const (
	configFileName = "config.toml"
	dbFileName     = "queue.db"
	pidFileName    = "offlineq.pid"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux it respects XDG_CONFIG_HOME (default ~/.config/offlineq). On macOS
// it uses ~/Library/Application Support/offlineq.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_CONFIG_HOME", home, ".config")
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// DefaultDataDir returns the platform-specific directory for the queue
// database, logs and the PID file. On Linux it respects XDG_DATA_HOME
// (default ~/.local/share/offlineq).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_DATA_HOME", home, ".local", "share")
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

func xdgDir(envVar, home string, fallback ...string) string {
	if xdg := os.Getenv(envVar); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(append(append([]string{home}, fallback...), appName)...)
}

// DefaultConfigPath returns the full path to the default config file, used
// when neither OFFLINEQ_CONFIG nor --config is given.
func DefaultConfigPath() string {
	return joinIfDir(DefaultConfigDir(), configFileName)
}

// DefaultDBPath returns the default queue database path.
func DefaultDBPath() string {
	return joinIfDir(DefaultDataDir(), dbFileName)
}

// PIDPath returns the watch daemon's PID file for the queue at dbPath. The
// file sits next to the database so each queue has at most one daemon.
func PIDPath(dbPath string) string {
	if dbPath == "" {
		return ""
	}

	return filepath.Join(filepath.Dir(dbPath), pidFileName)
}

func joinIfDir(dir, name string) string {
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, name)
}
