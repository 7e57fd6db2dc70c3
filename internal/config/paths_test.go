package config

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPaths_RespectXDG(t *testing.T) {
	if runtime.GOOS != platformLinux {
		t.Skip("XDG variables only apply on Linux")
	}

	cfgHome := t.TempDir()
	dataHome := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", cfgHome)
	t.Setenv("XDG_DATA_HOME", dataHome)

	assert.Equal(t, filepath.Join(cfgHome, "offlineq", "config.toml"), DefaultConfigPath())
	assert.Equal(t, filepath.Join(dataHome, "offlineq", "queue.db"), DefaultDBPath())
	assert.Equal(t, filepath.Join(dataHome, "offlineq", "offlineq.pid"), PIDPath(DefaultDBPath()))
}

func TestDefaultPaths_HomeFallback(t *testing.T) {
	if runtime.GOOS != platformLinux {
		t.Skip("layout checked on Linux only")
	}

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")

	assert.Equal(t, filepath.Join(home, ".config", "offlineq"), DefaultConfigDir())
	assert.Equal(t, filepath.Join(home, ".local", "share", "offlineq"), DefaultDataDir())
}

func TestEffectiveDBPath(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DefaultDBPath(), cfg.EffectiveDBPath())

	cfg.DBPath = "/tmp/q.db"
	assert.Equal(t, "/tmp/q.db", cfg.EffectiveDBPath())
}

func TestPIDPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/srv", "queues", "offlineq.pid"), PIDPath("/srv/queues/orders.db"))
	assert.Empty(t, PIDPath(""))
}
