package config

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_ReloadsOnChange(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "batch_size = 10\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	h := NewHolder(cfg, path)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))

	changed := h.Changed()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- Watch(ctx, h, func() (*Config, error) { return Load(path) }, logger)
	}()

	// Give the watcher time to register before writing.
	require.Eventually(t, func() bool {
		if err := os.WriteFile(path, []byte("batch_size = 20\n"), 0o600); err != nil {
			return false
		}

		return h.Config().BatchSize == 20
	}, 5*time.Second, 300*time.Millisecond)

	select {
	case <-changed:
	default:
		t.Fatal("reload did not signal Changed")
	}

	// An invalid file keeps the last good config.
	require.NoError(t, os.WriteFile(path, []byte("batch_size = -1\n"), 0o600))
	time.Sleep(3 * reloadDebounce)
	assert.Equal(t, 20, h.Config().BatchSize)

	cancel()
	require.NoError(t, <-done)
}

func TestWatch_RequiresPath(t *testing.T) {
	t.Parallel()

	err := Watch(context.Background(), NewHolder(DefaultConfig(), ""), nil, nil)
	assert.Error(t, err)
}
