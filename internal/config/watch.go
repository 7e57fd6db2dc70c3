package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events an editor produces when it
// saves a file.
const reloadDebounce = 250 * time.Millisecond

// Watch reloads the config file behind h whenever it changes, until ctx is
// canceled. The parent directory is watched so atomic rename-on-save is
// seen. load produces the new Config (typically Resolve with the original
// overrides). A failed load keeps the previous config; a successful one is
// published through h.Update.
func Watch(ctx context.Context, h *Holder, load func() (*Config, error), logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	path := h.Path()
	if path == "" {
		return errors.New("config: watch: no config file path")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watching %s: %w", dir, err)
	}

	target := filepath.Clean(path)

	debounce := time.NewTimer(reloadDebounce)
	debounce.Stop()

	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != target || ev.Op == fsnotify.Chmod {
				continue
			}

			debounce.Reset(reloadDebounce)

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("config watcher error", slog.String("error", werr.Error()))

		case <-debounce.C:
			cfg, loadErr := load()
			if loadErr != nil {
				logger.Warn("config reload failed, keeping previous config",
					slog.String("path", path),
					slog.String("error", loadErr.Error()),
				)

				continue
			}

			h.Update(cfg)
			logger.Info("config reloaded", slog.String("path", path))
		}
	}
}
