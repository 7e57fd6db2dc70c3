package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/offlineq/internal/config"
	"github.com/tonimelisma/offlineq/internal/sync"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run a daemon that syncs whenever it can",
		Long: `Run in the foreground and keep the queue drained.

The daemon syncs when connectivity returns, when retry backoff expires, every
poll_interval if actions are pending, and immediately on SIGHUP (which
"offlineq enqueue" sends). Edits to the config file are picked up without a
restart for the sync tuning keys and poll_interval; base_url and the probe
settings take effect on the next start.

Stop with Ctrl-C or SIGTERM; a second signal forces exit.`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Cfg.BaseURL == "" {
		return fmt.Errorf("base_url not configured; set it in the config file or via %s", config.EnvBaseURL)
	}

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	// Trap SIGHUP before the PID file advertises the daemon, so an early
	// wake-up from enqueue cannot terminate it.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	defer signal.Stop(hup)

	lock, err := acquireDaemonLock(config.PIDPath(cc.Cfg.EffectiveDBPath()))
	if err != nil {
		return err
	}
	defer lock.Release()

	network, prober := newNetworkMonitor(cc)

	a, err := openApp(ctx, cc, network, prober)
	if err != nil {
		return err
	}
	defer a.Close()

	cc.Statusf("Watching queue %s\n", cc.Cfg.EffectiveDBPath())

	return watchLoop(ctx, cc, a, hup)
}

// watchLoop drives the daemon until ctx is canceled. wake delivers external
// sync requests (SIGHUP in production).
func watchLoop(ctx context.Context, cc *CLIContext, a *app, wake <-chan os.Signal) error {
	logger := cc.Logger

	unsubStatus := a.engine.OnSyncStatusChange(func(s sync.Status, pending int) {
		logger.Info("sync status", slog.String("status", string(s)), slog.Int("pending", pending))
	})
	defer unsubStatus()

	unsubReports := a.engine.OnActionReport(func(r sync.Report) {
		logger.Warn("action dropped",
			slog.String("id", r.ActionID),
			slog.String("entity", r.Entity),
			slog.String("type", r.Type.String()),
			slog.String("outcome", string(r.Outcome)),
			slog.String("reason", r.Reason),
		)
	})
	defer unsubReports()

	unsubInvalidate := a.engine.OnInvalidate(func(key string) {
		logger.Debug("invalidated", slog.String("key", key))
	})
	defer unsubInvalidate()

	a.engine.Start(ctx)

	if a.prober != nil {
		go a.prober.Run(ctx)
	}

	holder := startConfigWatch(ctx, cc)
	reloaded := holder.Changed()

	ticker := time.NewTicker(cc.Cfg.Durations().PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("watch daemon stopping")

			return nil

		case sig := <-wake:
			logger.Info("sync requested", slog.String("signal", sig.String()))
			syncIfPending(ctx, a, logger)

		case <-ticker.C:
			syncIfPending(ctx, a, logger)

		case <-reloaded:
			reloaded = holder.Changed()
			cfg := holder.Config()

			a.engine.Reconfigure(tuningFrom(cfg))
			ticker.Reset(cfg.Durations().PollInterval)
		}
	}
}

// startConfigWatch returns the daemon's live config. When a config file is
// in use it is watched in the background and reloads land in the holder;
// without one the holder never changes.
func startConfigWatch(ctx context.Context, cc *CLIContext) *config.Holder {
	holder := config.NewHolder(cc.Cfg, cc.CfgPath)
	if cc.CfgPath == "" {
		return holder
	}

	load := func() (*config.Config, error) {
		cfg, _, err := config.Resolve(cc.Env, cc.Flags.overrides())
		return cfg, err
	}

	go func() {
		if err := config.Watch(ctx, holder, load, cc.Logger); err != nil && !errors.Is(err, context.Canceled) {
			cc.Logger.Warn("config hot reload disabled", slog.String("error", err.Error()))
		}
	}()

	return holder
}

func syncIfPending(ctx context.Context, a *app, logger *slog.Logger) {
	pending, err := a.engine.HasPending(ctx)
	if err != nil {
		logger.Error("checking queue", slog.String("error", err.Error()))

		return
	}

	if !pending {
		return
	}

	if err := a.engine.Sync(ctx); err != nil && ctx.Err() == nil {
		logger.Error("sync failed", slog.String("error", err.Error()))
	}
}
