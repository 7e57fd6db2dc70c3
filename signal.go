package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// forcedExitCode is the status of a process killed by a second signal.
const forcedExitCode = 1

// shutdownContext returns a context that cancels on the first SIGINT/SIGTERM
// and force-exits on the second. Canceling stops the sync run between
// actions; an action whose request was cut off stays queued with its retry
// count untouched and is sent again on the next run.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return watchShutdown(parent, logger, sigCh, func() {
		signal.Stop(sigCh)
	}, os.Exit)
}

// watchShutdown is shutdownContext with the signal source, its release and
// the exit function supplied by the caller.
func watchShutdown(
	parent context.Context, logger *slog.Logger,
	signals <-chan os.Signal, release func(), exit func(int),
) context.Context {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		defer release()

		select {
		case sig := <-signals:
			logger.Info("received signal, stopping after in-flight actions",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-signals:
			logger.Warn("received second signal, forcing exit",
				slog.String("signal", sig.String()),
			)
			exit(forcedExitCode)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}
