package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWatchShutdown_FirstSignalCancelsSecondExits(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	defer cancelParent()

	signals := make(chan os.Signal, 1)
	released := make(chan struct{})
	exited := make(chan int, 1)

	ctx := watchShutdown(parent, discardLogger(), signals,
		func() { close(released) },
		func(code int) { exited <- code },
	)

	signals <- syscall.SIGTERM

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("first signal did not cancel the context")
	}

	assert.Empty(t, exited, "first signal must not exit")

	signals <- syscall.SIGINT

	select {
	case code := <-exited:
		assert.Equal(t, forcedExitCode, code)
	case <-time.After(2 * time.Second):
		t.Fatal("second signal did not force exit")
	}

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("signal source not released")
	}
}

func TestWatchShutdown_ParentCancelReleasesWithoutExit(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())

	released := make(chan struct{})
	exited := make(chan int, 1)

	ctx := watchShutdown(parent, discardLogger(), make(chan os.Signal),
		func() { close(released) },
		func(code int) { exited <- code },
	)

	cancelParent()

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine did not stop after parent cancel")
	}

	require.Error(t, ctx.Err())
	assert.Empty(t, exited)
}

func TestShutdownContext_SIGINTCancels(t *testing.T) {
	t.Parallel()

	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctx := shutdownContext(parent, discardLogger())

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled after SIGINT")
	}
}
