package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/offlineq/internal/dispatch"
	"github.com/tonimelisma/offlineq/internal/netstate"
	"github.com/tonimelisma/offlineq/internal/queue"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// fakeClock fires timers only when Advance moves past their deadline.
type fakeClock struct {
	mu     stdsync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)

	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}

	t.stopped = true

	return true
}

// Advance moves the clock forward and runs every timer that came due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)

	var due []*fakeTimer

	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

// Armed returns the remaining delay of every timer that has not fired or
// been stopped.
func (c *fakeClock) Armed() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []time.Duration

	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t.at.Sub(c.now))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

// recorder collects everything the engine broadcasts.
type recorder struct {
	mu      stdsync.Mutex
	events  []StatusEvent
	reports []Report
	keys    []string
}

func (r *recorder) Events() []StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]StatusEvent(nil), r.events...)
}

func (r *recorder) Last() StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.events) == 0 {
		return StatusEvent{}
	}

	return r.events[len(r.events)-1]
}

func (r *recorder) Reports() []Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Report(nil), r.reports...)
}

func (r *recorder) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.keys...)
}

type harness struct {
	engine *Engine
	store  *queue.SQLiteStore
	reg    *dispatch.Registry
	net    *netstate.Static
	clock  *fakeClock
	rec    *recorder
}

// newHarness builds an engine on a fresh SQLite store. Backoff jitter is
// zero so timer delays are exact.
func newHarness(t *testing.T, online bool, tune func(*EngineConfig)) *harness {
	t.Helper()

	logger := testLogger()
	ctx := context.Background()

	store, err := queue.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "queue.db"), logger)
	require.NoError(t, err)

	var seq atomic.Int64

	h := &harness{
		store: store,
		reg:   dispatch.NewRegistry(logger),
		net:   netstate.NewStatic(online, logger),
		clock: newFakeClock(),
		rec:   &recorder{},
	}

	cfg := &EngineConfig{
		Store:      store,
		Dispatcher: h.reg,
		Network:    h.net,
		Clock:      h.clock,
		Logger:     logger,
		Tuning: Tuning{
			Backoff: Backoff{Base: time.Second, Max: time.Minute},
		},
		NewID: func() string { return fmt.Sprintf("act-%03d", seq.Add(1)) },
	}

	if tune != nil {
		tune(cfg)
	}

	h.engine, err = NewEngine(cfg)
	require.NoError(t, err)

	h.engine.OnSyncStatusChange(func(s Status, n int) {
		h.rec.mu.Lock()
		h.rec.events = append(h.rec.events, StatusEvent{Status: s, Pending: n})
		h.rec.mu.Unlock()
	})
	h.engine.OnActionReport(func(r Report) {
		h.rec.mu.Lock()
		h.rec.reports = append(h.rec.reports, r)
		h.rec.mu.Unlock()
	})
	h.engine.OnInvalidate(func(key string) {
		h.rec.mu.Lock()
		h.rec.keys = append(h.rec.keys, key)
		h.rec.mu.Unlock()
	})

	t.Cleanup(func() {
		h.engine.Close()
		store.Close()
	})

	return h
}

func (h *harness) enqueue(t *testing.T, entity string, typ queue.ActionType, payload string) string {
	t.Helper()

	id, err := h.engine.Enqueue(context.Background(), Draft{
		Type:    typ,
		Entity:  entity,
		Payload: json.RawMessage(payload),
	})
	require.NoError(t, err)

	return id
}

func (h *harness) pending(t *testing.T) int {
	t.Helper()

	n, err := h.engine.PendingCount(context.Background())
	require.NoError(t, err)

	return n
}

// callLog records handler invocations safely across lanes.
type callLog struct {
	mu    stdsync.Mutex
	calls []string
}

func (c *callLog) add(s string) {
	c.mu.Lock()
	c.calls = append(c.calls, s)
	c.mu.Unlock()
}

func (c *callLog) All() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.calls...)
}

// recordingHandler logs the action ID of every call and returns the result
// of next, which may be nil.
func recordingHandler(log *callLog, next func(ctx context.Context) error) dispatch.Handler {
	return func(ctx context.Context, _ json.RawMessage) error {
		m, _ := dispatch.MetaFrom(ctx)
		log.add(m.ActionID)

		if next == nil {
			return nil
		}

		return next(ctx)
	}
}
