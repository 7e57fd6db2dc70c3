// Package sync drains the durable action queue against a remote service. The
// Engine combines the queue manager API used by callers, the single-flight
// orchestrator that dispatches queued actions, conflict resolution, backoff
// re-triggers and the status broadcaster.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/offlineq/internal/netstate"
	"github.com/tonimelisma/offlineq/internal/observe"
	"github.com/tonimelisma/offlineq/internal/queue"
)

// Tuning defaults.
const (
	DefaultBatchSize       = 50
	DefaultConcurrency     = 1
	DefaultDispatchTimeout = 30 * time.Second
)

// Dispatcher invokes remote operations and validates payloads at enqueue
// time. Satisfied by *dispatch.Registry.
type Dispatcher interface {
	Dispatch(ctx context.Context, a *queue.Action) error
	Validate(entity string, typ queue.ActionType, payload json.RawMessage) error
}

// Tuning holds the throughput knobs of the orchestrator. None of them affect
// correctness.
type Tuning struct {
	// BatchSize bounds how many actions one batch dispatches.
	BatchSize int
	// Concurrency is the number of entity lanes dispatched in parallel
	// inside a batch. 1 dispatches the whole batch in enqueue order.
	Concurrency int
	// DispatchTimeout bounds each handler call.
	DispatchTimeout time.Duration
	// Backoff schedules the re-run after a run that left actions queued.
	// A zero Jitter is kept as is.
	Backoff Backoff
}

// DefaultTuning returns batches of 50, one lane at a time, a 30s dispatch
// timeout and DefaultBackoff.
func DefaultTuning() Tuning {
	return Tuning{
		BatchSize:       DefaultBatchSize,
		Concurrency:     DefaultConcurrency,
		DispatchTimeout: DefaultDispatchTimeout,
		Backoff:         DefaultBackoff(),
	}
}

// withDefaults fills zero fields from DefaultTuning.
func (t Tuning) withDefaults() Tuning {
	d := DefaultTuning()

	if t.BatchSize <= 0 {
		t.BatchSize = d.BatchSize
	}

	if t.Concurrency <= 0 {
		t.Concurrency = d.Concurrency
	}

	if t.DispatchTimeout <= 0 {
		t.DispatchTimeout = d.DispatchTimeout
	}

	if t.Backoff.Base <= 0 {
		t.Backoff.Base = d.Backoff.Base
	}

	if t.Backoff.Max <= 0 {
		t.Backoff.Max = d.Backoff.Max
	}

	return t
}

// EngineConfig holds the options for NewEngine. Store, Dispatcher and
// Network are required.
type EngineConfig struct {
	Store      queue.Store
	Dispatcher Dispatcher
	Network    netstate.Monitor
	Clock      Clock        // nil uses SystemClock
	Logger     *slog.Logger // nil uses slog.Default
	// DefaultMaxRetries applies to drafts that leave MaxRetries at zero.
	// Zero means queue.DefaultMaxRetries.
	DefaultMaxRetries int
	Tuning            Tuning
	NewID             func() string // nil uses uuid.NewString
	Policy            Policy        // nil uses LastWriteWins
}

// Draft is the caller-supplied part of an action. The engine assigns ID,
// CreatedAt and RetryCount.
type Draft struct {
	Type            queue.ActionType
	Entity          string
	Payload         json.RawMessage
	MaxRetries      int // 0 means the engine default
	InvalidationKey string
}

// Engine is the offline action queue and its sync orchestrator. Construct it
// with NewEngine and release it with Close.
type Engine struct {
	store             queue.Store
	dispatcher        Dispatcher
	network           netstate.Monitor
	clock             Clock
	logger            *slog.Logger
	defaultMaxRetries int
	newID             func() string
	policy            Policy

	tuningMu stdsync.RWMutex
	tuning   Tuning

	// running is the single-flight guard for Sync.
	running atomic.Bool

	timerMu stdsync.Mutex
	timer   Timer

	// Background sync runs use baseCtx and are tracked by bg so Close can
	// wait for them. closed is guarded by bgMu.
	baseCtx  context.Context
	cancel   context.CancelFunc
	bgMu     stdsync.Mutex
	bg       stdsync.WaitGroup
	closed   bool
	unsubNet observe.Unsubscribe

	status        *observe.Registry[StatusEvent]
	reports       *observe.Registry[Report]
	invalidations *observe.Registry[string]
}

// NewEngine creates an Engine. It does not subscribe to network changes
// until Start is called.
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("sync: engine config: store is required")
	case cfg.Dispatcher == nil:
		return nil, errors.New("sync: engine config: dispatcher is required")
	case cfg.Network == nil:
		return nil, errors.New("sync: engine config: network monitor is required")
	case cfg.DefaultMaxRetries < 0:
		return nil, fmt.Errorf("sync: engine config: default max retries must not be negative, got %d", cfg.DefaultMaxRetries)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock()
	}

	maxRetries := cfg.DefaultMaxRetries
	if maxRetries == 0 {
		maxRetries = queue.DefaultMaxRetries
	}

	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	var policy Policy = LastWriteWins{}
	if cfg.Policy != nil {
		policy = cfg.Policy
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		store:             cfg.Store,
		dispatcher:        cfg.Dispatcher,
		network:           cfg.Network,
		clock:             clock,
		logger:            logger,
		defaultMaxRetries: maxRetries,
		newID:             newID,
		policy:            policy,
		tuning:            cfg.Tuning.withDefaults(),
		baseCtx:           ctx,
		cancel:            cancel,
		status:            observe.New[StatusEvent]("sync status", logger),
		reports:           observe.New[Report]("action report", logger),
		invalidations:     observe.New[string]("invalidation", logger),
	}, nil
}

// Start subscribes to connectivity changes: every transition to online
// triggers a background sync. If the network is already online and actions
// are pending, a sync is triggered immediately.
func (e *Engine) Start(ctx context.Context) {
	unsub := e.network.OnChange(func(online bool) {
		if online {
			e.trigger("network online")
		}
	})

	e.bgMu.Lock()
	if e.closed {
		e.bgMu.Unlock()
		unsub()

		return
	}

	if e.unsubNet != nil {
		e.unsubNet()
	}

	e.unsubNet = unsub
	e.bgMu.Unlock()

	if pending, err := e.HasPending(ctx); err == nil && pending && e.network.IsOnline(ctx) {
		e.trigger("startup")
	}
}

// Close stops network subscriptions, disarms the backoff timer, cancels any
// in-flight background run and waits for it to return. The store is not
// closed; it belongs to the caller.
func (e *Engine) Close() {
	e.bgMu.Lock()
	if e.closed {
		e.bgMu.Unlock()
		return
	}

	e.closed = true
	unsub := e.unsubNet
	e.unsubNet = nil
	e.bgMu.Unlock()

	if unsub != nil {
		unsub()
	}

	e.disarm()
	e.cancel()
	e.bg.Wait()
}

// Reconfigure replaces the tuning. It applies from the next run on.
func (e *Engine) Reconfigure(t Tuning) {
	t = t.withDefaults()

	e.tuningMu.Lock()
	e.tuning = t
	e.tuningMu.Unlock()

	e.logger.Info("sync tuning updated",
		slog.Int("batch_size", t.BatchSize),
		slog.Int("concurrency", t.Concurrency),
		slog.Duration("dispatch_timeout", t.DispatchTimeout),
	)
}

// Tuning returns the tuning the next run will use.
func (e *Engine) Tuning() Tuning {
	e.tuningMu.RLock()
	defer e.tuningMu.RUnlock()

	return e.tuning
}

// State reports whether a sync run is active.
func (e *Engine) State() State {
	if e.running.Load() {
		return StateSyncing
	}

	return StateIdle
}

// Enqueue validates the draft, assigns ID, CreatedAt and RetryCount=0, and
// persists the action. Once it returns nil the action is durably queued. If
// the network is online a background sync is triggered; that sync is best
// effort and never affects the result of Enqueue.
func (e *Engine) Enqueue(ctx context.Context, d Draft) (string, error) {
	if err := e.validate(d); err != nil {
		return "", err
	}

	maxRetries := d.MaxRetries
	if maxRetries == 0 {
		maxRetries = e.defaultMaxRetries
	}

	a := &queue.Action{
		ID:              e.newID(),
		Type:            d.Type,
		Entity:          d.Entity,
		Payload:         d.Payload,
		CreatedAt:       e.clock.Now(),
		MaxRetries:      maxRetries,
		InvalidationKey: d.InvalidationKey,
	}

	if err := e.store.Append(ctx, a); err != nil {
		return "", err
	}

	e.logger.Debug("action enqueued",
		slog.String("id", a.ID),
		slog.String("entity", a.Entity),
		slog.String("type", a.Type.String()),
	)

	if e.network.IsOnline(ctx) {
		e.trigger("enqueue")
	}

	return a.ID, nil
}

func (e *Engine) validate(d Draft) error {
	if strings.TrimSpace(d.Entity) == "" {
		return &queue.ValidationError{Field: "entity", Reason: "must not be empty"}
	}

	if !d.Type.Valid() {
		return &queue.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown action type %s", d.Type)}
	}

	if len(d.Payload) == 0 {
		return &queue.ValidationError{Field: "payload", Reason: "must not be empty"}
	}

	if !json.Valid(d.Payload) {
		return &queue.ValidationError{Field: "payload", Reason: "must be valid JSON"}
	}

	if d.MaxRetries < 0 {
		return &queue.ValidationError{Field: "max_retries", Reason: fmt.Sprintf("must not be negative, got %d", d.MaxRetries)}
	}

	if err := e.dispatcher.Validate(d.Entity, d.Type, d.Payload); err != nil {
		return &queue.ValidationError{Field: "payload", Reason: err.Error()}
	}

	return nil
}

// Queue returns the pending actions in enqueue order.
func (e *Engine) Queue(ctx context.Context) ([]queue.Action, error) {
	return e.store.List(ctx)
}

// PendingCount returns the number of queued actions.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	return e.store.Count(ctx)
}

// HasPending reports whether any action is queued.
func (e *Engine) HasPending(ctx context.Context) (bool, error) {
	n, err := e.store.Count(ctx)
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

// Abandoned returns up to limit entries of the abandoned-action log, newest
// first. A limit of zero or less returns every entry.
func (e *Engine) Abandoned(ctx context.Context, limit int) ([]queue.AbandonedAction, error) {
	return e.store.ListAbandoned(ctx, limit)
}

// Clear discards every pending action and broadcasts ('synced', 0). An action
// already in flight may still complete remotely.
func (e *Engine) Clear(ctx context.Context) error {
	if err := e.store.Clear(ctx); err != nil {
		return err
	}

	e.disarm()
	e.logger.Info("queue cleared")
	e.emit(StatusSynced, 0)

	return nil
}

// OnSyncStatusChange registers fn for (status, pendingCount) events.
func (e *Engine) OnSyncStatusChange(fn func(status Status, pending int)) observe.Unsubscribe {
	return e.status.Subscribe(func(ev StatusEvent) {
		fn(ev.Status, ev.Pending)
	})
}

// OnActionReport registers fn for abandoned and discarded actions.
func (e *Engine) OnActionReport(fn func(Report)) observe.Unsubscribe {
	return e.reports.Subscribe(fn)
}

// OnInvalidate registers fn for the invalidation keys of successfully
// dispatched actions.
func (e *Engine) OnInvalidate(fn func(key string)) observe.Unsubscribe {
	return e.invalidations.Subscribe(fn)
}

func (e *Engine) emit(s Status, pending int) {
	e.logger.Debug("sync status",
		slog.String("status", string(s)),
		slog.Int("pending", pending),
	)

	e.status.Notify(StatusEvent{Status: s, Pending: pending})
}

// trigger starts a background sync on the engine's base context. It is a
// no-op after Close.
func (e *Engine) trigger(reason string) {
	e.bgMu.Lock()
	defer e.bgMu.Unlock()

	if e.closed {
		return
	}

	e.bg.Add(1)

	go func() {
		defer e.bg.Done()

		e.logger.Debug("sync triggered", slog.String("reason", reason))

		if err := e.Sync(e.baseCtx); err != nil && e.baseCtx.Err() == nil {
			e.logger.Warn("background sync failed",
				slog.String("reason", reason),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// scheduleRetry arms the backoff timer, replacing any armed one.
func (e *Engine) scheduleRetry(delay time.Duration) {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()

	if e.timer != nil {
		e.timer.Stop()
	}

	var t Timer

	t = e.clock.AfterFunc(delay, func() {
		e.timerMu.Lock()
		if e.timer == t {
			e.timer = nil
		}
		e.timerMu.Unlock()

		e.trigger("backoff")
	})
	e.timer = t

	e.logger.Debug("retry scheduled", slog.Duration("delay", delay))
}

// disarm stops the backoff timer, if one is armed.
func (e *Engine) disarm() {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()

	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}
