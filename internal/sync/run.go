package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/offlineq/internal/dispatch"
	"github.com/tonimelisma/offlineq/internal/queue"
)

const reasonOverrideConflict = "conflict persisted after override"

// RunReport summarizes one sync run.
type RunReport struct {
	Attempted int
	Succeeded int
	Retried   int
	Abandoned int
	Discarded int
	Remaining int
	Status    Status
	Duration  time.Duration
}

// runStats is shared by the lanes of a run.
type runStats struct {
	mu        stdsync.Mutex
	attempted int
	succeeded int
	retried   int
	abandoned int
	discarded int
}

func (s *runStats) add(field *int) {
	s.mu.Lock()
	*field++
	s.mu.Unlock()
}

// Sync runs the orchestrator once. A run is single-flight: if another run is
// active, Sync returns nil at once without touching the queue. An offline
// network also returns nil at once. Per-action failures never fail the run;
// the returned error only reports a store failure while listing the queue.
func (e *Engine) Sync(ctx context.Context) error {
	_, err := e.SyncReport(ctx)
	return err
}

// SyncReport is Sync that also returns counts for the run. The report is nil
// when the run was skipped.
func (e *Engine) SyncReport(ctx context.Context) (*RunReport, error) {
	if !e.running.CompareAndSwap(false, true) {
		e.logger.Debug("sync already running, skipping")
		return nil, nil
	}
	defer e.running.Store(false)

	if !e.network.IsOnline(ctx) {
		e.logger.Debug("offline, skipping sync")
		return nil, nil
	}

	return e.run(ctx)
}

func (e *Engine) run(ctx context.Context) (*RunReport, error) {
	start := e.clock.Now()
	tuning := e.Tuning()

	actions, err := e.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync: listing queue: %w", err)
	}

	e.emit(StatusSyncing, len(actions))

	e.logger.Info("sync run starting",
		slog.Int("pending", len(actions)),
		slog.Int("batch_size", tuning.BatchSize),
		slog.Int("concurrency", tuning.Concurrency),
	)

	stats := &runStats{}

	for lo := 0; lo < len(actions) && ctx.Err() == nil; lo += tuning.BatchSize {
		hi := min(lo+tuning.BatchSize, len(actions))
		e.runBatch(ctx, actions[lo:hi], tuning, stats)
	}

	remaining, err := e.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync: listing queue after run: %w", err)
	}

	status := StatusSynced
	if len(remaining) > 0 || stats.abandoned > 0 {
		status = StatusError
	}

	e.emit(status, len(remaining))

	if len(remaining) > 0 && ctx.Err() == nil {
		e.scheduleRetry(tuning.Backoff.Delay(minRetryCount(remaining)))
	}

	report := &RunReport{
		Attempted: stats.attempted,
		Succeeded: stats.succeeded,
		Retried:   stats.retried,
		Abandoned: stats.abandoned,
		Discarded: stats.discarded,
		Remaining: len(remaining),
		Status:    status,
		Duration:  e.clock.Now().Sub(start),
	}

	e.logger.Info("sync run complete",
		slog.Int("attempted", report.Attempted),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("retried", report.Retried),
		slog.Int("abandoned", report.Abandoned),
		slog.Int("discarded", report.Discarded),
		slog.Int("remaining", report.Remaining),
		slog.String("status", string(status)),
		slog.Duration("duration", report.Duration),
	)

	return report, nil
}

// runBatch dispatches one batch. With a single lane the batch runs in
// enqueue order. Otherwise actions are grouped by entity: each lane runs in
// enqueue order and lanes run in parallel up to tuning.Concurrency.
func (e *Engine) runBatch(ctx context.Context, batch []queue.Action, tuning Tuning, stats *runStats) {
	if tuning.Concurrency <= 1 {
		for i := range batch {
			e.process(ctx, &batch[i], tuning, stats)
		}

		return
	}

	g := new(errgroup.Group)
	g.SetLimit(tuning.Concurrency)

	for _, lane := range laneByEntity(batch) {
		g.Go(func() error {
			for _, a := range lane {
				e.process(ctx, a, tuning, stats)
			}

			return nil
		})
	}

	_ = g.Wait() // lanes never return errors
}

// laneByEntity groups actions by normalized entity, keeping enqueue order
// inside each lane and ordering lanes by first appearance.
func laneByEntity(batch []queue.Action) [][]*queue.Action {
	index := make(map[string]int)

	var lanes [][]*queue.Action

	for i := range batch {
		key := dispatch.NormalizeEntity(batch[i].Entity)

		idx, ok := index[key]
		if !ok {
			idx = len(lanes)
			index[key] = idx
			lanes = append(lanes, nil)
		}

		lanes[idx] = append(lanes[idx], &batch[i])
	}

	return lanes
}

// process dispatches one action and applies the outcome to the store.
func (e *Engine) process(ctx context.Context, a *queue.Action, tuning Tuning, stats *runStats) {
	if ctx.Err() != nil {
		return
	}

	stats.add(&stats.attempted)

	err := e.dispatchOnce(ctx, a, tuning.DispatchTimeout, false)
	if err != nil && ctx.Err() != nil {
		// Canceled by Close. The action stays queued untouched.
		return
	}

	e.settle(ctx, a, err, tuning, stats, false)
}

// settle applies a dispatch result. overridden is true for the re-dispatch
// that follows a won conflict.
func (e *Engine) settle(ctx context.Context, a *queue.Action, err error, tuning Tuning, stats *runStats, overridden bool) {
	switch dispatch.Classify(err) {
	case dispatch.ClassNone:
		e.succeed(ctx, a, stats)
	case dispatch.ClassPermanent:
		e.abandon(ctx, a, OutcomeAbandoned, err.Error(), stats)
	case dispatch.ClassTransient:
		e.retry(ctx, a, err, stats)
	case dispatch.ClassConflict:
		if overridden {
			e.abandon(ctx, a, OutcomeAbandoned, reasonOverrideConflict, stats)
			return
		}

		e.resolveConflict(ctx, a, err, tuning, stats)
	}
}

// dispatchOnce calls the dispatcher with a per-call deadline. An expired
// deadline is reported as transient whatever the handler returned. The
// handler runs on its own goroutine so that one which ignores its context
// cannot stall the run; it is left to finish in the background.
func (e *Engine) dispatchOnce(ctx context.Context, a *queue.Action, timeout time.Duration, override bool) error {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if override {
		dctx = dispatch.WithOverride(dctx)
	}

	done := make(chan error, 1)

	go func() {
		done <- e.safeDispatch(dctx, a)
	}()

	var err error

	select {
	case err = <-done:
	case <-dctx.Done():
		err = dctx.Err()
		e.logger.Warn("dispatch abandoned at deadline, handler still running",
			slog.String("id", a.ID),
			slog.Duration("timeout", timeout),
		)
	}

	if err != nil && ctx.Err() == nil && errors.Is(dctx.Err(), context.DeadlineExceeded) {
		// The handler's own classification is dropped: only the deadline counts.
		err = dispatch.Transient("dispatch", fmt.Errorf("%w after %s: %v", context.DeadlineExceeded, timeout, err))
	}

	return err
}

// safeDispatch converts a dispatcher panic into a permanent failure.
func (e *Engine) safeDispatch(ctx context.Context, a *queue.Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("dispatcher panicked",
				slog.String("id", a.ID),
				slog.Any("panic", r),
			)
			err = dispatch.Permanent("dispatch "+a.ID, fmt.Errorf("panic: %v", r))
		}
	}()

	return e.dispatcher.Dispatch(ctx, a)
}

func (e *Engine) succeed(ctx context.Context, a *queue.Action, stats *runStats) {
	if err := e.store.Remove(ctx, a.ID); err != nil {
		// The action stays queued and will be dispatched again.
		e.logger.Error("removing dispatched action",
			slog.String("id", a.ID),
			slog.String("error", err.Error()),
		)

		return
	}

	stats.add(&stats.succeeded)

	e.logger.Debug("action dispatched",
		slog.String("id", a.ID),
		slog.String("entity", a.Entity),
		slog.String("type", a.Type.String()),
	)

	if a.InvalidationKey != "" {
		e.invalidations.Notify(a.InvalidationKey)
	}
}

// retry records a transient failure. The failure that brings the attempt
// count to MaxRetries abandons the action.
func (e *Engine) retry(ctx context.Context, a *queue.Action, cause error, stats *runStats) {
	n := a.RetryCount + 1

	if a.Exhausted() {
		failed := *a
		failed.RetryCount = n

		e.abandon(ctx, &failed, OutcomeAbandoned,
			fmt.Sprintf("retries exhausted after %d attempts: %v", n, cause), stats)

		return
	}

	if err := e.store.UpdateRetryCount(ctx, a.ID, n); err != nil {
		e.logger.Error("recording retry",
			slog.String("id", a.ID),
			slog.String("error", err.Error()),
		)

		return
	}

	stats.add(&stats.retried)

	e.logger.Warn("action failed, will retry",
		slog.String("id", a.ID),
		slog.String("entity", a.Entity),
		slog.Int("retry_count", n),
		slog.Int("max_retries", a.MaxRetries),
		slog.String("error", cause.Error()),
	)
}

func (e *Engine) resolveConflict(ctx context.Context, a *queue.Action, cause error, tuning Tuning, stats *runStats) {
	var ce *dispatch.ConflictError
	errors.As(cause, &ce)

	res := e.policy.Resolve(a, ce)

	e.logger.Info("conflict resolved",
		slog.String("id", a.ID),
		slog.String("entity", a.Entity),
		slog.String("decision", res.Decision.String()),
	)

	if res.Decision == DecisionDiscard {
		e.abandon(ctx, a, OutcomeDiscarded, res.Reason, stats)
		return
	}

	err := e.dispatchOnce(ctx, a, tuning.DispatchTimeout, true)
	if err != nil && ctx.Err() != nil {
		return
	}

	e.settle(ctx, a, err, tuning, stats, true)
}

// abandon moves the action to the abandoned-action log and reports it.
func (e *Engine) abandon(ctx context.Context, a *queue.Action, outcome Outcome, reason string, stats *runStats) {
	at := e.clock.Now()

	if err := e.store.Abandon(ctx, a, reason, at); err != nil {
		e.logger.Error("abandoning action",
			slog.String("id", a.ID),
			slog.String("error", err.Error()),
		)

		return
	}

	if outcome == OutcomeDiscarded {
		stats.add(&stats.discarded)
	} else {
		stats.add(&stats.abandoned)
	}

	e.reports.Notify(Report{
		ActionID: a.ID,
		Entity:   a.Entity,
		Type:     a.Type,
		Outcome:  outcome,
		Reason:   reason,
		At:       at,
	})
}

func minRetryCount(actions []queue.Action) int {
	lowest := actions[0].RetryCount

	for i := range actions[1:] {
		lowest = min(lowest, actions[i+1].RetryCount)
	}

	return lowest
}
