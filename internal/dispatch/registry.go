// Package dispatch maps (entity, action type) pairs to caller-supplied remote
// operations. It holds no business logic: the sync engine dispatches queued
// actions through a Registry without knowing what any handler does.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/offlineq/internal/queue"
)

// Handler performs the remote operation for one action payload. It returns
// nil on success, or an error that Classify maps to a retry class.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Validator checks a payload at enqueue time. Any error rejects the action.
type Validator func(payload json.RawMessage) error

type route struct {
	entity string
	typ    queue.ActionType
}

// Registry is a concurrency-safe handler and validator table.
type Registry struct {
	mu         sync.RWMutex
	handlers   map[route]Handler
	validators map[route]Validator
	logger     *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		handlers:   make(map[route]Handler),
		validators: make(map[route]Validator),
		logger:     logger,
	}
}

// NormalizeEntity returns the canonical form of an entity name: trimmed,
// Unicode NFC, lower case. "Job" and "job" address the same handlers.
func NormalizeEntity(entity string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(entity)))
}

// Register installs h for (entity, typ), replacing any previous handler.
func (r *Registry) Register(entity string, typ queue.ActionType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[route{NormalizeEntity(entity), typ}] = h

	r.logger.Debug("dispatch: handler registered",
		slog.String("entity", NormalizeEntity(entity)),
		slog.String("type", typ.String()),
	)
}

// RegisterValidator installs a payload validator for (entity, typ).
func (r *Registry) RegisterValidator(entity string, typ queue.ActionType, v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.validators[route{NormalizeEntity(entity), typ}] = v
}

// Validate runs the validator registered for (entity, typ), if any.
func (r *Registry) Validate(entity string, typ queue.ActionType, payload json.RawMessage) error {
	r.mu.RLock()
	v, ok := r.validators[route{NormalizeEntity(entity), typ}]
	r.mu.RUnlock()

	if !ok {
		return nil
	}

	return v(payload)
}

// Dispatch invokes the handler registered for the action. A missing handler
// is a permanent failure, as is a handler panic.
func (r *Registry) Dispatch(ctx context.Context, a *queue.Action) (err error) {
	key := route{NormalizeEntity(a.Entity), a.Type}

	r.mu.RLock()
	h, ok := r.handlers[key]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("dispatch: %s %s: %w", key.entity, key.typ, ErrNoHandler)
	}

	ctx = context.WithValue(ctx, metaKey{}, Meta{
		ActionID:   a.ID,
		Entity:     key.entity,
		Type:       a.Type,
		CreatedAt:  a.CreatedAt,
		RetryCount: a.RetryCount,
		Override:   isOverride(ctx),
	})

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("dispatch: handler panicked",
				slog.String("id", a.ID),
				slog.String("entity", key.entity),
				slog.Any("panic", p),
			)
			err = Permanent("handler "+key.entity, fmt.Errorf("panic: %v", p))
		}
	}()

	return h(ctx, a.Payload)
}

// Meta describes the action behind a handler call. Handlers use ActionID as
// an idempotency key; Override is set on the single re-dispatch that follows
// a conflict the local action won.
type Meta struct {
	ActionID   string
	Entity     string
	Type       queue.ActionType
	CreatedAt  time.Time
	RetryCount int
	Override   bool
}

type (
	metaKey     struct{}
	overrideKey struct{}
)

// MetaFrom returns the Meta attached by Registry.Dispatch.
func MetaFrom(ctx context.Context) (Meta, bool) {
	m, ok := ctx.Value(metaKey{}).(Meta)
	return m, ok
}

// WithOverride marks ctx so the next dispatch carries Meta.Override.
func WithOverride(ctx context.Context) context.Context {
	return context.WithValue(ctx, overrideKey{}, true)
}

func isOverride(ctx context.Context) bool {
	v, _ := ctx.Value(overrideKey{}).(bool)
	return v
}
