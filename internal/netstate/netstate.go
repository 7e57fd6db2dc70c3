// Package netstate observes connectivity to the remote service. It is a pure
// signal source: no retry or backoff logic lives here. When connectivity
// cannot be determined, the monitors report offline.
package netstate

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tonimelisma/offlineq/internal/observe"
)

// Monitor reports the current connectivity state and its transitions.
type Monitor interface {
	// IsOnline is a point-in-time check. It may run a lightweight probe.
	IsOnline(ctx context.Context) bool
	// OnChange registers fn for online/offline transitions.
	OnChange(fn func(online bool)) observe.Unsubscribe
}

// Static is a Monitor whose state is set by its owner. It backs the CLI's
// --offline flag and deterministic tests.
type Static struct {
	mu        sync.Mutex
	online    bool
	listeners *observe.Registry[bool]
}

// NewStatic creates a Static monitor in the given state.
func NewStatic(online bool, logger *slog.Logger) *Static {
	return &Static{
		online:    online,
		listeners: observe.New[bool]("netstate", logger),
	}
}

// IsOnline returns the state last passed to Set.
func (s *Static) IsOnline(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.online
}

// Set changes the state and notifies listeners if it actually changed.
func (s *Static) Set(online bool) {
	s.mu.Lock()
	changed := s.online != online
	s.online = online
	s.mu.Unlock()

	if changed {
		s.listeners.Notify(online)
	}
}

// OnChange registers fn for transitions.
func (s *Static) OnChange(fn func(online bool)) observe.Unsubscribe {
	return s.listeners.Subscribe(fn)
}
