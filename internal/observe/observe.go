// Package observe provides a typed observer registry. Listeners are called
// synchronously in subscription order; a panicking listener is recovered and
// logged so it cannot starve the others or crash the notifier.
package observe

import (
	"log/slog"
	"sync"
)

// Unsubscribe removes a listener. Calling it more than once is a no-op.
type Unsubscribe func()

type entry[T any] struct {
	id uint64
	fn func(T)
}

// Registry fans out values of type T to subscribed listeners.
type Registry[T any] struct {
	name   string
	logger *slog.Logger

	mu        sync.Mutex
	nextID    uint64
	listeners []entry[T]
}

// New creates a Registry. name appears in log lines about failed listeners.
func New[T any](name string, logger *slog.Logger) *Registry[T] {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry[T]{name: name, logger: logger}
}

// Subscribe registers fn and returns its unsubscribe handle.
func (r *Registry[T]) Subscribe(fn func(T)) Unsubscribe {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.listeners = append(r.listeners, entry[T]{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *Registry[T]) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.listeners {
		if e.id == id {
			r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
			return
		}
	}
}

// Notify delivers v to every listener registered at the time of the call.
// Listeners may subscribe or unsubscribe from inside a callback.
func (r *Registry[T]) Notify(v T) {
	r.mu.Lock()
	snapshot := make([]entry[T], len(r.listeners))
	copy(snapshot, r.listeners)
	r.mu.Unlock()

	for _, e := range snapshot {
		r.call(e, v)
	}
}

// call runs one listener with panic recovery.
func (r *Registry[T]) call(e entry[T], v T) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("observer: listener panicked",
				slog.String("registry", r.name),
				slog.Uint64("listener", e.id),
				slog.Any("panic", p),
			)
		}
	}()

	e.fn(v)
}

// Len returns the number of subscribed listeners.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.listeners)
}
