package config

import "sync"

// Holder is the live configuration of a long-running process. Watch writes
// reloaded configs into it; readers take the current snapshot with Config
// and learn about the next reload from Changed.
type Holder struct {
	path string

	mu      sync.RWMutex
	cfg     *Config
	changed chan struct{}
}

// NewHolder wraps the config loaded from path.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{path: path, cfg: cfg, changed: make(chan struct{})}
}

// Config returns the current snapshot. Snapshots are never mutated.
func (h *Holder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

// Path is the file the config was loaded from.
func (h *Holder) Path() string {
	return h.path
}

// Changed returns a channel that is closed by the next Update. Take the
// channel before reading Config so that no update falls in between.
func (h *Holder) Changed() <-chan struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.changed
}

// Update installs cfg and wakes every reader waiting on Changed.
func (h *Holder) Update(cfg *Config) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cfg = cfg
	close(h.changed)
	h.changed = make(chan struct{})
}
