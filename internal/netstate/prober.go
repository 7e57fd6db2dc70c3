package netstate

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/tonimelisma/offlineq/internal/observe"
)

// ProbeFunc checks reachability once. A nil error means online.
type ProbeFunc func(ctx context.Context) error

// Prober is a Monitor that polls a ProbeFunc. Listeners hear about the first
// determination and every later transition.
type Prober struct {
	probe    ProbeFunc
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	known  bool
	online bool

	listeners *observe.Registry[bool]
}

// NewProber creates a Prober. interval is the polling period used by Run and
// timeout bounds each probe.
func NewProber(probe ProbeFunc, interval, timeout time.Duration, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}

	return &Prober{
		probe:     probe,
		interval:  interval,
		timeout:   timeout,
		logger:    logger,
		listeners: observe.New[bool]("netstate", logger),
	}
}

// IsOnline returns the last probed state, probing synchronously if nothing
// has been probed yet.
func (p *Prober) IsOnline(ctx context.Context) bool {
	p.mu.Lock()
	known, online := p.known, p.online
	p.mu.Unlock()

	if known {
		return online
	}

	return p.Check(ctx)
}

// OnChange registers fn for transitions.
func (p *Prober) OnChange(fn func(online bool)) observe.Unsubscribe {
	return p.listeners.Subscribe(fn)
}

// Check probes once, records the result and notifies listeners on change.
func (p *Prober) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.probe(probeCtx)
	cancel()

	online := err == nil

	p.mu.Lock()
	changed := !p.known || p.online != online
	p.known = true
	p.online = online
	p.mu.Unlock()

	if changed {
		attrs := []any{slog.Bool("online", online)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}

		p.logger.Info("connectivity changed", attrs...)
		p.listeners.Notify(online)
	}

	return online
}

// Run probes immediately and then every interval until ctx is canceled.
func (p *Prober) Run(ctx context.Context) {
	p.Check(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

// HTTPProbe issues a HEAD request to url. Any response below 500 counts as
// reachable: the service answered, even if it refused the request.
func HTTPProbe(client *http.Client, url string) ProbeFunc {
	if client == nil {
		client = http.DefaultClient
	}

	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, http.NoBody)
		if err != nil {
			return fmt.Errorf("netstate: building probe request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("netstate: probe %s: %w", url, err)
		}
		resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("netstate: probe %s: HTTP %d", url, resp.StatusCode)
		}

		return nil
	}
}

// WebSocketProbe opens a WebSocket to url, exchanges a ping and closes it.
func WebSocketProbe(url string) ProbeFunc {
	return func(ctx context.Context) error {
		conn, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			return fmt.Errorf("netstate: dial %s: %w", url, err)
		}
		defer conn.Close(websocket.StatusNormalClosure, "probe complete")

		// Ping needs a concurrent reader to receive the pong.
		ctx = conn.CloseRead(ctx)

		if err := conn.Ping(ctx); err != nil {
			return fmt.Errorf("netstate: ping %s: %w", url, err)
		}

		return nil
	}
}
