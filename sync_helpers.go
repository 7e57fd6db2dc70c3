package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	stdsync "sync"
	"time"

	"github.com/tonimelisma/offlineq/internal/config"
	"github.com/tonimelisma/offlineq/internal/dispatch"
	"github.com/tonimelisma/offlineq/internal/httpdispatch"
	"github.com/tonimelisma/offlineq/internal/netstate"
	"github.com/tonimelisma/offlineq/internal/queue"
	"github.com/tonimelisma/offlineq/internal/sync"
)

// httpClientTimeout bounds every REST call. The engine's dispatch_timeout
// normally fires first; this catches a hung connection outside a dispatch.
const httpClientTimeout = 2 * time.Minute

// dataDirPermissions is owner-only: the queue holds unsent user data.
const dataDirPermissions = 0o700

// app bundles the queue store, the network monitor and the engine built on
// top of them. Close releases all of them.
type app struct {
	store   *queue.SQLiteStore
	network netstate.Monitor
	prober  *netstate.Prober // nil unless the monitor actively probes
	engine  *sync.Engine
}

// openApp opens the queue database and builds an engine whose dispatcher
// sends actions to the configured REST API.
func openApp(ctx context.Context, cc *CLIContext, network netstate.Monitor, prober *netstate.Prober) (*app, error) {
	dbPath := cc.Cfg.EffectiveDBPath()
	if dbPath == "" {
		return nil, fmt.Errorf("cannot determine queue database path; set db_path or --db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), dataDirPermissions); err != nil {
		return nil, fmt.Errorf("creating queue directory: %w", err)
	}

	store, err := queue.NewSQLiteStore(ctx, dbPath, cc.Logger)
	if err != nil {
		return nil, err
	}

	engine, err := sync.NewEngine(&sync.EngineConfig{
		Store:             store,
		Dispatcher:        newRESTDispatcher(cc, cc.Logger),
		Network:           network,
		Logger:            cc.Logger,
		DefaultMaxRetries: cc.Cfg.DefaultMaxRetries,
		Tuning:            tuningFrom(cc.Cfg),
	})
	if err != nil {
		store.Close()

		return nil, err
	}

	return &app{store: store, network: network, prober: prober, engine: engine}, nil
}

// Close stops the engine and closes the database.
func (a *app) Close() {
	a.engine.Close()
	a.store.Close()
}

// tuningFrom maps the sync settings of a validated config onto engine Tuning.
func tuningFrom(cfg *config.Config) sync.Tuning {
	d := cfg.Durations()

	return sync.Tuning{
		BatchSize:       cfg.BatchSize,
		Concurrency:     cfg.Concurrency,
		DispatchTimeout: d.DispatchTimeout,
		Backoff: sync.Backoff{
			Base:   d.BackoffBase,
			Max:    d.BackoffMax,
			Jitter: cfg.BackoffJitter,
		},
	}
}

// newNetworkMonitor picks the connectivity source. --offline pins the
// monitor offline; probe_mode "none" or a missing probe URL assumes online.
// The returned Prober is nil for the static cases.
func newNetworkMonitor(cc *CLIContext) (netstate.Monitor, *netstate.Prober) {
	if cc.Flags.Offline {
		return netstate.NewStatic(false, cc.Logger), nil
	}

	url := cc.Cfg.EffectiveProbeURL()
	if cc.Cfg.ProbeMode == config.ProbeNone || url == "" {
		return netstate.NewStatic(true, cc.Logger), nil
	}

	d := cc.Cfg.Durations()

	probe := netstate.HTTPProbe(&http.Client{Timeout: d.ConnectTimeout}, url)
	if cc.Cfg.ProbeMode == config.ProbeWebSocket {
		probe = netstate.WebSocketProbe(url)
	}

	p := netstate.NewProber(probe, d.ProbeInterval, d.ConnectTimeout, cc.Logger)

	return p, p
}

// restDispatcher routes every entity to the REST API. Actions may have been
// queued by another process, so handlers are installed the first time an
// entity is seen rather than from a fixed list.
type restDispatcher struct {
	reg    *dispatch.Registry
	client *httpdispatch.Client

	mu    stdsync.Mutex
	known map[string]bool
}

func newRESTDispatcher(cc *CLIContext, logger *slog.Logger) *restDispatcher {
	var token httpdispatch.TokenSource
	if cc.Env.Token != "" {
		token = httpdispatch.StaticToken(cc.Env.Token)
	}

	return &restDispatcher{
		reg:    dispatch.NewRegistry(logger),
		client: httpdispatch.NewClient(cc.Cfg.BaseURL, &http.Client{Timeout: httpClientTimeout}, token, logger, cc.Cfg.UserAgent),
		known:  make(map[string]bool),
	}
}

func (d *restDispatcher) ensure(entity string) {
	key := dispatch.NormalizeEntity(entity)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.known[key] {
		return
	}

	d.client.Register(d.reg, key)
	d.known[key] = true
}

// Dispatch implements sync.Dispatcher.
func (d *restDispatcher) Dispatch(ctx context.Context, a *queue.Action) error {
	d.ensure(a.Entity)

	return d.reg.Dispatch(ctx, a)
}

// Validate implements sync.Dispatcher.
func (d *restDispatcher) Validate(entity string, typ queue.ActionType, payload json.RawMessage) error {
	d.ensure(entity)

	return d.reg.Validate(entity, typ, payload)
}
