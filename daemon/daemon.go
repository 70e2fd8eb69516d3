// Package daemon's Daemon type is the top-level orchestrator: it drives the
// Poller's drain loop on a ticker and supervises the lifecycle of every
// auxiliary service (admin HTTP API, live-watch bridge, optional forwarder)
// alongside it, the way the teacher's agent.Agent supervises its watchers,
// queue, and transport.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const defaultPollInterval = 50 * time.Millisecond

// Component is anything the daemon must start alongside its own drain loop
// and stop cleanly on shutdown: an HTTP server, a websocket bridge, a
// forwarding client. Mirrors the shape of the teacher's Watcher/Transport
// interfaces so cmd/atraced can wire concrete services (internal/adminapi,
// internal/livewatch, internal/forward) in without this package importing
// any of them.
type Component interface {
	// Start begins the component's work. It must return promptly; ongoing
	// work happens on internal goroutines until ctx is cancelled or Stop is
	// called.
	Start(ctx context.Context) error
	// Stop shuts the component down. It may block until in-flight work has
	// drained, but must eventually return.
	Stop()
}

// Daemon is the central orchestrator bound to one installed engine region.
// It owns the Poller's drain loop and supervises a set of Components for
// their lifetime.
type Daemon struct {
	poller     *Poller
	dispatcher *Dispatcher
	logger     *slog.Logger

	pollInterval time.Duration
	components   []Component

	startTime time.Time
	cancel    context.CancelFunc

	mu      sync.RWMutex
	running bool
	wg      sync.WaitGroup
}

// Option is a functional option for Daemon construction.
type Option func(*Daemon)

// WithComponents registers one or more auxiliary services to start and stop
// alongside the drain loop.
func WithComponents(cs ...Component) Option {
	return func(d *Daemon) { d.components = append(d.components, cs...) }
}

// WithPollInterval overrides the drain loop's tick interval. Defaults to
// defaultPollInterval when not set or non-positive.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Daemon) { d.pollInterval = interval }
}

// New creates a Daemon around the given Poller and Dispatcher (both already
// bound to the same installed engine.Region). Provide auxiliary services via
// WithComponents; a Daemon with zero components still drains the ring and
// answers Health/HealthzHandler, which is useful in tests.
func New(poller *Poller, dispatcher *Dispatcher, logger *slog.Logger, opts ...Option) *Daemon {
	d := &Daemon{
		poller:       poller,
		dispatcher:   dispatcher,
		logger:       logger,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.pollInterval <= 0 {
		d.pollInterval = defaultPollInterval
	}
	return d
}

// Start starts every registered component, then begins the drain loop on its
// own goroutine. If any component fails to start, the ones already started
// are stopped before returning the error.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon: already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.logger.Info("starting atrace daemon",
		slog.Duration("poll_interval", d.pollInterval),
		slog.Int("num_components", len(d.components)),
	)

	started := make([]Component, 0, len(d.components))
	for i, c := range d.components {
		if err := c.Start(ctx); err != nil {
			for _, s := range started {
				s.Stop()
			}
			cancel()
			d.mu.Lock()
			d.running = false
			d.mu.Unlock()
			return fmt.Errorf("daemon: component[%d] failed to start: %w", i, err)
		}
		started = append(started, c)
	}

	d.wg.Add(1)
	go d.drainLoop(ctx)

	d.logger.Info("atrace daemon started")
	return nil
}

// Stop signals the drain loop and every component to shut down, and waits
// for the drain loop to exit. It is safe to call Stop multiple times.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()

	if _, err := d.poller.FinalDrain(context.Background()); err != nil {
		d.logger.Warn("daemon: final drain failed", slog.Any("error", err))
	}

	for _, c := range d.components {
		c.Stop()
	}

	d.logger.Info("atrace daemon stopped")
}

// drainLoop ticks the Poller's DrainCycle until ctx is cancelled.
func (d *Daemon) drainLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.poller.DrainCycle(ctx); err != nil && ctx.Err() == nil {
				d.logger.Warn("daemon: drain cycle failed", slog.Any("error", err))
			}
		}
	}
}

// HealthStatus is the payload returned by the /healthz endpoint.
type HealthStatus struct {
	Status         string `json:"status"`
	UptimeS        float64 `json:"uptime_s"`
	Loaded         bool    `json:"loaded"`
	EventsProduced uint32  `json:"events_produced"`
	EventsConsumed uint32  `json:"events_consumed"`
	EventsDropped  uint64  `json:"events_dropped"`
}

// Health returns a snapshot of the daemon's current health, built from the
// Dispatcher's STATUS report.
func (d *Daemon) Health() HealthStatus {
	d.mu.RLock()
	uptime := time.Since(d.startTime).Seconds()
	d.mu.RUnlock()

	report := d.dispatcher.Status()
	return HealthStatus{
		Status:         "ok",
		UptimeS:        uptime,
		Loaded:         report.Loaded,
		EventsProduced: report.EventsProduced,
		EventsConsumed: report.EventsConsumed,
		EventsDropped:  report.EventsDropped,
	}
}

// HealthzHandler is an http.HandlerFunc that responds with the daemon's
// health status as a JSON object and HTTP 200.
func (d *Daemon) HealthzHandler(w http.ResponseWriter, r *http.Request) {
	h := d.Health()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(h); err != nil {
		d.logger.Warn("healthz: failed to encode response", slog.Any("error", err))
	}
}
