package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// maxConcurrentPings bounds the ping writes in flight during one sweep.
const maxConcurrentPings = 64

// Monitor probes every open connection on a fixed interval. A connection that
// has not answered the previous probe by the next sweep is evicted, so an
// unresponsive peer is dropped after one to two intervals.
type Monitor struct {
	registry *Registry
	interval time.Duration
	evict    func(*Connection)
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

// NewMonitor creates a monitor over registry. evict is called for each
// connection that missed a probe; it must tear the connection down.
func NewMonitor(registry *Registry, interval time.Duration, evict func(*Connection), logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	return &Monitor{
		registry: registry,
		interval: interval,
		evict:    evict,
		logger:   logger,
	}
}

// Run sweeps on every tick until ctx is cancelled or Stop is called. Stopping
// leaves the remaining connections open.
func (m *Monitor) Run(ctx context.Context) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()
	defer cancel()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("liveness monitor started", "interval", m.interval)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("liveness monitor stopped")
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Stop cancels a running monitor and prevents a later Run from starting.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	if m.cancel != nil {
		m.cancel()
	}
}

// Sweep runs one probe cycle and returns the number of evicted connections.
// Pings are sent concurrently, at most maxConcurrentPings at a time, so a peer
// whose control write blocks for the full write deadline does not hold up the
// rest of the sweep.
func (m *Monitor) Sweep() int {
	evicted := 0
	var g errgroup.Group
	g.SetLimit(maxConcurrentPings)

	for _, c := range m.registry.Snapshot() {
		if !c.IsOpen() {
			continue
		}

		// alive is true only if a pong arrived since the last sweep.
		if !c.alive.CompareAndSwap(true, false) {
			m.logger.Info("evicting unresponsive connection",
				"conn_id", c.ID(),
				"app_user_id", c.AppUserID(),
			)
			m.evict(c)
			evicted++
			continue
		}

		c := c
		g.Go(func() error {
			if err := c.ping(); err != nil && !isExpectedCloseError(err) {
				m.logger.Debug("failed to send ping", "conn_id", c.ID(), "error", err)
			}
			return nil
		})
	}

	_ = g.Wait()
	return evicted
}
