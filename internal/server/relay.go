// Package server coordinates connection accept, identity registration and
// teardown for the relay via the Relay type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Relay owns the registry, router and liveness monitor and drives the
// lifecycle of every connection from accept to teardown.
type Relay struct {
	cfg       Config
	logger    *slog.Logger
	registry  *Registry
	router    *Router
	monitor   *Monitor
	metrics   *Metrics
	origins   *originPolicy
	upgrader  websocket.Upgrader
	startedAt time.Time
	newID     func() string

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	done    chan struct{}
}

// NewRelay creates a relay from cfg. A nil cfg uses defaults and a nil logger
// uses slog.Default().
func NewRelay(cfg *Config, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = NewConfig()
	}
	sanitized := cfg.sanitized()

	ctx, cancel := context.WithCancel(context.Background())
	registry := NewRegistry()
	metrics := newMetrics(registry)

	r := &Relay{
		cfg:       sanitized,
		logger:    logger,
		registry:  registry,
		metrics:   metrics,
		router:    NewRouter(registry, metrics, logger),
		origins:   newOriginPolicy(sanitized.AllowedOrigins, logger),
		startedAt: time.Now(),
		newID:     func() string { return uuid.NewString() },
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	r.monitor = NewMonitor(registry, sanitized.PingInterval, r.evict, logger)
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     r.origins.checkOrigin,
	}
	return r
}

// Config returns the sanitized configuration the relay runs with.
func (r *Relay) Config() Config {
	return r.cfg
}

// Registry exposes the connection registry.
func (r *Relay) Registry() *Registry {
	return r.registry
}

// Metrics exposes the relay's prometheus collectors.
func (r *Relay) Metrics() *Metrics {
	return r.metrics
}

// Monitor exposes the liveness monitor.
func (r *Relay) Monitor() *Monitor {
	return r.monitor
}

// ConnectionCount returns the number of open connections.
func (r *Relay) ConnectionCount() int {
	return r.registry.Count()
}

// Uptime returns how long ago the relay was created.
func (r *Relay) Uptime() time.Duration {
	return time.Since(r.startedAt)
}

// Accept takes ownership of t: it assigns a connection id, registers the
// connection, queues the assign-id frame and starts the read and write pumps.
// After Shutdown the transport is closed and ErrRelayClosed is returned.
func (r *Relay) Accept(t Transport, addr string) (*Connection, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = t.Close()
		return nil, ErrRelayClosed
	}

	c := newConnection(r.newID(), t, addr, r)
	r.registry.Add(c)
	r.wg.Add(2)
	r.mu.Unlock()

	r.metrics.accepted.Inc()
	r.logger.Info("client connected",
		"conn_id", c.ID(),
		"addr", addr,
		"total", r.registry.Count(),
	)

	sendFrame(c, AssignIDFrame{Type: FrameAssignID, UserID: c.ID()})

	go func() {
		defer r.wg.Done()
		c.writePump()
	}()
	go func() {
		defer r.wg.Done()
		c.readPump()
	}()

	return c, nil
}

// closeConnection tears c down: it closes the transport and removes c from the
// registry. Any number of calls for the same connection, from pumps, the
// monitor or shutdown, result in a single teardown.
func (r *Relay) closeConnection(c *Connection) {
	if !c.release() {
		return
	}

	r.registry.Remove(c)
	r.metrics.closed.Inc()
	r.logger.Info("client disconnected",
		"conn_id", c.ID(),
		"addr", c.Addr(),
		"app_user_id", c.AppUserID(),
		"total", r.registry.Count(),
	)
}

// evict force-closes a connection that missed a liveness probe.
func (r *Relay) evict(c *Connection) {
	r.metrics.evictions.Inc()
	r.closeConnection(c)
}

// Run starts the liveness monitor and blocks until Shutdown. It should be
// called in a separate goroutine. Calls after the first return immediately.
func (r *Relay) Run() {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Warn("relay already running")
		return
	}
	defer close(r.done)
	r.monitor.Run(r.ctx)
}

// StopMonitor stops liveness probing and leaves every connection open.
func (r *Relay) StopMonitor() {
	r.monitor.Stop()
}

// closeAll sends a going-away close frame to every open connection and tears
// it down.
func (r *Relay) closeAll() int {
	conns := r.registry.Snapshot()
	for _, c := range conns {
		c.writeClose(websocket.CloseGoingAway, "server shutting down")
		r.closeConnection(c)
	}
	return len(conns)
}

// Shutdown stops accepting connections, stops the monitor, closes every open
// connection and waits for their pumps to finish or for timeout to elapse.
// Unlike StopMonitor, which only stops liveness probing and leaves connections
// untouched, Shutdown also sends each client a going-away close frame and
// tears it down.
func (r *Relay) Shutdown(timeout time.Duration) error {
	r.logger.Info("initiating relay shutdown")

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	if r.running.Load() {
		<-r.done
	}

	closed := r.closeAll()
	r.logger.Info("closed client connections", "count", closed)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("relay shutdown completed")
		return nil
	case <-time.After(timeout):
		r.logger.Warn("relay shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
