// Package server manages individual relay connections, handling read/write
// pumps, rate limiting, liveness state and lifecycle control for each socket.
package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Transport is the bidirectional message channel a Connection owns.
// *websocket.Conn satisfies it.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Connection is one accepted transport plus the relay state attached to it:
// the connection id, the optionally bound identity and the liveness flag.
type Connection struct {
	id        string
	addr      string
	transport Transport
	relay     *Relay
	logger    *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	alive atomic.Bool

	mu        sync.RWMutex
	appUserID string

	maxMessageSize int64
	writeWait      time.Duration
	rateLimiter    *rate.Limiter
	rateLimit      RateLimitConfig
}

func newConnection(id string, t Transport, addr string, relay *Relay) *Connection {
	cfg := relay.cfg
	c := &Connection{
		id:             id,
		addr:           addr,
		transport:      t,
		relay:          relay,
		logger:         relay.logger.With("conn_id", id, "addr", addr),
		send:           make(chan []byte, cfg.SendQueueSize),
		done:           make(chan struct{}),
		maxMessageSize: cfg.MaxMessageSize,
		writeWait:      cfg.WriteWait,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
	}
	c.alive.Store(true)
	return c
}

// ID returns the connection id assigned at accept time.
func (c *Connection) ID() string {
	return c.id
}

// Addr returns the remote address the connection was accepted from.
func (c *Connection) Addr() string {
	return c.addr
}

// AppUserID returns the bound identity, or "" if none was registered.
func (c *Connection) AppUserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.appUserID
}

func (c *Connection) setAppUserID(id string) {
	c.mu.Lock()
	c.appUserID = id
	c.mu.Unlock()
}

// IsOpen reports whether the connection has not been torn down yet.
func (c *Connection) IsOpen() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Done is closed when the connection is torn down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// IsAlive reports the liveness flag as last set by the monitor or a pong.
func (c *Connection) IsAlive() bool {
	return c.alive.Load()
}

// markAlive records a liveness acknowledgment from the peer.
func (c *Connection) markAlive() {
	c.alive.Store(true)
}

// trySend queues a frame for the write pump without blocking. It returns false
// when the connection is closed or its queue is full.
func (c *Connection) trySend(frame []byte) bool {
	if !c.IsOpen() {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// ping writes a ping control frame. Control writes may run concurrently with
// the write pump.
func (c *Connection) ping() error {
	return c.transport.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
}

// release closes done and the transport exactly once. It reports whether this
// call performed the release.
func (c *Connection) release() bool {
	released := false
	c.closeOnce.Do(func() {
		released = true
		close(c.done)
		if err := c.transport.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Debug("error closing transport", "error", err)
		}
	})
	return released
}

// writeClose sends a close frame ahead of teardown.
func (c *Connection) writeClose(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	if err := c.transport.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeWait)); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Debug("error writing close message", "error", err)
		}
	}
}

// setupReadConnection configures the read limit and the pong handler that
// acknowledges liveness probes.
func (c *Connection) setupReadConnection() {
	c.transport.SetReadLimit(c.maxMessageSize)
	c.transport.SetPongHandler(func(string) error {
		c.markAlive()
		return nil
	})
}

// handleReadError logs the reason the read loop is ending.
func (c *Connection) handleReadError(err error) {
	// Teardown initiated locally (eviction, shutdown) surfaces here as a closed
	// network connection.
	if !c.IsOpen() {
		c.logger.Debug("read loop stopped after close", "error", err)
		return
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		c.logger.Warn("message exceeded maximum size", "max_bytes", c.maxMessageSize)
		return
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		c.logger.Info("client disconnected", "error", err)
		return
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.logger.Info("client connection closed", "error", err)
		return
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		c.logger.Warn("unexpected websocket close", "error", err)
		return
	}

	c.logger.Warn("websocket read error", "error", err)
}

// checkRateLimit verifies if the connection has exceeded its rate limit
// and returns true if the frame should be processed.
func (c *Connection) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.Allow() {
		c.logger.Warn("rate limit exceeded; discarding frame",
			"burst", c.rateLimit.Burst,
			"refill_interval", c.rateLimit.RefillInterval,
		)
		c.relay.metrics.rateLimited.Inc()
		return false
	}
	return true
}

// readPump feeds inbound frames to the router until the transport fails, then
// tears the connection down.
func (c *Connection) readPump() {
	defer c.relay.closeConnection(c)

	c.setupReadConnection()

	for {
		_, raw, err := c.transport.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.relay.router.Route(c, raw)
	}
}

// writePump drains the send queue onto the transport, one frame per message.
func (c *Connection) writePump() {
	for {
		select {
		case message := <-c.send:
			if !c.writeTextMessage(message) {
				c.relay.closeConnection(c)
				return
			}
		case <-c.done:
			return
		}
	}
}

// writeTextMessage writes a single text frame and returns false if the
// connection should be closed.
func (c *Connection) writeTextMessage(message []byte) bool {
	if err := c.transport.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		c.logger.Warn("error setting write deadline", "error", err)
		return false
	}
	if err := c.transport.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("error writing message", "error", err)
		}
		return false
	}
	return true
}
