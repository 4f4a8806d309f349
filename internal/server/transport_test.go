package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-memory Transport. Frames pushed with deliver are
// returned by ReadMessage; frames written by the relay are published on
// written. With autoPong set, every ping immediately triggers the pong handler.
type fakeTransport struct {
	inbound  chan []byte
	peerGone chan struct{}
	closed   chan struct{}
	written  chan []byte

	mu          sync.Mutex
	pongHandler func(string) error
	pings       int
	closeFrames int
	readLimit   int64
	autoPong    bool
	pingDelay   time.Duration

	closeOnce sync.Once
	peerOnce  sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound:  make(chan []byte, 64),
		peerGone: make(chan struct{}),
		closed:   make(chan struct{}),
		written:  make(chan []byte, 64),
	}
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	select {
	case b := <-f.inbound:
		return websocket.TextMessage, b, nil
	case <-f.peerGone:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	case <-f.closed:
		return 0, nil, net.ErrClosed
	}
}

func (f *fakeTransport) WriteMessage(_ int, data []byte) error {
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
	}
	f.written <- append([]byte(nil), data...)
	return nil
}

func (f *fakeTransport) WriteControl(messageType int, _ []byte, _ time.Time) error {
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
	}

	f.mu.Lock()
	var pong func(string) error
	var delay time.Duration
	switch messageType {
	case websocket.PingMessage:
		f.pings++
		delay = f.pingDelay
		if f.autoPong {
			pong = f.pongHandler
		}
	case websocket.CloseMessage:
		f.closeFrames++
	}
	f.mu.Unlock()

	// Simulates a control write stuck behind a slow peer until its deadline.
	if delay > 0 {
		time.Sleep(delay)
	}

	if pong != nil {
		return pong("")
	}
	return nil
}

func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeTransport) SetReadLimit(limit int64) {
	f.mu.Lock()
	f.readLimit = limit
	f.mu.Unlock()
}

func (f *fakeTransport) SetPongHandler(h func(string) error) {
	f.mu.Lock()
	f.pongHandler = h
	f.mu.Unlock()
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// deliver queues a client frame for ReadMessage.
func (f *fakeTransport) deliver(t *testing.T, v any) {
	t.Helper()
	switch b := v.(type) {
	case []byte:
		f.inbound <- b
	case string:
		f.inbound <- []byte(b)
	default:
		data, err := json.Marshal(v)
		require.NoError(t, err)
		f.inbound <- data
	}
}

// hangUp simulates the peer closing the connection.
func (f *fakeTransport) hangUp() {
	f.peerOnce.Do(func() { close(f.peerGone) })
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func (f *fakeTransport) setPingDelay(d time.Duration) {
	f.mu.Lock()
	f.pingDelay = d
	f.mu.Unlock()
}

func (f *fakeTransport) setAutoPong(on bool) {
	f.mu.Lock()
	f.autoPong = on
	f.mu.Unlock()
}

// pong invokes the installed pong handler as if the peer answered a ping.
func (f *fakeTransport) pong() {
	f.mu.Lock()
	h := f.pongHandler
	f.mu.Unlock()
	if h != nil {
		_ = h("")
	}
}

// nextWritten returns the next frame written by the relay, decoded.
func (f *fakeTransport) nextWritten(t *testing.T) map[string]any {
	t.Helper()
	select {
	case b := <-f.written:
		var frame map[string]any
		require.NoError(t, json.Unmarshal(b, &frame))
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for written frame")
		return nil
	}
}

func (f *fakeTransport) expectNoWrite(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case b := <-f.written:
		t.Fatalf("unexpected frame written: %s", b)
	case <-time.After(wait):
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRelay(t *testing.T, mutate func(*Config)) *Relay {
	t.Helper()
	cfg := NewConfig()
	cfg.PingInterval = time.Hour
	cfg.WriteWait = time.Second
	if mutate != nil {
		mutate(cfg)
	}
	relay := NewRelay(cfg, discardLogger())
	t.Cleanup(func() { _ = relay.Shutdown(time.Second) })
	return relay
}

// newIdleConnection registers a connection without starting its pumps, so
// tests can inspect its send queue directly.
func newIdleConnection(t *testing.T, relay *Relay, id string) (*Connection, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	c := newConnection(id, ft, "127.0.0.1:"+id, relay)
	relay.registry.Add(c)
	return c, ft
}

// queued pops the next frame from c's send queue.
func queued(t *testing.T, c *Connection) map[string]any {
	t.Helper()
	select {
	case b := <-c.send:
		var frame map[string]any
		require.NoError(t, json.Unmarshal(b, &frame))
		return frame
	default:
		t.Fatalf("no frame queued for %s", c.ID())
		return nil
	}
}

func requireEmptyQueue(t *testing.T, c *Connection) {
	t.Helper()
	require.Len(t, c.send, 0, "unexpected frame queued for %s", c.ID())
}
