// Package testhelpers provides common utilities for exercising the relay over
// real HTTP and WebSocket connections.
//
// It starts relays behind httptest servers, dials WebSocket clients that keep
// answering liveness probes, and asserts on HTTP responses so that integration
// tests stay short.
package testhelpers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/quickspeak-relay/internal/server"
)

// DefaultTimeout bounds every blocking helper.
const DefaultTimeout = 2 * time.Second

// NewRelay creates a relay with discarded logs and test-friendly timings,
// starts its liveness monitor and shuts it down when the test ends.
func NewRelay(t *testing.T, customize func(cfg *server.Config)) *server.Relay {
	t.Helper()
	cfg := server.NewConfig()
	cfg.PingInterval = time.Hour
	cfg.WriteWait = time.Second
	if customize != nil {
		customize(cfg)
	}

	relay := server.NewRelay(cfg, DiscardLogger())
	go relay.Run()
	t.Cleanup(func() { _ = relay.Shutdown(DefaultTimeout) })
	return relay
}

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewTestServer serves the relay's routes on a local httptest server that is
// closed when the test ends.
func NewTestServer(t *testing.T, relay *server.Relay) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(server.SetupRoutes(relay))
	t.Cleanup(srv.Close)
	return srv
}

// WebSocketURL converts an httptest server URL into the relay's ws:// endpoint.
func WebSocketURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

// DialRaw opens a WebSocket connection without starting a reader, so the
// connection never answers pings. The caller owns the returned connection.
func DialRaw(t *testing.T, wsURL string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: DefaultTimeout}
	conn, resp, err := dialer.Dial(wsURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

// Client is a WebSocket client with a background reader. Reading keeps
// gorilla's default ping handler running, so the client stays alive.
type Client struct {
	t      *testing.T
	Conn   *websocket.Conn
	ID     string
	frames chan map[string]any
	closed chan struct{}
}

// Dial connects a client and consumes the assign-id frame.
func Dial(t *testing.T, wsURL string) *Client {
	t.Helper()
	conn, _, err := DialRaw(t, wsURL, nil)
	require.NoError(t, err)

	c := &Client{
		t:      t,
		Conn:   conn,
		frames: make(chan map[string]any, 64),
		closed: make(chan struct{}),
	}
	go c.readLoop()

	assigned := c.Next(DefaultTimeout)
	require.Equal(t, server.FrameAssignID, assigned["type"])
	id, ok := assigned["userId"].(string)
	require.True(t, ok, "assign-id frame without userId")
	c.ID = id
	return c
}

func (c *Client) readLoop() {
	defer close(c.closed)
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		c.frames <- frame
	}
}

// Send writes v as a JSON text frame.
func (c *Client) Send(v any) {
	c.t.Helper()
	require.NoError(c.t, c.Conn.WriteJSON(v))
}

// SendRaw writes data as a text frame without encoding it.
func (c *Client) SendRaw(data []byte) {
	c.t.Helper()
	require.NoError(c.t, c.Conn.WriteMessage(websocket.TextMessage, data))
}

// Register binds appUserID to the client and waits for the confirmation.
func (c *Client) Register(appUserID string) {
	c.t.Helper()
	c.Send(map[string]string{"type": server.FrameRegisterUser, "appUserId": appUserID})
	confirmed := c.Next(DefaultTimeout)
	require.Equal(c.t, server.FrameRegisterConfirmed, confirmed["type"])
	require.Equal(c.t, appUserID, confirmed["appUserId"])
}

// Chat sends a chat-message to toAppUserID.
func (c *Client) Chat(toAppUserID, text string) {
	c.t.Helper()
	c.Send(map[string]any{
		"type":        server.FrameChatMessage,
		"toAppUserId": toAppUserID,
		"text":        text,
	})
}

// Next returns the next frame received, failing the test after timeout.
func (c *Client) Next(timeout time.Duration) map[string]any {
	c.t.Helper()
	select {
	case frame := <-c.frames:
		return frame
	case <-c.closed:
		select {
		case frame := <-c.frames:
			return frame
		default:
		}
		c.t.Fatal("connection closed while waiting for a frame")
	case <-time.After(timeout):
		c.t.Fatal("timed out waiting for a frame")
	}
	return nil
}

// ExpectNone fails the test if a frame arrives within wait.
func (c *Client) ExpectNone(wait time.Duration) {
	c.t.Helper()
	select {
	case frame := <-c.frames:
		c.t.Fatalf("unexpected frame: %v", frame)
	case <-time.After(wait):
	}
}

// Closed is closed once the server side has ended the connection.
func (c *Client) Closed() <-chan struct{} {
	return c.closed
}

// Close sends a normal close frame and closes the socket.
func (c *Client) Close() {
	_ = c.Conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.Conn.Close()
}

// WaitClosed reports whether raw observes the server closing the connection
// within timeout. raw must not have another reader.
func WaitClosed(raw *websocket.Conn, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if err := raw.SetReadDeadline(deadline); err != nil {
			return true
		}
		_, _, err := raw.ReadMessage()
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return false
		}
		return true
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// The body is closed when the test ends.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	assert.Equal(t, expected, resp.StatusCode, "unexpected status code")
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	assert.Equal(t, expected, resp.Header.Get("Content-Type"), "unexpected content type")
}
