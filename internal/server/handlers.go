// Package server exposes HTTP handlers, including WebSocket upgrades, the
// status endpoint, and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Tyrowin/quickspeak-relay/internal/version"
)

// Banner is the plain-text body served on every non-API path.
const Banner = "QuickSpeak relay is running!"

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status      string  `json:"status"`
	Environment string  `json:"environment"`
	Connections int     `json:"connections"`
	Uptime      float64 `json:"uptime"`
	Version     string  `json:"version"`
}

// WebSocketHandler handles WebSocket upgrade requests. It validates that the
// request uses the GET method, upgrades the HTTP connection and hands the
// socket to the relay, which starts the connection's pumps.
func (r *Relay) WebSocketHandler(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "addr", req.RemoteAddr, "error", err)
		return
	}

	if _, err := r.Accept(conn, req.RemoteAddr); err != nil {
		r.logger.Warn("rejected connection", "addr", req.RemoteAddr, "error", err)
	}
}

// StatusHandler reports liveness, environment and the open connection count.
func (r *Relay) StatusHandler(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Status:      "running",
		Environment: r.cfg.Environment,
		Connections: r.ConnectionCount(),
		Uptime:      r.Uptime().Seconds(),
		Version:     version.String(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		r.logger.Error("error writing status response", "error", err)
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprint(w, Banner)
}

// PreflightHandler answers CORS preflight requests.
func PreflightHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// TestPageHandler serves an HTML page that registers an identity and sends
// chat messages to another identity over the relay.
func (r *Relay) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		r.logger.Error("error writing HTML response", "error", err)
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>QuickSpeak Relay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 220px; padding: 5px; margin-right: 10px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>QuickSpeak Relay Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div>
        <input type="text" id="appUserId" placeholder="Your appUserId" disabled>
        <button id="registerButton" onclick="register()" disabled>Register</button>
    </div>
    <div>
        <input type="text" id="toAppUserId" placeholder="Recipient appUserId" disabled>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const inputs = ['appUserId', 'registerButton', 'toAppUserId', 'messageInput', 'sendButton']
            .map(id => document.getElementById(id));
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addMessage(text, color) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.style.color = color || 'gray';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            inputs.forEach(el => el.disabled = !connected);
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = () => { addMessage('Connected to relay'); updateStatus(true); };
            ws.onmessage = event => {
                const frame = JSON.parse(event.data);
                if (frame.type === 'chat-message') {
                    addMessage((frame.fromAppUserId || frame.fromConnectionId) + ': ' + frame.text, 'green');
                } else {
                    addMessage(event.data);
                }
            };
            ws.onclose = () => { addMessage('Connection closed'); updateStatus(false); ws = null; };
            ws.onerror = () => { addMessage('Connection error'); updateStatus(false); };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function register() {
            const appUserId = document.getElementById('appUserId').value.trim();
            if (appUserId && ws) {
                ws.send(JSON.stringify({ type: 'register-user', appUserId }));
            }
        }

        function sendMessage() {
            const toAppUserId = document.getElementById('toAppUserId').value.trim();
            const input = document.getElementById('messageInput');
            const text = input.value.trim();
            if (toAppUserId && text && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({ type: 'chat-message', toAppUserId, text, timestamp: Date.now() }));
                addMessage('You -> ' + toAppUserId + ': ' + text, 'blue');
                input.value = '';
            }
        }
    </script>
</body>
</html>`
