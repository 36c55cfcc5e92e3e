// Package server exposes HTTP handlers, including the WebSocket upgrade,
// health check, and the built-in test page.
package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// Handlers bundles the HTTP entry points with the hub and configuration they
// operate on. All process-wide state is threaded through here explicitly;
// there are no package-level singletons.
type Handlers struct {
	hub      *Hub
	cfg      *Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandlers(hub *Hub, cfg *Config, logger *slog.Logger) *Handlers {
	if cfg == nil {
		cfg = NewConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	origins := newOriginChecker(cfg.AllowedOrigins, logger)
	return &Handlers{
		hub:    hub,
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
	}
}

// WebSocket handles upgrade requests on the relay endpoint. It validates the
// method, upgrades the connection, registers the session with the hub (which
// unicasts the history snapshot), and starts the session's pumps.
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, h.hub, r.RemoteAddr, h.cfg)

	// The register send completes only once the hub has accepted the
	// session, so the pumps never race ahead of the history snapshot.
	h.hub.register <- client
	client.start()
}

// Health provides a simple liveness endpoint returning plain text.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "ChatRelay server is running!")
}

// TestPage serves an HTML page speaking the relay protocol for manual
// testing: it renders the history snapshot and live events, and can send,
// edit, and delete messages.
func (h *Handlers) TestPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		h.logger.Warn("write test page", "error", err)
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>ChatRelay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; background-color: #f9f9f9; }
        .msg { margin: 4px 0; padding: 3px; }
        .msg button { margin-left: 6px; padding: 1px 6px; }
        input[type="text"] { width: 300px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>ChatRelay Test</h1>
    <div id="status" class="status disconnected">Disconnected</div>
    <div>
        <input type="text" id="sender" placeholder="Your name" value="tester">
        <input type="text" id="text" placeholder="Type a message...">
        <button onclick="sendMessage()">Send</button>
    </div>
    <div id="messages"></div>

    <script>
        const messagesDiv = document.getElementById('messages');
        const statusDiv = document.getElementById('status');
        const byId = {};

        const ws = new WebSocket('ws://' + location.host + '/ws');
        ws.onopen = () => { statusDiv.textContent = 'Connected'; statusDiv.className = 'status connected'; };
        ws.onclose = () => { statusDiv.textContent = 'Disconnected'; statusDiv.className = 'status disconnected'; };
        ws.onmessage = (ev) => {
            const frame = JSON.parse(ev.data);
            switch (frame.type) {
                case 'history': frame.messages.forEach(render); break;
                case 'message': render(frame.message); break;
                case 'update': rerender(frame.message); break;
                case 'delete': remove(frame.messageId); break;
            }
        };

        function render(m) {
            const div = document.createElement('div');
            div.className = 'msg';
            div.id = 'm-' + m.id;
            fill(div, m);
            messagesDiv.appendChild(div);
            byId[m.id] = m;
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function fill(div, m) {
            div.textContent = '';
            const label = document.createElement('span');
            label.textContent = m.sender + ': ' + m.text;
            const edit = document.createElement('button');
            edit.textContent = 'edit';
            edit.onclick = () => {
                const text = prompt('New text', m.text);
                if (text !== null) ws.send(JSON.stringify({type: 'update', messageId: m.id, text: text}));
            };
            const del = document.createElement('button');
            del.textContent = 'delete';
            del.onclick = () => ws.send(JSON.stringify({type: 'delete', messageId: m.id}));
            div.append(label, edit, del);
        }

        function rerender(m) {
            byId[m.id] = m;
            const div = document.getElementById('m-' + m.id);
            if (div) fill(div, m);
        }

        function remove(id) {
            const div = document.getElementById('m-' + id);
            if (div) div.remove();
            delete byId[id];
        }

        function sendMessage() {
            const text = document.getElementById('text');
            const sender = document.getElementById('sender').value || 'anonymous';
            if (!text.value || ws.readyState !== WebSocket.OPEN) return;
            const message = {
                id: crypto.randomUUID(),
                text: text.value,
                timestamp: Date.now(),
                sender: sender
            };
            ws.send(JSON.stringify({type: 'send', message: message}));
            text.value = '';
        }

        document.getElementById('text').addEventListener('keypress', (e) => {
            if (e.key === 'Enter') sendMessage();
        });
    </script>
</body>
</html>`
