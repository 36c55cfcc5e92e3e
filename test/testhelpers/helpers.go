// Package testhelpers provides common utilities for testing the ChatRelay
// server.
//
// It contains reusable helpers shared across integration tests: starting a
// fully wired relay stack, dialing the WebSocket endpoint with a permitted
// origin, and reading protocol frames with deadlines, to reduce duplication
// in test files.
package testhelpers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/server"
)

// Frame mirrors every server-to-client envelope for decoding in tests.
type Frame struct {
	Type      string           `json:"type"`
	Messages  []server.Message `json:"messages"`
	Message   *server.Message  `json:"message"`
	MessageID string           `json:"messageId"`
}

// Relay is a fully wired relay stack running on an httptest server.
type Relay struct {
	Hub    *server.Hub
	Server *httptest.Server
	Origin string
	WSURL  string
}

// StartRelay builds and starts a hub, handlers, and HTTP server whose own
// address is on the origin allow-list. Everything is torn down via t.Cleanup.
func StartRelay(t *testing.T, customize func(cfg *server.Config)) *Relay {
	t.Helper()

	ts := httptest.NewUnstartedServer(nil)
	origin := "http://" + ts.Listener.Addr().String()

	cfg := server.NewConfig()
	cfg.AllowedOrigins = []string{origin}
	if customize != nil {
		customize(cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := server.NewMetrics()
	hub := server.NewHub(logger, metrics)
	go hub.Run()

	handlers := server.NewHandlers(hub, cfg, logger)
	ts.Config.Handler = server.SetupRoutes(handlers, metrics)
	ts.Start()

	t.Cleanup(func() {
		ts.Close()
		if err := hub.Shutdown(5 * time.Second); err != nil {
			t.Errorf("hub shutdown: %v", err)
		}
	})

	return &Relay{
		Hub:    hub,
		Server: ts,
		Origin: origin,
		WSURL:  "ws" + ts.URL[len("http"):] + "/ws",
	}
}

// Dial opens a WebSocket connection to the relay with its own origin, which
// the server permits.
func (r *Relay) Dial(t *testing.T) *websocket.Conn {
	t.Helper()

	header := http.Header{}
	header.Set("Origin", r.Origin)

	conn, resp, err := websocket.DefaultDialer.Dial(r.WSURL, header)
	if err != nil {
		t.Fatalf("dial %s: %v", r.WSURL, err)
	}
	if resp != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// ReadFrame reads and decodes the next server frame, failing the test if
// none arrives before the timeout.
func ReadFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) Frame {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}

	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("decode frame %q: %v", payload, err)
	}
	return frame
}

// ExpectNoFrame asserts that nothing arrives on the connection before the
// timeout elapses.
func ExpectNoFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	_, payload, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no frame, got %q", payload)
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	t.Fatalf("unexpected error while waiting for absence of frame: %v", err)
}

// SendJSON writes the value as one text frame.
func SendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	SendRaw(t, conn, payload)
}

// SendRaw writes raw bytes as one text frame.
func SendRaw(t *testing.T, conn *websocket.Conn, payload []byte) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

// SendCreate submits a send frame carrying the message.
func SendCreate(t *testing.T, conn *websocket.Conn, m server.Message) {
	t.Helper()
	SendJSON(t, conn, map[string]any{"type": "send", "message": m})
}

// SendUpdate submits an update frame for the message id.
func SendUpdate(t *testing.T, conn *websocket.Conn, messageID, text string) {
	t.Helper()
	SendJSON(t, conn, map[string]any{"type": "update", "messageId": messageID, "text": text})
}

// SendDelete submits a delete frame for the message id.
func SendDelete(t *testing.T, conn *websocket.Conn, messageID string) {
	t.Helper()
	SendJSON(t, conn, map[string]any{"type": "delete", "messageId": messageID})
}
