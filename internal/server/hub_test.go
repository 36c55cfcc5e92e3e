package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// testFrame mirrors every server-to-client envelope for decoding in tests.
type testFrame struct {
	Type      string    `json:"type"`
	Messages  []Message `json:"messages"`
	Message   *Message  `json:"message"`
	MessageID string    `json:"messageId"`
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHub(logger, NewMetrics())
	go h.Run()
	t.Cleanup(func() {
		if err := h.Shutdown(time.Second); err != nil {
			t.Errorf("hub shutdown: %v", err)
		}
	})
	return h
}

// newTestSession builds a conn-less session and registers it with the hub,
// driving the loop through its channels the way the pumps would. No pump
// goroutines run; tests read the send queue directly.
func newTestSession(t *testing.T, h *Hub) *Client {
	t.Helper()
	c := NewClient(nil, h, "test", nil)
	h.register <- c
	return c
}

func submit(h *Hub, from *Client, op operation) {
	h.ops <- inbound{from: from, op: op}
}

func recvFrame(t *testing.T, c *Client) testFrame {
	t.Helper()
	select {
	case payload, ok := <-c.send:
		if !ok {
			t.Fatal("send queue closed while waiting for frame")
		}
		var frame testFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			t.Fatalf("decode frame %q: %v", payload, err)
		}
		return frame
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for frame")
	}
	return testFrame{}
}

func expectNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case payload, ok := <-c.send:
		if ok {
			t.Fatalf("expected no frame, got %q", payload)
		}
	case <-time.After(150 * time.Millisecond):
	}
}

func recvHistory(t *testing.T, c *Client) []Message {
	t.Helper()
	frame := recvFrame(t, c)
	require.Equal(t, "history", frame.Type)
	return frame.Messages
}

func TestHub_HistorySnapshotOnRegister(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)

	a := newTestSession(t, h)
	req.Empty(recvHistory(t, a))

	submit(h, a, operation{kind: opCreate, message: msg("1", "hi", "alice", 100)})
	recvFrame(t, a) // a's own broadcast echo
	submit(h, a, operation{kind: opCreate, message: msg("2", "there", "bob", 200)})
	recvFrame(t, a)

	late := newTestSession(t, h)
	history := recvHistory(t, late)
	req.Len(history, 2)
	req.Equal("1", history[0].ID)
	req.Equal("2", history[1].ID)
}

// TestHub_RelayScenario walks the canonical three-session exchange: create
// from A, update from B, delete from C, then a fresh session sees an empty
// history.
func TestHub_RelayScenario(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)

	a := newTestSession(t, h)
	b := newTestSession(t, h)
	c := newTestSession(t, h)
	for _, s := range []*Client{a, b, c} {
		recvHistory(t, s)
	}

	submit(h, a, operation{kind: opCreate, message: msg("1", "hi", "A", 100)})
	for _, s := range []*Client{a, b, c} {
		frame := recvFrame(t, s)
		req.Equal("message", frame.Type)
		req.NotNil(frame.Message)
		req.Equal("1", frame.Message.ID)
		req.Equal("hi", frame.Message.Text)
		req.Equal("A", frame.Message.Sender)
	}

	submit(h, b, operation{kind: opUpdate, messageID: "1", text: "hi there"})
	for _, s := range []*Client{a, b, c} {
		frame := recvFrame(t, s)
		req.Equal("update", frame.Type)
		req.NotNil(frame.Message)
		req.Equal("hi there", frame.Message.Text)
		req.Equal("A", frame.Message.Sender)
		req.Equal(int64(100), frame.Message.Timestamp)
	}

	submit(h, c, operation{kind: opDelete, messageID: "1"})
	for _, s := range []*Client{a, b, c} {
		frame := recvFrame(t, s)
		req.Equal("delete", frame.Type)
		req.Equal("1", frame.MessageID)
	}

	d := newTestSession(t, h)
	req.Empty(recvHistory(t, d))
}

func TestHub_BroadcastsPreserveAppliedOrder(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)

	a := newTestSession(t, h)
	b := newTestSession(t, h)
	recvHistory(t, a)
	recvHistory(t, b)

	ids := []string{"1", "2", "3", "4", "5"}
	for _, id := range ids {
		submit(h, a, operation{kind: opCreate, message: msg(id, "m"+id, "alice", 100)})
	}

	for _, s := range []*Client{a, b} {
		for _, id := range ids {
			frame := recvFrame(t, s)
			req.Equal("message", frame.Type)
			req.Equal(id, frame.Message.ID)
		}
	}
}

func TestHub_UpdateMissProducesNoBroadcast(t *testing.T) {
	h := newTestHub(t)

	a := newTestSession(t, h)
	recvHistory(t, a)

	submit(h, a, operation{kind: opUpdate, messageID: "ghost", text: "boo"})
	expectNoFrame(t, a)
}

func TestHub_DeleteMissStillBroadcasts(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)

	a := newTestSession(t, h)
	b := newTestSession(t, h)
	recvHistory(t, a)
	recvHistory(t, b)

	submit(h, a, operation{kind: opDelete, messageID: "ghost"})
	for _, s := range []*Client{a, b} {
		frame := recvFrame(t, s)
		req.Equal("delete", frame.Type)
		req.Equal("ghost", frame.MessageID)
	}
}

func TestHub_DuplicateIDSemantics(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)

	a := newTestSession(t, h)
	recvHistory(t, a)

	submit(h, a, operation{kind: opCreate, message: msg("1", "first", "alice", 100)})
	submit(h, a, operation{kind: opCreate, message: msg("1", "second", "bob", 200)})
	recvFrame(t, a)
	recvFrame(t, a)

	// Update touches only the first entry with the id.
	submit(h, a, operation{kind: opUpdate, messageID: "1", text: "edited"})
	recvFrame(t, a)

	observer := newTestSession(t, h)
	history := recvHistory(t, observer)
	req.Len(history, 2)
	req.Equal("edited", history[0].Text)
	req.Equal("second", history[1].Text)

	// Delete removes every entry with the id.
	submit(h, a, operation{kind: opDelete, messageID: "1"})
	recvFrame(t, a)
	recvFrame(t, observer)

	late := newTestSession(t, h)
	req.Empty(recvHistory(t, late))
}

func TestHub_PartialSendFailureDoesNotAbortBroadcast(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)

	healthy := newTestSession(t, h)
	recvHistory(t, healthy)

	// A session with a single-slot queue: the history frame fills it, so the
	// next broadcast cannot be delivered and must evict it.
	stuck := &Client{
		id:     uuid.NewString(),
		send:   make(chan []byte, 1),
		hub:    h,
		addr:   "stuck",
		logger: h.logger,
	}
	h.register <- stuck

	submit(h, healthy, operation{kind: opCreate, message: msg("1", "hi", "alice", 100)})

	frame := recvFrame(t, healthy)
	req.Equal("message", frame.Type)
	req.Equal("1", frame.Message.ID)

	// The stuck session's queue holds only the history frame and is closed
	// by the eviction.
	first := recvFrame(t, stuck)
	req.Equal("history", first.Type)
	select {
	case _, ok := <-stuck.send:
		req.False(ok, "expected stuck session queue to be closed")
	case <-time.After(time.Second):
		t.Fatal("stuck session queue was not closed")
	}
}

func TestHub_UnregisterIsIdempotentAndStopsDelivery(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t)

	a := newTestSession(t, h)
	b := newTestSession(t, h)
	recvHistory(t, a)
	recvHistory(t, b)

	h.unregister <- b
	h.unregister <- b

	submit(h, a, operation{kind: opCreate, message: msg("1", "hi", "alice", 100)})
	frame := recvFrame(t, a)
	req.Equal("message", frame.Type)

	// b's queue was closed on unregister and received nothing further.
	_, ok := <-b.send
	req.False(ok)
}

func TestHub_ConnectedSessionsGauge(t *testing.T) {
	req := require.New(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := NewMetrics()
	h := NewHub(logger, metrics)
	go h.Run()
	t.Cleanup(func() { _ = h.Shutdown(time.Second) })

	a := newTestSession(t, h)
	b := newTestSession(t, h)
	recvHistory(t, a)
	recvHistory(t, b)
	req.Equal(2.0, testutil.ToFloat64(metrics.ConnectedSessions))

	h.unregister <- a
	// Unregister is processed before the next channel receive completes,
	// so a follow-up register acts as a barrier.
	c := newTestSession(t, h)
	recvHistory(t, c)
	req.Equal(2.0, testutil.ToFloat64(metrics.ConnectedSessions))
}
