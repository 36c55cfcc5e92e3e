// Package server coordinates session registration, message log mutation, and
// event broadcast for the ChatRelay WebSocket system via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// inbound pairs a parsed operation with the session it arrived on.
type inbound struct {
	from *Client
	op   operation
}

// Hub is the single owner of the message log and the live-session set. All
// connection events and log mutations are drained by one goroutine (Run), so
// no two operations are ever interleaved mid-mutation and every session
// observes broadcasts in applied order.
type Hub struct {
	registry *registry
	log      *messageLog
	validate *validator.Validate
	metrics  *Metrics
	logger   *slog.Logger

	register   chan *Client
	unregister chan *Client
	ops        chan inbound

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a Hub ready to manage WebSocket sessions. The hub holds all
// process-wide chat state; construct exactly one per server at startup and
// thread it through the connection handlers.
func NewHub(logger *slog.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry:   newRegistry(),
		log:        newMessageLog(),
		validate:   validator.New(),
		metrics:    metrics,
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ops:        make(chan inbound),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Run drains the hub's event channels until Shutdown is called. It must be
// started in its own goroutine before the HTTP server begins accepting
// connections.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn("nil session registration skipped")
				continue
			}
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case in := <-h.ops:
			h.apply(in)
		}
	}
}

// handleRegister adds the session to the live set and unicasts the history
// snapshot. The snapshot is taken here, on the hub goroutine, so it is
// consistent with the log at the instant of registration.
func (h *Hub) handleRegister(client *Client) {
	client.closed = false
	h.registry.register(client)
	h.metrics.ConnectedSessions.Set(float64(h.registry.len()))
	h.logger.Info("session registered",
		"session", client.id, "addr", client.addr, "total", h.registry.len())

	payload, err := encodeHistory(h.log.snapshot())
	if err != nil {
		h.logger.Error("encode history snapshot", "session", client.id, "error", err)
		return
	}
	if !h.sendTo(client, payload) {
		h.logger.Warn("history snapshot not delivered", "session", client.id)
	}
}

// handleUnregister removes the session and closes its send queue. It is
// idempotent: a session already gone is a no-op.
func (h *Hub) handleUnregister(client *Client) {
	if !h.registry.unregister(client) {
		return
	}
	client.closed = true
	close(client.send)
	h.metrics.ConnectedSessions.Set(float64(h.registry.len()))
	h.logger.Info("session unregistered",
		"session", client.id, "addr", client.addr, "total", h.registry.len())
}

// apply mutates the log for one operation and broadcasts the resulting
// event. Mutation and fan-out enumeration run to completion here before the
// next event is drained, which is the whole serialization story.
func (h *Hub) apply(in inbound) {
	start := time.Now()
	op := in.op

	switch op.kind {
	case opCreate:
		h.log.append(op.message)
		h.broadcastMessage(frameMessage, op.message)
	case opUpdate:
		updated, ok := h.log.updateText(op.messageID, op.text)
		if !ok {
			// No match means no broadcast at all; the edit is silently dropped.
			h.logger.Debug("update for unknown message dropped",
				"session", in.from.id, "messageId", op.messageID)
			break
		}
		h.broadcastMessage(frameUpdate, updated)
	case opDelete:
		// Delete broadcasts unconditionally, even when nothing matched.
		h.log.remove(op.messageID)
		payload, err := encodeDelete(op.messageID)
		if err != nil {
			h.logger.Error("encode delete event", "messageId", op.messageID, "error", err)
			break
		}
		h.broadcast(payload)
	}

	h.metrics.OperationsTotal.WithLabelValues(op.kind.String()).Inc()
	h.metrics.FanoutDuration.WithLabelValues(op.kind.String()).Observe(time.Since(start).Seconds())
	h.logger.Debug("operation applied",
		"session", in.from.id, "op", op.kind.String(), "logSize", h.log.len())
}

func (h *Hub) broadcastMessage(frameType string, m Message) {
	payload, err := encodeMessage(frameType, m)
	if err != nil {
		h.logger.Error("encode broadcast event", "type", frameType, "error", err)
		return
	}
	h.broadcast(payload)
}

// broadcast delivers the payload to every live session. A failed recipient
// never aborts delivery to the rest; failed sessions are evicted afterwards.
func (h *Hub) broadcast(payload []byte) {
	var failed []*Client
	for _, client := range h.registry.liveMembers() {
		if !h.sendTo(client, payload) {
			failed = append(failed, client)
		}
	}
	h.evict(failed)
}

// sendTo queues the payload on the session's send buffer without blocking.
// A full buffer or a closed session counts as a delivery failure.
func (h *Hub) sendTo(client *Client, payload []byte) bool {
	if client.closed || !h.registry.contains(client) {
		return false
	}
	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

func (h *Hub) evict(clients []*Client) {
	for _, client := range clients {
		if !h.registry.unregister(client) {
			continue
		}
		client.closed = true
		close(client.send)
		h.logger.Warn("session evicted, send buffer full",
			"session", client.id, "addr", client.addr)
	}
	if len(clients) > 0 {
		h.metrics.ConnectedSessions.Set(float64(h.registry.len()))
	}
}

// shutdownClients closes every remaining transport so the pump goroutines
// unwind on their own.
func (h *Hub) shutdownClients() {
	members := h.registry.liveMembers()
	h.logger.Info("closing client connections", "count", len(members))

	for _, client := range members {
		if client.conn == nil {
			continue
		}
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.logger.Warn("close client connection",
				"session", client.id, "error", err)
		}
	}
}

// Shutdown stops the hub's event loop, closes all client connections, and
// waits for the pump goroutines to finish or the timeout to pass.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("hub shutdown initiated")

	h.cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached")
		return context.DeadlineExceeded
	}
}
