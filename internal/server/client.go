// Package server manages individual WebSocket sessions, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// pongWait is how long a connection may stay silent before the read
	// deadline expires; pings go out well inside that window.
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second

	sendQueueSize = 256
)

// Client is one live session: the connection handle, its outbound queue, and
// its transport readiness flag. The closed flag is owned by the hub
// goroutine; nothing else reads or writes it.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	addr   string
	closed bool

	maxMessageSize int64
	limiter        *rateLimiter
	logger         *slog.Logger
}

// NewClient wraps a freshly upgraded connection in a session handle. The
// session carries no identity beyond its transport; sender identity travels
// per-message, supplied by the client.
func NewClient(conn *websocket.Conn, hub *Hub, addr string, cfg *Config) *Client {
	if cfg == nil {
		cfg = NewConfig()
	}
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	id := uuid.NewString()
	return &Client{
		id:             id,
		conn:           conn,
		send:           make(chan []byte, sendQueueSize),
		hub:            hub,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		limiter:        newRateLimiter(cfg.RateLimitBurst, cfg.RateLimitRefillInterval),
		logger:         hub.logger.With("session", id, "addr", addr),
	}
}

// start launches the session's pump goroutines, tracked by the hub so
// shutdown can wait for them.
func (c *Client) start() {
	c.hub.wg.Add(2)
	go func() {
		defer c.hub.wg.Done()
		c.writePump()
	}()
	go func() {
		defer c.hub.wg.Done()
		c.readPump()
	}()
}

func (c *Client) setupReadDeadlines() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("set read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// readPump reads inbound frames until the transport closes, forwarding
// parsed operations to the hub. Normal close and transport error take the
// same exit path: unregister, never send to this session again.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("close connection after read loop", "error", err)
		}
	}()

	c.setupReadDeadlines()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadEnd(err)
			return
		}

		if c.limiter != nil && !c.limiter.allow() {
			c.logger.Warn("rate limit exceeded, frame discarded")
			continue
		}

		c.handleFrame(raw)
	}
}

// handleFrame parses and validates one inbound frame. Malformed frames are
// logged and dropped without closing the connection or touching the log;
// unrecognized types are ignored silently.
func (c *Client) handleFrame(raw []byte) {
	op, err := parseClientFrame(raw, c.hub.validate)
	if err != nil {
		c.logger.Warn("malformed frame dropped", "error", err)
		return
	}
	if op == nil {
		return
	}

	select {
	case c.hub.ops <- inbound{from: c, op: *op}:
	case <-c.hub.ctx.Done():
	}
}

func (c *Client) logReadEnd(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("frame exceeded maximum size", "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Info("session disconnected", "reason", err.Error())
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Info("connection closed", "reason", err.Error())
	default:
		c.logger.Warn("websocket read error", "error", err)
	}
}

// writePump drains the outbound queue onto the wire, one envelope per text
// frame, and keeps the connection alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("close connection after write loop", "error", err)
		}
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("set write deadline", "error", err)
				return
			}
			if !ok {
				// The hub closed the queue; say goodbye properly.
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
					c.logger.Warn("write close frame", "error", err)
				}
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				if !isExpectedCloseError(err) {
					c.logger.Warn("write frame", "error", err)
				}
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("set write deadline for ping", "error", err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.hub.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
				c.logger.Warn("write close frame during shutdown", "error", err)
			}
			return
		}
	}
}

// isExpectedCloseError checks if an error is expected during connection
// teardown.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
