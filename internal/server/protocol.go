// Package server defines the JSON wire protocol exchanged over the
// WebSocket endpoint: one envelope per logical event in either direction.
package server

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Message represents one chat entry. The id is client-generated and treated
// as an opaque string; timestamp is epoch milliseconds, set at creation and
// never touched by edits.
type Message struct {
	ID        string `json:"id" validate:"required"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	Sender    string `json:"sender" validate:"required"`
}

// Client-to-server frame types.
const (
	frameSend   = "send"
	frameUpdate = "update"
	frameDelete = "delete"
)

// Server-to-client frame types.
const (
	frameHistory = "history"
	frameMessage = "message"
)

// clientFrame is the envelope for every client-to-server event. Which fields
// are meaningful depends on Type.
type clientFrame struct {
	Type      string   `json:"type" validate:"required"`
	Message   *Message `json:"message,omitempty"`
	MessageID string   `json:"messageId,omitempty"`
	Text      string   `json:"text,omitempty"`
}

type historyFrame struct {
	Type     string    `json:"type"`
	Messages []Message `json:"messages"`
}

type messageFrame struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

type deleteFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

// opKind identifies a mutating operation applied to the message log.
type opKind int

const (
	opCreate opKind = iota
	opUpdate
	opDelete
)

func (k opKind) String() string {
	switch k {
	case opCreate:
		return "create"
	case opUpdate:
		return "update"
	case opDelete:
		return "delete"
	}
	return "unknown"
}

// operation is one client-initiated mutation, already parsed and validated,
// queued for serialized processing by the hub.
type operation struct {
	kind      opKind
	message   Message // create only
	messageID string  // update and delete
	text      string  // update only
}

// parseClientFrame decodes and validates a raw inbound frame. A nil
// operation with a nil error means the frame was recognized but requires no
// processing (unknown types are ignored silently per the protocol).
func parseClientFrame(raw []byte, validate *validator.Validate) (*operation, error) {
	var frame clientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if err := validate.Struct(frame); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}

	switch frame.Type {
	case frameSend:
		if frame.Message == nil {
			return nil, fmt.Errorf("send frame without message")
		}
		if err := validate.Struct(frame.Message); err != nil {
			return nil, fmt.Errorf("invalid message: %w", err)
		}
		return &operation{kind: opCreate, message: *frame.Message}, nil
	case frameUpdate:
		if err := validate.Var(frame.MessageID, "required"); err != nil {
			return nil, fmt.Errorf("update frame without messageId")
		}
		return &operation{kind: opUpdate, messageID: frame.MessageID, text: frame.Text}, nil
	case frameDelete:
		if err := validate.Var(frame.MessageID, "required"); err != nil {
			return nil, fmt.Errorf("delete frame without messageId")
		}
		return &operation{kind: opDelete, messageID: frame.MessageID}, nil
	}

	// The protocol defines no error-reporting channel; unrecognized types
	// fall through with no effect.
	return nil, nil
}

func encodeHistory(messages []Message) ([]byte, error) {
	return json.Marshal(historyFrame{Type: frameHistory, Messages: messages})
}

func encodeMessage(frameType string, m Message) ([]byte, error) {
	return json.Marshal(messageFrame{Type: frameType, Message: m})
}

func encodeDelete(messageID string) ([]byte, error) {
	return json.Marshal(deleteFrame{Type: frameDelete, MessageID: messageID})
}
