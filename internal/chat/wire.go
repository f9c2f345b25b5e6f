package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frame is the envelope for every event crossing the connection.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	FrameMessage  = "message"
	FrameTyping   = "typing"
	FramePresence = "presence"
)

// ChatMessage is immutable once created except for IsRead, which the
// reader's client flips false->true exactly once.
type ChatMessage struct {
	ID             string `json:"id"`
	SenderID       string `json:"sender_id"`
	RecipientID    string `json:"recipient_id"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"` // unix milliseconds
	IsRead         bool   `json:"is_read,omitempty"`
}

// Before reports whether m sorts ahead of other under the (timestamp, id)
// ordering key. The id comparison breaks same-millisecond ties.
func (m ChatMessage) Before(other ChatMessage) bool {
	if m.Timestamp != other.Timestamp {
		return m.Timestamp < other.Timestamp
	}
	return m.ID < other.ID
}

// Time converts the millisecond timestamp back to a time.Time.
func (m ChatMessage) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// TypingIndicator is ephemeral: it is never stored, only drives transient
// UI state behind an expiry timer.
type TypingIndicator struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

type PresenceUpdate struct {
	UserID   string `json:"user_id"`
	IsOnline bool   `json:"is_online"`
}

func newFrame(frameType string, payload interface{}) Frame {
	data, _ := json.Marshal(payload)
	return Frame{Type: frameType, Payload: data}
}

// MessageFrame wraps a ChatMessage for transmission.
func MessageFrame(m ChatMessage) Frame { return newFrame(FrameMessage, m) }

// TypingFrame wraps a TypingIndicator for transmission.
func TypingFrame(t TypingIndicator) Frame { return newFrame(FrameTyping, t) }

// PresenceFrame wraps a PresenceUpdate for transmission.
func PresenceFrame(p PresenceUpdate) Frame { return newFrame(FramePresence, p) }

func decodePayload(f Frame, v interface{}) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("%s frame: empty payload", f.Type)
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("%s frame: %w", f.Type, err)
	}
	return nil
}
