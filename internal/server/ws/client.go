package ws

import (
	"encoding/json"
	"errors"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/King-Eliah/mentorship-platform-sub001/internal/chat"
	"github.com/King-Eliah/mentorship-platform-sub001/internal/server/models"
	"github.com/King-Eliah/mentorship-platform-sub001/internal/server/storage"
)

// Client is one authenticated websocket connection.
type Client struct {
	Hub      *Hub
	Store    *storage.Store
	Conn     *websocket.Conn
	Send     chan []byte
	UserID   string
	Username string
	IP       string
	Log      zerolog.Logger
}

func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}

		var f chat.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.Log.Warn().Err(err).Str("user", c.Username).Msg("malformed frame dropped")
			continue
		}
		c.handleFrame(f)
	}
}

func (c *Client) WritePump() {
	defer c.Conn.Close()
	for data := range c.Send {
		if data == nil {
			continue
		}
		if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// enqueue is called only from the hub's Run goroutine.
func (c *Client) enqueue(data []byte) {
	select {
	case c.Send <- data:
	default:
		// Slow consumer; drop rather than stall the hub.
	}
}

func (c *Client) handleFrame(f chat.Frame) {
	switch f.Type {
	case chat.FrameMessage:
		var m chat.ChatMessage
		if err := json.Unmarshal(f.Payload, &m); err != nil {
			c.Log.Warn().Err(err).Msg("malformed message frame")
			return
		}
		c.handleMessage(m)

	case chat.FrameTyping:
		var ind chat.TypingIndicator
		if err := json.Unmarshal(f.Payload, &ind); err != nil {
			c.Log.Warn().Err(err).Msg("malformed typing frame")
			return
		}
		c.handleTyping(ind)

	default:
		c.Log.Debug().Str("type", f.Type).Msg("unexpected frame type")
	}
}

func (c *Client) handleMessage(m chat.ChatMessage) {
	// Clients only speak for themselves.
	if m.SenderID != c.UserID || m.ID == "" || m.RecipientID == "" {
		c.Log.Warn().Str("user", c.Username).Msg("rejected spoofed or incomplete message")
		return
	}

	// First contact arrives with a conversation id the server has not
	// seen; resolve the canonical thread for the pair.
	if _, _, err := c.Store.Participants(m.ConversationID); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.Log.Error().Err(err).Msg("participants lookup failed")
			return
		}
		id, err := c.Store.EnsureConversation(m.SenderID, m.RecipientID)
		if err != nil {
			c.Log.Error().Err(err).Msg("ensure conversation failed")
			return
		}
		m.ConversationID = id
	}

	inserted, err := c.Store.SaveMessage(models.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		RecipientID:    m.RecipientID,
		Content:        m.Content,
		Timestamp:      m.Timestamp,
	})
	if err != nil {
		c.Log.Error().Err(err).Str("message", m.ID).Msg("persist failed")
		return
	}
	if !inserted {
		// Reconnect replay; already persisted and delivered.
		return
	}

	// Both participants and nobody else. The sender gets its own echo
	// back, which also covers its other devices.
	c.Hub.Deliver(chat.MessageFrame(m), m.SenderID, m.RecipientID)
}

func (c *Client) handleTyping(ind chat.TypingIndicator) {
	if ind.UserID != c.UserID {
		return
	}

	a, b, err := c.Store.Participants(ind.ConversationID)
	if err != nil {
		// Typing in a thread with no persisted messages yet; nothing to
		// relay to.
		return
	}

	other := a
	if other == c.UserID {
		other = b
	}
	c.Hub.Deliver(chat.TypingFrame(ind), other)
}
