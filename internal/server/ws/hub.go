package ws

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/King-Eliah/mentorship-platform-sub001/internal/chat"
)

// delivery addresses a frame to a set of users.
type delivery struct {
	frame   chat.Frame
	userIDs []string
}

// Hub tracks connected clients per user and fans frames out to the
// participants they concern. A user may hold several connections
// (multiple devices); presence follows the first and last of them.
// The client map is touched only by Run.
type Hub struct {
	Register   chan *Client
	Unregister chan *Client

	deliveries chan delivery
	log        zerolog.Logger

	clients map[string]map[*Client]bool // userID -> connections
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		deliveries: make(chan delivery, 64),
		log:        logger,
		clients:    make(map[string]map[*Client]bool),
	}
}

// Deliver sends a frame to every connection of the given users only,
// never to unrelated clients.
func (h *Hub) Deliver(f chat.Frame, userIDs ...string) {
	h.deliveries <- delivery{frame: f, userIDs: userIDs}
}

// Run owns the client map; all mutation happens on this goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.Register:
			first := len(h.clients[c.UserID]) == 0
			if h.clients[c.UserID] == nil {
				h.clients[c.UserID] = make(map[*Client]bool)
			}
			h.clients[c.UserID][c] = true
			h.log.Info().Str("user", c.Username).Bool("first_conn", first).Msg("client registered")

			h.sendOnlineSnapshot(c)
			if first {
				h.broadcastPresence(c.UserID, true)
			}

		case c := <-h.Unregister:
			if conns, ok := h.clients[c.UserID]; ok && conns[c] {
				delete(conns, c)
				close(c.Send)
				if len(conns) == 0 {
					delete(h.clients, c.UserID)
					h.broadcastPresence(c.UserID, false)
				}
				h.log.Info().Str("user", c.Username).Msg("client unregistered")
			}

		case d := <-h.deliveries:
			data := marshalFrame(d.frame)
			for _, id := range d.userIDs {
				for c := range h.clients[id] {
					c.enqueue(data)
				}
			}
		}
	}
}

// sendOnlineSnapshot tells a newcomer who is already online.
func (h *Hub) sendOnlineSnapshot(c *Client) {
	for userID := range h.clients {
		if userID == c.UserID {
			continue
		}
		c.enqueue(marshalFrame(chat.PresenceFrame(chat.PresenceUpdate{UserID: userID, IsOnline: true})))
	}
}

// broadcastPresence tells everyone except the subject themselves.
func (h *Hub) broadcastPresence(userID string, online bool) {
	data := marshalFrame(chat.PresenceFrame(chat.PresenceUpdate{UserID: userID, IsOnline: online}))
	for id, conns := range h.clients {
		if id == userID {
			continue
		}
		for c := range conns {
			c.enqueue(data)
		}
	}
}

func marshalFrame(f chat.Frame) []byte {
	data, err := json.Marshal(f)
	if err != nil {
		return nil
	}
	return data
}
