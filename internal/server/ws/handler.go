package ws

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/King-Eliah/mentorship-platform-sub001/internal/auth"
	"github.com/King-Eliah/mentorship-platform-sub001/internal/server/ratelimit"
	"github.com/King-Eliah/mentorship-platform-sub001/internal/server/storage"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades authenticated websocket connections and hands them
// to the hub. The session token rides the ?token= query parameter,
// validated before the upgrade.
type Handler struct {
	Hub     *Hub
	Store   *storage.Store
	Auth    *auth.Authenticator
	Limiter *ratelimit.Limiter
	Log     zerolog.Logger
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := ratelimit.GetClientIP(r)
	if !h.Limiter.CanConnect(ip) {
		h.Log.Warn().Str("ip", ip).Msg("connection rate limited")
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	claims, err := h.Auth.Validate(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Warn().Err(err).Msg("upgrade failed")
		return
	}

	h.Limiter.AddConnection(ip)

	client := &Client{
		Hub:      h.Hub,
		Store:    h.Store,
		Conn:     conn,
		Send:     make(chan []byte, 256),
		UserID:   claims.UserID,
		Username: claims.Username,
		IP:       ip,
		Log:      h.Log,
	}

	h.Hub.Register <- client

	go func() {
		defer h.Limiter.RemoveConnection(ip)
		client.WritePump()
	}()
	go client.ReadPump()
}
