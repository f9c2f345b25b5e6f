package chat

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Config wires a Client. ServerURL and UserID are required; everything
// else defaults.
type Config struct {
	ServerURL string
	Token     string
	UserID    string

	Dialer  Dialer
	Clock   Clock
	Backoff Backoff
	Logger  zerolog.Logger

	// TypingStop / TypingExpiry override the typing windows; zero keeps
	// the defaults (2s outbound stop, 3s inbound expiry).
	TypingStop   time.Duration
	TypingExpiry time.Duration
}

// Client is the messaging core: one shared connection, a router over
// it, the conversation store, presence, and the typing coordinator.
// Construct exactly one per session and inject it into views; the
// views' API surface is this type.
type Client struct {
	conn     *ConnManager
	store    *Store
	presence *Presence
	typing   *TypingCoordinator
	router   *Router
}

func NewClient(cfg Config) *Client {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}

	conn := NewConnManager(ConnConfig{
		URL:     cfg.ServerURL,
		Token:   cfg.Token,
		Dialer:  cfg.Dialer,
		Clock:   cfg.Clock,
		Backoff: cfg.Backoff,
		Logger:  cfg.Logger,
	})
	store := NewStore(cfg.UserID)
	presence := NewPresence()
	typing := NewTypingCoordinator(cfg.UserID, conn, cfg.Clock, cfg.Logger)
	typing.SetTimeouts(cfg.TypingStop, cfg.TypingExpiry)
	router := NewRouter(cfg.UserID, conn, store, presence, typing, cfg.Clock, cfg.Logger)

	conn.OnFrame(router.HandleFrame)

	// Presence is connection-scoped: once the link drops, everything we
	// knew is stale and reads as unknown until fresh frames arrive.
	conn.OnStateChange(func(s ConnState) {
		if s == StateReconnecting || s == StateDisconnected {
			store.ResetPresence()
			presence.Reset()
		}
	})

	return &Client{
		conn:     conn,
		store:    store,
		presence: presence,
		typing:   typing,
		router:   router,
	}
}

// Connect brings the shared connection up. Idempotent.
func (c *Client) Connect(ctx context.Context) error { return c.conn.Connect(ctx) }

// Disconnect is terminal: logout. Reconnection stops.
func (c *Client) Disconnect() error { return c.conn.Disconnect() }

func (c *Client) IsConnected() bool { return c.conn.IsConnected() }

func (c *Client) State() ConnState { return c.conn.State() }

// OnStateChange registers a connection badge observer; returns remover.
func (c *Client) OnStateChange(fn func(ConnState)) func() {
	return c.conn.OnStateChange(fn)
}

// OnNotify installs the toast hook for inbound messages landing in
// conversations that are not currently open.
func (c *Client) OnNotify(fn func(ChatMessage)) { c.router.OnNotify(fn) }

// Seed loads the snapshot fetched from the REST collaborator; the core
// reconciles live events on top of it.
func (c *Client) Seed(convs []Conversation, history map[string][]ChatMessage) {
	c.store.Seed(convs, history)
}

// SendMessage publishes a locally authored message: optimistic insert
// plus transmission. The returned message carries the client-assigned
// id; ErrNotConnected means the wire send failed.
func (c *Client) SendMessage(conversationID, recipientID, content string) (ChatMessage, error) {
	return c.router.Publish(conversationID, recipientID, content)
}

// Keystroke drives the outbound typing state machine.
func (c *Client) Keystroke(conversationID string) { c.typing.Keystroke(conversationID) }

// Subscribe registers conversation handlers; the disposer must be
// called on view teardown.
func (c *Client) Subscribe(conversationID string, sub Subscriber) func() {
	return c.router.Subscribe(conversationID, sub)
}

// MarkActive opens a conversation: resets its unread count and directs
// read receipts there.
func (c *Client) MarkActive(conversationID string) { c.store.MarkActive(conversationID) }

// ClearActive closes the open conversation.
func (c *Client) ClearActive() { c.store.ClearActive() }

func (c *Client) Conversations() []Conversation { return c.store.Conversations() }

func (c *Client) Messages(conversationID string) []ChatMessage {
	return c.store.Messages(conversationID)
}

func (c *Client) Conversation(conversationID string) (Conversation, bool) {
	return c.store.Conversation(conversationID)
}

// IsOnline consults the presence map; known=false means no presence
// frame has arrived for the user since (re)connecting.
func (c *Client) IsOnline(userID string) (online, known bool) {
	return c.presence.IsOnline(userID)
}

// IsPeerTyping reports the inbound typing indicator for a conversation.
func (c *Client) IsPeerTyping(conversationID string) bool {
	return c.typing.IsPeerTyping(conversationID)
}
