package chat

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Subscriber receives the events of one conversation. Handlers run on
// the delivery path for all conversations and must not block.
type Subscriber struct {
	OnMessage func(ChatMessage)
	OnTyping  func(TypingIndicator)
}

// Router demultiplexes inbound frames to the conversations they belong
// to and fans outbound sends through the single shared connection.
// Dispatch is synchronous in transport arrival order; the router never
// reorders, only the Store repositions messages by their timestamp key.
type Router struct {
	localUserID string
	sender      FrameSender
	store       *Store
	presence    *Presence
	typing      *TypingCoordinator
	clock       Clock
	notify      func(ChatMessage)
	log         zerolog.Logger

	mu   sync.RWMutex
	subs map[string]Subscriber
}

func NewRouter(localUserID string, sender FrameSender, store *Store, presence *Presence, typing *TypingCoordinator, clock Clock, logger zerolog.Logger) *Router {
	if clock == nil {
		clock = SystemClock()
	}
	return &Router{
		localUserID: localUserID,
		sender:      sender,
		store:       store,
		presence:    presence,
		typing:      typing,
		clock:       clock,
		log:         logger,
		subs:        make(map[string]Subscriber),
	}
}

// OnNotify installs the side-channel hook fired for inbound messages of
// non-active conversations (the toast).
func (r *Router) OnNotify(fn func(ChatMessage)) {
	r.mu.Lock()
	r.notify = fn
	r.mu.Unlock()
}

// Subscribe registers the handler for one conversation and returns its
// disposer. Unsubscribing stops delivery and cancels that
// conversation's typing timers; it never touches the shared connection.
func (r *Router) Subscribe(conversationID string, sub Subscriber) func() {
	r.mu.Lock()
	r.subs[conversationID] = sub
	r.mu.Unlock()

	if sub.OnTyping != nil {
		r.typing.SetListener(conversationID, sub.OnTyping)
	}

	return func() {
		r.mu.Lock()
		delete(r.subs, conversationID)
		r.mu.Unlock()
		r.typing.Cancel(conversationID)
	}
}

// Publish assigns the message its id and timestamp, inserts it
// optimistically so the sender sees it immediately, and hands it to the
// connection. A send failure surfaces to the caller; the optimistic
// insert stands and the UI decides how to present it.
func (r *Router) Publish(conversationID, recipientID, content string) (ChatMessage, error) {
	msg := ChatMessage{
		ID:             uuid.NewString(),
		SenderID:       r.localUserID,
		RecipientID:    recipientID,
		ConversationID: conversationID,
		Content:        content,
		Timestamp:      r.clock.Now().UnixMilli(),
	}

	r.store.ApplyMessage(msg)
	r.typing.MessageSent(conversationID)
	r.deliver(msg)

	if err := r.sender.Send(MessageFrame(msg)); err != nil {
		return msg, err
	}
	return msg, nil
}

// HandleFrame is the ConnManager's frame consumer.
func (r *Router) HandleFrame(f Frame) {
	switch f.Type {
	case FrameMessage:
		var m ChatMessage
		if err := decodePayload(f, &m); err != nil {
			r.log.Warn().Err(err).Msg("malformed frame dropped")
			return
		}
		r.handleMessage(m)

	case FrameTyping:
		var ind TypingIndicator
		if err := decodePayload(f, &ind); err != nil {
			r.log.Warn().Err(err).Msg("malformed frame dropped")
			return
		}
		r.typing.Observe(ind)

	case FramePresence:
		var p PresenceUpdate
		if err := decodePayload(f, &p); err != nil {
			r.log.Warn().Err(err).Msg("malformed frame dropped")
			return
		}
		r.presence.Set(p.UserID, p.IsOnline)
		r.store.ApplyPresence(p.UserID, p.IsOnline)

	default:
		r.log.Debug().Str("type", f.Type).Msg("unknown frame type dropped")
	}
}

func (r *Router) handleMessage(m ChatMessage) {
	// Duplicate delivery (reconnect replay, own echo) is absorbed here.
	if !r.store.ApplyMessage(m) {
		return
	}

	r.deliver(m)

	if m.SenderID != r.localUserID && r.store.ActiveConversation() != m.ConversationID {
		r.mu.RLock()
		notify := r.notify
		r.mu.RUnlock()
		if notify != nil {
			notify(m)
		}
	}
}

func (r *Router) deliver(m ChatMessage) {
	r.mu.RLock()
	sub, ok := r.subs[m.ConversationID]
	r.mu.RUnlock()
	// Frames for conversations nobody has open are valid: the store is
	// already updated, there is just no handler to run.
	if ok && sub.OnMessage != nil {
		sub.OnMessage(m)
	}
}
