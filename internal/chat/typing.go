package chat

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultTypingStop is how long after the last keystroke the
	// outbound indicator auto-stops.
	DefaultTypingStop = 2 * time.Second
	// DefaultTypingExpiry is the inbound indicator lifetime without a
	// refresh. Longer than the stop timer to tolerate network jitter,
	// and self-healing against dropped stop frames.
	DefaultTypingExpiry = 3 * time.Second
)

// FrameSender is the slice of ConnManager the coordinator and router
// need for outbound frames.
type FrameSender interface {
	Send(f Frame) error
}

type outboundTyping struct {
	active bool
	stop   Timer
}

type inboundTyping struct {
	userID string
	expire Timer
}

// TypingCoordinator turns rapid local keystrokes into one start and one
// stop frame per typing burst, and turns inbound typing frames into a
// self-expiring local indicator. Two independent directions, each a
// small per-conversation state machine.
type TypingCoordinator struct {
	localUserID string
	sender      FrameSender
	clock       Clock
	stopAfter   time.Duration
	expireAfter time.Duration
	log         zerolog.Logger

	mu        sync.Mutex
	outbound  map[string]*outboundTyping
	inbound   map[string]*inboundTyping
	listeners map[string]func(TypingIndicator)
}

func NewTypingCoordinator(localUserID string, sender FrameSender, clock Clock, logger zerolog.Logger) *TypingCoordinator {
	if clock == nil {
		clock = SystemClock()
	}
	return &TypingCoordinator{
		localUserID: localUserID,
		sender:      sender,
		clock:       clock,
		stopAfter:   DefaultTypingStop,
		expireAfter: DefaultTypingExpiry,
		log:         logger,
		outbound:    make(map[string]*outboundTyping),
		inbound:     make(map[string]*inboundTyping),
		listeners:   make(map[string]func(TypingIndicator)),
	}
}

// SetTimeouts overrides the stop/expiry windows. Zero keeps the default.
func (t *TypingCoordinator) SetTimeouts(stopAfter, expireAfter time.Duration) {
	t.mu.Lock()
	if stopAfter > 0 {
		t.stopAfter = stopAfter
	}
	if expireAfter > 0 {
		t.expireAfter = expireAfter
	}
	t.mu.Unlock()
}

// Keystroke records a local keystroke. The first one after idle emits
// isTyping:true; every one resets the stop timer. Nothing goes over the
// wire while the connection is down.
func (t *TypingCoordinator) Keystroke(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ob, ok := t.outbound[conversationID]
	if !ok {
		ob = &outboundTyping{}
		t.outbound[conversationID] = ob
	}

	if !ob.active {
		err := t.sender.Send(TypingFrame(TypingIndicator{
			UserID:         t.localUserID,
			ConversationID: conversationID,
			IsTyping:       true,
		}))
		if err != nil {
			// Not connected: stay idle so a later keystroke retries.
			return
		}
		ob.active = true
	}

	if ob.stop != nil {
		ob.stop.Reset(t.stopAfter)
	} else {
		ob.stop = t.clock.AfterFunc(t.stopAfter, func() {
			t.expireOutbound(conversationID)
		})
	}
}

// MessageSent immediately ends the current typing burst; sending a
// message makes a trailing "still typing" indicator nonsense.
func (t *TypingCoordinator) MessageSent(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopOutboundLocked(conversationID)
}

func (t *TypingCoordinator) expireOutbound(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopOutboundLocked(conversationID)
}

func (t *TypingCoordinator) stopOutboundLocked(conversationID string) {
	ob, ok := t.outbound[conversationID]
	if !ok || !ob.active {
		return
	}
	ob.active = false
	if ob.stop != nil {
		ob.stop.Stop()
		ob.stop = nil
	}
	if err := t.sender.Send(TypingFrame(TypingIndicator{
		UserID:         t.localUserID,
		ConversationID: conversationID,
		IsTyping:       false,
	})); err != nil {
		t.log.Debug().Err(err).Str("conversation", conversationID).Msg("typing stop not sent")
	}
}

// Observe feeds an inbound typing frame into the local indicator.
// isTyping:true starts or refreshes the expiry timer; false or expiry
// clears it. Only transitions reach the listener.
func (t *TypingCoordinator) Observe(ind TypingIndicator) {
	if ind.UserID == t.localUserID {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ib, active := t.inbound[ind.ConversationID]

	if ind.IsTyping {
		if active {
			ib.userID = ind.UserID
			ib.expire.Reset(t.expireAfter)
			return
		}
		ib = &inboundTyping{userID: ind.UserID}
		ib.expire = t.clock.AfterFunc(t.expireAfter, func() {
			t.expireInbound(ind.ConversationID)
		})
		t.inbound[ind.ConversationID] = ib
		t.emitLocked(ind)
		return
	}

	if !active {
		return
	}
	ib.expire.Stop()
	delete(t.inbound, ind.ConversationID)
	t.emitLocked(ind)
}

func (t *TypingCoordinator) expireInbound(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ib, ok := t.inbound[conversationID]
	if !ok {
		return
	}
	delete(t.inbound, conversationID)
	t.emitLocked(TypingIndicator{
		UserID:         ib.userID,
		ConversationID: conversationID,
		IsTyping:       false,
	})
}

// IsPeerTyping reports whether the conversation partner currently shows
// as typing.
func (t *TypingCoordinator) IsPeerTyping(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.inbound[conversationID]
	return ok
}

// SetListener installs the per-conversation indicator callback.
func (t *TypingCoordinator) SetListener(conversationID string, fn func(TypingIndicator)) {
	t.mu.Lock()
	t.listeners[conversationID] = fn
	t.mu.Unlock()
}

// Cancel tears down both directions for a conversation: stops timers so
// no callback fires on a torn-down view, and ends an active outbound
// burst with a final stop frame.
func (t *TypingCoordinator) Cancel(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.listeners, conversationID)
	t.stopOutboundLocked(conversationID)
	delete(t.outbound, conversationID)
	if ib, ok := t.inbound[conversationID]; ok {
		ib.expire.Stop()
		delete(t.inbound, conversationID)
	}
}

// emitLocked calls the listener without t.mu to avoid re-entrancy
// deadlocks; caller holds the lock and we drop it around the call.
func (t *TypingCoordinator) emitLocked(ind TypingIndicator) {
	fn := t.listeners[ind.ConversationID]
	if fn == nil {
		return
	}
	t.mu.Unlock()
	fn(ind)
	t.mu.Lock()
}
