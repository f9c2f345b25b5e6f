package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTypingFixture() (*TypingCoordinator, *captureSender, *fakeClock) {
	sender := &captureSender{}
	clock := newFakeClock()
	tc := NewTypingCoordinator(me, sender, clock, zerolog.Nop())
	return tc, sender, clock
}

func TestTypingBurstEmitsOneStartOneStop(t *testing.T) {
	tc, sender, clock := newTypingFixture()

	for i := 0; i < 10; i++ {
		tc.Keystroke(conv)
		clock.Advance(100 * time.Millisecond)
	}
	clock.Advance(2 * time.Second)

	frames := sender.typingFrames()
	require.Len(t, frames, 2, "one start and one stop per burst, not one per keystroke")
	assert.True(t, frames[0].IsTyping)
	assert.False(t, frames[1].IsTyping)
	assert.Equal(t, me, frames[0].UserID)
	assert.Equal(t, conv, frames[0].ConversationID)
}

func TestTypingKeystrokeResetsStopTimer(t *testing.T) {
	tc, sender, clock := newTypingFixture()

	tc.Keystroke(conv)
	clock.Advance(1500 * time.Millisecond)
	tc.Keystroke(conv)
	clock.Advance(1500 * time.Millisecond)

	require.Len(t, sender.typingFrames(), 1, "stop must not fire while keystrokes keep coming")

	clock.Advance(time.Second)
	frames := sender.typingFrames()
	require.Len(t, frames, 2)
	assert.False(t, frames[1].IsTyping)
}

func TestTypingMessageSentStopsImmediately(t *testing.T) {
	tc, sender, clock := newTypingFixture()

	tc.Keystroke(conv)
	tc.MessageSent(conv)

	frames := sender.typingFrames()
	require.Len(t, frames, 2)
	assert.False(t, frames[1].IsTyping)

	// The cancelled stop timer must not fire a second stop.
	clock.Advance(5 * time.Second)
	assert.Len(t, sender.typingFrames(), 2)
}

func TestTypingMessageSentWhileIdleIsNoOp(t *testing.T) {
	tc, sender, _ := newTypingFixture()
	tc.MessageSent(conv)
	assert.Empty(t, sender.typingFrames())
}

func TestTypingPausesWhileDisconnected(t *testing.T) {
	tc, sender, _ := newTypingFixture()
	sender.setErr(ErrNotConnected)

	tc.Keystroke(conv)
	assert.Empty(t, sender.typingFrames())

	// Reconnected: the next keystroke starts a fresh burst.
	sender.setErr(nil)
	tc.Keystroke(conv)
	frames := sender.typingFrames()
	require.Len(t, frames, 1)
	assert.True(t, frames[0].IsTyping)
}

func TestInboundTypingExpiresWithoutStopFrame(t *testing.T) {
	tc, _, clock := newTypingFixture()

	var mu sync.Mutex
	var events []TypingIndicator
	tc.SetListener(conv, func(ind TypingIndicator) {
		mu.Lock()
		events = append(events, ind)
		mu.Unlock()
	})

	tc.Observe(TypingIndicator{UserID: peer, ConversationID: conv, IsTyping: true})
	assert.True(t, tc.IsPeerTyping(conv))

	clock.Advance(3 * time.Second)

	assert.False(t, tc.IsPeerTyping(conv))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.True(t, events[0].IsTyping)
	assert.False(t, events[1].IsTyping)
	assert.Equal(t, peer, events[1].UserID)
}

func TestInboundTypingRefreshExtendsExpiry(t *testing.T) {
	tc, _, clock := newTypingFixture()

	tc.Observe(TypingIndicator{UserID: peer, ConversationID: conv, IsTyping: true})
	clock.Advance(2 * time.Second)
	tc.Observe(TypingIndicator{UserID: peer, ConversationID: conv, IsTyping: true})
	clock.Advance(2 * time.Second)

	assert.True(t, tc.IsPeerTyping(conv), "refresh two seconds in must push expiry out")

	clock.Advance(time.Second)
	assert.False(t, tc.IsPeerTyping(conv))
}

func TestInboundTypingExplicitStopClears(t *testing.T) {
	tc, _, clock := newTypingFixture()

	var mu sync.Mutex
	var events []TypingIndicator
	tc.SetListener(conv, func(ind TypingIndicator) {
		mu.Lock()
		events = append(events, ind)
		mu.Unlock()
	})

	tc.Observe(TypingIndicator{UserID: peer, ConversationID: conv, IsTyping: true})
	tc.Observe(TypingIndicator{UserID: peer, ConversationID: conv, IsTyping: false})
	assert.False(t, tc.IsPeerTyping(conv))

	// Expiry for the cleared indicator must not emit a third event.
	clock.Advance(5 * time.Second)
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, events, 2)
}

func TestInboundTypingRepeatedStartsEmitOnce(t *testing.T) {
	tc, _, _ := newTypingFixture()

	var mu sync.Mutex
	count := 0
	tc.SetListener(conv, func(TypingIndicator) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	tc.Observe(TypingIndicator{UserID: peer, ConversationID: conv, IsTyping: true})
	tc.Observe(TypingIndicator{UserID: peer, ConversationID: conv, IsTyping: true})
	tc.Observe(TypingIndicator{UserID: peer, ConversationID: conv, IsTyping: true})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count, "only transitions reach the listener")
}

func TestTypingOwnEchoIgnored(t *testing.T) {
	tc, _, _ := newTypingFixture()
	tc.Observe(TypingIndicator{UserID: me, ConversationID: conv, IsTyping: true})
	assert.False(t, tc.IsPeerTyping(conv))
}

func TestTypingCancelSilencesTimers(t *testing.T) {
	tc, sender, clock := newTypingFixture()

	var mu sync.Mutex
	count := 0
	tc.SetListener(conv, func(TypingIndicator) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	tc.Keystroke(conv)
	tc.Observe(TypingIndicator{UserID: peer, ConversationID: conv, IsTyping: true})
	mu.Lock()
	before := count
	mu.Unlock()

	tc.Cancel(conv)

	// Outbound burst ends with an explicit stop frame.
	frames := sender.typingFrames()
	require.Len(t, frames, 2)
	assert.False(t, frames[1].IsTyping)

	// No callbacks fire on the torn-down view.
	clock.Advance(10 * time.Second)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, before, count)
	assert.Len(t, sender.typingFrames(), 2)
}

func TestTypingCustomTimeouts(t *testing.T) {
	sender := &captureSender{}
	clock := newFakeClock()
	tc := NewTypingCoordinator(me, sender, clock, zerolog.Nop())
	tc.SetTimeouts(500*time.Millisecond, time.Second)

	tc.Keystroke(conv)
	clock.Advance(500 * time.Millisecond)
	frames := sender.typingFrames()
	require.Len(t, frames, 2)
	assert.False(t, frames[1].IsTyping)

	tc.Observe(TypingIndicator{UserID: peer, ConversationID: conv, IsTyping: true})
	clock.Advance(time.Second)
	assert.False(t, tc.IsPeerTyping(conv))
}
