package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConnFixture(t *testing.T) (*ConnManager, *fakeDialer, *fakeClock) {
	t.Helper()
	dialer := &fakeDialer{}
	clock := newFakeClock()
	cm := NewConnManager(ConnConfig{
		URL:     "ws://localhost:8080/ws",
		Dialer:  dialer,
		Clock:   clock,
		Backoff: Backoff{Base: time.Second, Cap: 30 * time.Second},
		Logger:  zerolog.Nop(),
	})
	return cm, dialer, clock
}

func waitForState(t *testing.T, cm *ConnManager, want ConnState) {
	t.Helper()
	require.Eventually(t, func() bool { return cm.State() == want },
		time.Second, time.Millisecond, "state never reached %s", want)
}

func TestConnectIsIdempotent(t *testing.T) {
	cm, dialer, _ := newConnFixture(t)

	require.NoError(t, cm.Connect(context.Background()))
	require.NoError(t, cm.Connect(context.Background()))
	require.NoError(t, cm.Connect(context.Background()))

	assert.Equal(t, 1, dialer.dials(), "repeat Connect must not open another socket")
	assert.Equal(t, StateConnected, cm.State())
	assert.True(t, cm.IsConnected())
}

func TestSendFailsFastWhenDown(t *testing.T) {
	cm, _, _ := newConnFixture(t)

	err := cm.Send(MessageFrame(msg("m1", me, peer, conv, "hi", 1000)))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSendWritesToConnection(t *testing.T) {
	cm, dialer, _ := newConnFixture(t)
	require.NoError(t, cm.Connect(context.Background()))

	require.NoError(t, cm.Send(MessageFrame(msg("m1", me, peer, conv, "hi", 1000))))

	frames := dialer.lastConn().sentFrames()
	require.Len(t, frames, 1)
	assert.Equal(t, FrameMessage, frames[0].Type)
}

func TestInboundFramesReachHandlerInOrder(t *testing.T) {
	cm, dialer, _ := newConnFixture(t)

	var mu sync.Mutex
	var got []string
	cm.OnFrame(func(f Frame) {
		var m ChatMessage
		if decodePayload(f, &m) == nil {
			mu.Lock()
			got = append(got, m.ID)
			mu.Unlock()
		}
	})

	require.NoError(t, cm.Connect(context.Background()))
	c := dialer.lastConn()
	c.deliver(MessageFrame(msg("m1", peer, me, conv, "a", 1000)))
	c.deliver(MessageFrame(msg("m2", peer, me, conv, "b", 2000)))
	c.deliver(MessageFrame(msg("m3", peer, me, conv, "c", 3000)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"m1", "m2", "m3"}, got)
}

func TestDropSchedulesReconnect(t *testing.T) {
	cm, dialer, clock := newConnFixture(t)
	require.NoError(t, cm.Connect(context.Background()))

	dialer.lastConn().drop()
	waitForState(t, cm, StateReconnecting)

	assert.Equal(t, 1, dialer.dials())
	require.Equal(t, []time.Duration{time.Second}, clock.pendingDelays())

	clock.Advance(time.Second)
	waitForState(t, cm, StateConnected)
	assert.Equal(t, 2, dialer.dials())
}

func TestReconnectBackoffDoubles(t *testing.T) {
	cm, dialer, clock := newConnFixture(t)
	require.NoError(t, cm.Connect(context.Background()))

	dialer.failNextDials(3)
	dialer.lastConn().drop()
	waitForState(t, cm, StateReconnecting)

	// Attempt 1 after 1s fails, attempt 2 after 2s fails, attempt 3
	// after 4s fails, attempt 4 after 8s succeeds.
	require.Equal(t, []time.Duration{time.Second}, clock.pendingDelays())
	clock.Advance(time.Second)
	require.Equal(t, []time.Duration{2 * time.Second}, clock.pendingDelays())
	clock.Advance(2 * time.Second)
	require.Equal(t, []time.Duration{4 * time.Second}, clock.pendingDelays())
	clock.Advance(4 * time.Second)
	require.Equal(t, []time.Duration{8 * time.Second}, clock.pendingDelays())
	clock.Advance(8 * time.Second)

	waitForState(t, cm, StateConnected)
	assert.Equal(t, 5, dialer.dials())
}

func TestReconnectSuccessResetsBackoff(t *testing.T) {
	cm, dialer, clock := newConnFixture(t)
	require.NoError(t, cm.Connect(context.Background()))

	// First outage: two failed dials push the delay to 4s.
	dialer.failNextDials(2)
	dialer.lastConn().drop()
	waitForState(t, cm, StateReconnecting)
	clock.Advance(time.Second)
	clock.Advance(2 * time.Second)
	clock.Advance(4 * time.Second)
	waitForState(t, cm, StateConnected)

	// Second outage starts back at the base delay.
	dialer.lastConn().drop()
	waitForState(t, cm, StateReconnecting)
	assert.Equal(t, []time.Duration{time.Second}, clock.pendingDelays())
}

func TestFailedFirstConnectRetriesOnBackoff(t *testing.T) {
	cm, dialer, clock := newConnFixture(t)

	dialer.failNextDials(1)
	err := cm.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateReconnecting, cm.State())

	clock.Advance(time.Second)
	waitForState(t, cm, StateConnected)
	assert.Equal(t, 2, dialer.dials())
}

func TestDisconnectIsTerminal(t *testing.T) {
	cm, dialer, clock := newConnFixture(t)
	require.NoError(t, cm.Connect(context.Background()))

	require.NoError(t, cm.Disconnect())
	assert.Equal(t, StateDisconnected, cm.State())

	// No timer may bring the connection back.
	clock.Advance(time.Minute)
	assert.Equal(t, StateDisconnected, cm.State())
	assert.Equal(t, 1, dialer.dials())
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	cm, dialer, clock := newConnFixture(t)
	require.NoError(t, cm.Connect(context.Background()))

	dialer.lastConn().drop()
	waitForState(t, cm, StateReconnecting)

	require.NoError(t, cm.Disconnect())
	clock.Advance(time.Minute)

	assert.Equal(t, StateDisconnected, cm.State())
	assert.Equal(t, 1, dialer.dials())
}

func TestConnectAfterDisconnectStartsFresh(t *testing.T) {
	cm, dialer, _ := newConnFixture(t)
	require.NoError(t, cm.Connect(context.Background()))
	require.NoError(t, cm.Disconnect())

	require.NoError(t, cm.Connect(context.Background()))
	assert.Equal(t, StateConnected, cm.State())
	assert.Equal(t, 2, dialer.dials())
}

func TestStateObserversSeeTransitions(t *testing.T) {
	cm, dialer, clock := newConnFixture(t)

	var mu sync.Mutex
	var seen []ConnState
	remove := cm.OnStateChange(func(s ConnState) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	require.NoError(t, cm.Connect(context.Background()))
	dialer.lastConn().drop()
	waitForState(t, cm, StateReconnecting)
	clock.Advance(time.Second)
	waitForState(t, cm, StateConnected)

	mu.Lock()
	assert.Equal(t, []ConnState{
		StateConnecting, StateConnected,
		StateReconnecting, StateConnected,
	}, seen)
	count := len(seen)
	mu.Unlock()

	remove()
	require.NoError(t, cm.Disconnect())
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, count, "removed observer must not fire")
}

func TestDialURLCarriesToken(t *testing.T) {
	dialer := &recordingDialer{}
	cm := NewConnManager(ConnConfig{
		URL:    "ws://localhost:8080/ws",
		Token:  "jwt 1",
		Dialer: dialer,
		Clock:  newFakeClock(),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, cm.Connect(context.Background()))
	assert.Equal(t, "ws://localhost:8080/ws?token=jwt+1", dialer.url)
}

type recordingDialer struct {
	url string
}

func (d *recordingDialer) Dial(_ context.Context, rawURL string) (Conn, error) {
	d.url = rawURL
	return newFakeConn(), nil
}
