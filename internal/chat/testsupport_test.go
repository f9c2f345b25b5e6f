package chat

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"
)

// fakeClock drives AfterFunc timers deterministically.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), fn: fn, armed: true}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward, firing due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		var next *fakeTimer
		for _, t := range c.timers {
			if !t.armed || t.deadline.After(target) {
				continue
			}
			if next == nil || t.deadline.Before(next.deadline) {
				next = t
			}
		}
		if next == nil {
			break
		}
		next.armed = false
		if next.deadline.After(c.now) {
			c.now = next.deadline
		}
		fn := next.fn
		c.mu.Unlock()
		fn()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// pendingDelays lists armed timer deadlines relative to now, sorted.
func (c *fakeClock) pendingDelays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.timers {
		if t.armed {
			out = append(out, t.deadline.Sub(c.now))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type fakeTimer struct {
	clock    *fakeClock
	deadline time.Time
	fn       func()
	armed    bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := t.armed
	t.armed = false
	return was
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := t.armed
	t.deadline = t.clock.now.Add(d)
	t.armed = true
	return was
}

// fakeConn is an in-memory Conn fed by tests.
type fakeConn struct {
	in chan Frame

	mu     sync.Mutex
	writes []Frame

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan Frame, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadFrame() (Frame, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.closed:
		return Frame{}, io.ErrUnexpectedEOF
	}
}

func (c *fakeConn) WriteFrame(f Frame) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.mu.Lock()
	c.writes = append(c.writes, f)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// deliver pushes a server-side frame toward the read loop.
func (c *fakeConn) deliver(f Frame) { c.in <- f }

// drop simulates the transport failing under us.
func (c *fakeConn) drop() { c.Close() }

func (c *fakeConn) sentFrames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Frame, len(c.writes))
	copy(out, c.writes)
	return out
}

// fakeDialer hands out fakeConns and can be told to fail dials.
type fakeDialer struct {
	mu        sync.Mutex
	conns     []*fakeConn
	dialCount int
	failNext  int
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialCount++
	if d.failNext > 0 {
		d.failNext--
		return nil, errors.New("dial refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dialCount
}

func (d *fakeDialer) failNextDials(n int) {
	d.mu.Lock()
	d.failNext = n
	d.mu.Unlock()
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// captureSender records outbound frames; err makes every send fail.
type captureSender struct {
	mu     sync.Mutex
	frames []Frame
	err    error
}

func (s *captureSender) Send(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *captureSender) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *captureSender) typingFrames() []TypingIndicator {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TypingIndicator
	for _, f := range s.frames {
		if f.Type != FrameTyping {
			continue
		}
		var ind TypingIndicator
		if decodePayload(f, &ind) == nil {
			out = append(out, ind)
		}
	}
	return out
}

func (s *captureSender) messageFrames() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ChatMessage
	for _, f := range s.frames {
		if f.Type != FrameMessage {
			continue
		}
		var m ChatMessage
		if decodePayload(f, &m) == nil {
			out = append(out, m)
		}
	}
	return out
}

func msg(id, sender, recipient, conv, content string, ts int64) ChatMessage {
	return ChatMessage{
		ID:             id,
		SenderID:       sender,
		RecipientID:    recipient,
		ConversationID: conv,
		Content:        content,
		Timestamp:      ts,
	}
}
