package chat

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ConnState is owned exclusively by the ConnManager; everything else
// only observes it.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

// Conn is a framed bidirectional connection to the messaging backend.
type Conn interface {
	ReadFrame() (Frame, error)
	WriteFrame(f Frame) error
	Close() error
}

// Dialer establishes Conns. Tests inject a fake; production uses
// WebsocketDialer.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// WebsocketDialer dials gorilla websocket connections carrying JSON
// frames.
type WebsocketDialer struct{}

func (WebsocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", rawURL, err)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex // gorilla allows a single concurrent writer
}

func (c *wsConn) ReadFrame() (Frame, error) {
	var f Frame
	if err := c.conn.ReadJSON(&f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func (c *wsConn) WriteFrame(f Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteJSON(f)
}

func (c *wsConn) Close() error { return c.conn.Close() }

// ConnConfig configures a ConnManager. Zero-value fields get defaults.
type ConnConfig struct {
	URL     string
	Token   string // appended as ?token= on dial
	Dialer  Dialer
	Clock   Clock
	Backoff Backoff
	Logger  zerolog.Logger
}

// ConnManager owns the one physical connection shared by every
// conversation view. It reconnects with exponential backoff on any
// transport error; only an explicit Disconnect is terminal.
type ConnManager struct {
	url     string
	dialer  Dialer
	clock   Clock
	log     zerolog.Logger
	onFrame func(Frame)

	mu        sync.Mutex
	state     ConnState
	conn      Conn
	closed    bool
	backoff   Backoff
	reconnect Timer
	subID     int
	stateSubs map[int]func(ConnState)
}

func NewConnManager(cfg ConnConfig) *ConnManager {
	if cfg.Dialer == nil {
		cfg.Dialer = WebsocketDialer{}
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Backoff.Base == 0 {
		cfg.Backoff = DefaultBackoff()
	}

	dialURL := cfg.URL
	if cfg.Token != "" {
		sep := "?"
		if u, err := url.Parse(cfg.URL); err == nil && u.RawQuery != "" {
			sep = "&"
		}
		dialURL += sep + "token=" + url.QueryEscape(cfg.Token)
	}

	return &ConnManager{
		url:       dialURL,
		dialer:    cfg.Dialer,
		clock:     cfg.Clock,
		log:       cfg.Logger,
		state:     StateDisconnected,
		backoff:   cfg.Backoff,
		stateSubs: make(map[int]func(ConnState)),
	}
}

// OnFrame registers the single inbound frame consumer (the router).
// Frames are delivered synchronously in transport arrival order; the
// handler must not block.
func (c *ConnManager) OnFrame(fn func(Frame)) {
	c.mu.Lock()
	c.onFrame = fn
	c.mu.Unlock()
}

// OnStateChange registers a state observer and returns its remover.
func (c *ConnManager) OnStateChange(fn func(ConnState)) func() {
	c.mu.Lock()
	id := c.subID
	c.subID++
	c.stateSubs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.stateSubs, id)
		c.mu.Unlock()
	}
}

func (c *ConnManager) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *ConnManager) IsConnected() bool { return c.State() == StateConnected }

// setState must be called without c.mu held.
func (c *ConnManager) setState(s ConnState) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	subs := make([]func(ConnState), 0, len(c.stateSubs))
	for _, fn := range c.stateSubs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}

// Connect establishes the connection. Calling it while already
// Connected or Connecting is a no-op. A failed first dial schedules a
// backoff retry and returns the dial error; the manager keeps trying
// until Disconnect.
func (c *ConnManager) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.closed = false
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.mu.Unlock()

	c.setState(StateConnecting)
	return c.dial(ctx)
}

func (c *ConnManager) dial(ctx context.Context) error {
	conn, err := c.dialer.Dial(ctx, c.url)
	if err != nil {
		c.log.Warn().Err(err).Msg("dial failed")
		c.scheduleReconnect()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.backoff.Reset()
	c.mu.Unlock()

	c.setState(StateConnected)
	c.log.Info().Msg("connected")

	go c.readLoop(conn)
	return nil
}

// Disconnect tears the connection down for good: it cancels any pending
// reconnect timer and transitions to Disconnected.
func (c *ConnManager) Disconnect() error {
	c.mu.Lock()
	c.closed = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.setState(StateDisconnected)
	return nil
}

// Send transmits a frame. It fails fast with ErrNotConnected when the
// connection is not up; callers own any retry.
func (c *ConnManager) Send(f Frame) error {
	c.mu.Lock()
	if c.state != StateConnected || c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.Unlock()

	if err := conn.WriteFrame(f); err != nil {
		return fmt.Errorf("send %s frame: %w", f.Type, err)
	}
	return nil
}

func (c *ConnManager) readLoop(conn Conn) {
	for {
		f, err := conn.ReadFrame()
		if err != nil {
			c.handleDrop(conn, err)
			return
		}

		c.mu.Lock()
		handler := c.onFrame
		c.mu.Unlock()
		if handler != nil {
			handler(f)
		}
	}
}

func (c *ConnManager) handleDrop(conn Conn, err error) {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		// Explicit disconnect, or a stale loop for a replaced conn.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	c.log.Warn().Err(err).Msg("connection dropped")
	conn.Close()
	c.scheduleReconnect()
}

func (c *ConnManager) scheduleReconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	delay := c.backoff.Next()
	attempt := c.backoff.Attempt()
	c.reconnect = c.clock.AfterFunc(delay, func() {
		c.mu.Lock()
		closed := c.closed
		c.reconnect = nil
		c.mu.Unlock()
		if closed {
			return
		}
		c.dial(context.Background())
	})
	c.mu.Unlock()

	c.setState(StateReconnecting)
	c.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnect scheduled")
}
