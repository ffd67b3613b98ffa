// Package signaling is the client end of a signaling channel: one websocket
// per session and role that reconnects on its own after transport loss.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Cast/internal/domain"
	"github.com/dkeye/Cast/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Status int

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusDisconnected
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	}
	return "closed"
}

// Event is either a status change or a received envelope.
type Event struct {
	Status   Status
	Envelope *protocol.Envelope
}

const writeWait = 5 * time.Second

type Channel struct {
	url    string
	policy ReconnectPolicy
	dialer *websocket.Dialer

	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	// ended is set once the server closed the session; no reconnect follows.
	ended bool

	wmu sync.Mutex
}

// Dial connects to url and keeps the channel alive until ctx ends, Close is
// called, the server ends the session or the reconnect policy gives up.
// The first event is always StatusConnected.
func Dial(ctx context.Context, url string, policy ReconnectPolicy) (*Channel, error) {
	c := &Channel{
		url:    url,
		policy: policy,
		dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.events <- Event{Status: StatusConnected}
	go c.run(ctx, conn)
	return c, nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("dial %s: %w", c.url, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("dial %s: %w: %w", c.url, domain.ErrTransportLost, err)
	}
	return conn, nil
}

// Events is closed once the channel is closed for good.
func (c *Channel) Events() <-chan Event { return c.events }

// Send writes one envelope. While disconnected it fails with ErrTransportLost;
// nothing is queued across a reconnect.
func (c *Channel) Send(env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("send %s: %w", env.Type, domain.ErrTransportLost)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send %s: %w: %w", env.Type, domain.ErrTransportLost, err)
	}
	return nil
}

func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	close(c.done)
	c.mu.Unlock()

	if conn != nil {
		c.wmu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.wmu.Unlock()
		_ = conn.Close()
	}
}

func (c *Channel) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Channel) stopped(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || c.ended || ctx.Err() != nil
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Channel) run(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		c.Close()
		// A connection dialed while Close ran is not seen by Close.
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.mu.Unlock()
		close(c.events)
	}()
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()

	for {
		c.read(conn)
		c.setConn(nil)
		_ = conn.Close()
		if c.stopped(ctx) {
			c.emitFinal()
			return
		}
		log.Warn().Str("module", "client.signaling").Str("url", c.url).Msg("transport lost")
		if !c.emit(Event{Status: StatusDisconnected}) {
			return
		}

		next, err := c.reconnect(ctx)
		if err != nil {
			log.Error().Err(err).Str("module", "client.signaling").Str("url", c.url).Msg("giving up")
			c.emitFinal()
			return
		}
		conn = next
		c.setConn(conn)
		if !c.emit(Event{Status: StatusConnected}) {
			return
		}
	}
}

func (c *Channel) emitFinal() {
	select {
	case c.events <- Event{Status: StatusClosed}:
	default:
	}
}

// read pumps envelopes until the connection fails.
func (c *Channel) read(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "client.signaling").Msg("bad envelope")
			continue
		}
		if env.Type == protocol.TypeSessionClosed || env.Type == protocol.TypeReplaced {
			c.mu.Lock()
			c.ended = true
			c.mu.Unlock()
		}
		if !c.emit(Event{Envelope: &env}) {
			return
		}
	}
}

func (c *Channel) reconnect(ctx context.Context) (*websocket.Conn, error) {
	for attempt := 1; c.policy.Allows(attempt); attempt++ {
		if !c.emit(Event{Status: StatusConnecting}) {
			return nil, errors.New("channel closed")
		}
		wait := c.policy.Backoff(attempt)
		select {
		case <-time.After(wait):
		case <-c.done:
			return nil, errors.New("channel closed")
		}
		conn, err := c.dial(ctx)
		if err == nil {
			log.Info().Str("module", "client.signaling").Str("url", c.url).Int("attempt", attempt).Msg("reconnected")
			return conn, nil
		}
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		log.Warn().Err(err).Str("module", "client.signaling").Int("attempt", attempt).Dur("backoff", wait).Msg("reconnect failed")
	}
	return nil, fmt.Errorf("reconnect %s: %w", c.url, domain.ErrTransportLost)
}
