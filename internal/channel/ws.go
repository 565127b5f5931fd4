package channel

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/studypair/callkit/internal/domain"
	"github.com/studypair/callkit/internal/signal"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	reconnectBase = time.Second
	reconnectMax  = 10 * time.Second
)

// WSChannel is the gorilla/websocket implementation of Channel. One instance
// serves the whole user session; calls come and go over it.
type WSChannel struct {
	url   string
	token string

	mu       sync.RWMutex
	conn     *websocket.Conn
	handlers map[string][]Handler
	onDrop   func(error)
	onRedial func()

	outgoing chan signal.Message
	done     chan struct{}
	closed   bool
}

func NewWSChannel(serverURL, authToken string) *WSChannel {
	return &WSChannel{
		url:      serverURL,
		token:    authToken,
		handlers: make(map[string][]Handler),
		outgoing: make(chan signal.Message, 32),
		done:     make(chan struct{}),
	}
}

func (c *WSChannel) On(msgType string, h Handler) {
	c.mu.Lock()
	c.handlers[msgType] = append(c.handlers[msgType], h)
	c.mu.Unlock()
}

func (c *WSChannel) OnDisconnect(fn func(error)) {
	c.mu.Lock()
	c.onDrop = fn
	c.mu.Unlock()
}

func (c *WSChannel) OnReconnect(fn func()) {
	c.mu.Lock()
	c.onRedial = fn
	c.mu.Unlock()
}

// Connect dials once and then keeps the session alive in the background,
// redialing with backoff after transport loss.
func (c *WSChannel) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.setConn(conn)
	go c.run(ctx, conn)
	return nil
}

func (c *WSChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxMessageSize)
	return conn, nil
}

func (c *WSChannel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// run owns one physical connection at a time: pumps until it breaks, then
// redials until ctx is done or the channel is closed.
func (c *WSChannel) run(ctx context.Context, conn *websocket.Conn) {
	for {
		err := c.pump(ctx, conn)
		if c.isClosed() || ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("module", "channel").Msg("signaling connection lost")
		c.mu.RLock()
		drop := c.onDrop
		c.mu.RUnlock()
		if drop != nil {
			drop(err)
		}

		conn = c.redial(ctx)
		if conn == nil {
			return
		}
		c.setConn(conn)
		log.Info().Str("module", "channel").Msg("signaling connection restored")
		c.mu.RLock()
		redial := c.onRedial
		c.mu.RUnlock()
		if redial != nil {
			redial()
		}
	}
}

func (c *WSChannel) redial(ctx context.Context) *websocket.Conn {
	backoff := reconnectBase
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case <-time.After(backoff):
		}
		conn, err := c.dial(ctx)
		if err == nil {
			return conn
		}
		log.Warn().Err(err).Str("module", "channel").Dur("backoff", backoff).Msg("redial failed")
		if backoff *= 2; backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

// pump runs the read loop on the calling goroutine and the write loop on a
// child; returns when either side fails.
func (c *WSChannel) pump(ctx context.Context, conn *websocket.Conn) error {
	writeDone := make(chan error, 1)
	stopWrite := make(chan struct{})
	go func() { writeDone <- c.writePump(conn, stopWrite) }()
	defer close(stopWrite)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return ctx.Err()
		case <-c.done:
			_ = conn.Close()
			return nil
		case err := <-writeDone:
			_ = conn.Close()
			return err
		default:
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return err
		}
		msg, err := signal.Decode(data)
		if err != nil {
			log.Error().Err(err).Str("module", "channel").Msg("bad signal message")
			continue
		}
		c.dispatch(msg)
	}
}

func (c *WSChannel) writePump(conn *websocket.Conn, stop <-chan struct{}) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
			return nil
		case msg := <-c.outgoing:
			data, err := signal.Encode(msg)
			if err != nil {
				log.Error().Err(err).Str("module", "channel").Msg("encode outgoing")
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func (c *WSChannel) dispatch(msg signal.Message) {
	c.mu.RLock()
	hs := append([]Handler(nil), c.handlers[msg.Type]...)
	c.mu.RUnlock()
	if len(hs) == 0 {
		log.Debug().Str("module", "channel").Str("type", msg.Type).Msg("unhandled signal")
		return
	}
	for _, h := range hs {
		h(msg)
	}
}

// Send queues the message fire-and-forget. A full queue surfaces as
// backpressure instead of blocking a caller that may hold call state.
func (c *WSChannel) Send(msg signal.Message) error {
	if c.isClosed() {
		return ErrNotConnected
	}
	select {
	case c.outgoing <- msg:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *WSChannel) JoinRoom(room domain.RoomID) error {
	return c.Send(signal.Message{Type: signal.TypeJoinRoom, RoomID: room})
}

func (c *WSChannel) LeaveRoom(room domain.RoomID) error {
	return c.Send(signal.Message{Type: signal.TypeLeaveRoom, RoomID: room})
}

func (c *WSChannel) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *WSChannel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	close(c.done)
	if conn != nil {
		_ = conn.Close()
	}
}
