package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/studypair/callkit/internal/domain"
	"github.com/studypair/callkit/internal/signal"
)

const (
	writeWait = 5 * time.Second
	// pongWait must outlive the client ping period with margin.
	pongWait = 90 * time.Second
)

var ErrBackpressure = errors.New("backpressure")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsLink wraps one websocket connection behind the hub's peerLink.
type wsLink struct {
	conn *websocket.Conn
	send chan signal.Message

	mu     sync.RWMutex
	closed bool
}

func newWSLink(conn *websocket.Conn) *wsLink {
	return &wsLink{conn: conn, send: make(chan signal.Message, 32)}
}

// TrySend queues without blocking; a slow consumer loses messages rather
// than stalling the hub.
func (c *wsLink) TrySend(msg signal.Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- msg:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsLink) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// WSController terminates signaling websockets and feeds the hub.
type WSController struct {
	hub       *Hub
	readLimit int64
}

func NewWSController(hub *Hub, readLimit int64) *WSController {
	if readLimit <= 0 {
		readLimit = 32 * 1024
	}
	return &WSController{hub: hub, readLimit: readLimit}
}

// HandleSignal upgrades an authenticated request. The identity comes from
// the auth middleware, never from the socket.
func (ctl *WSController) HandleSignal(ctx context.Context, c *gin.Context) {
	uid := domain.UserID(c.GetString("user_id"))
	if uid == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "server").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.readLimit)

	link := newWSLink(ws)
	ctl.hub.Register(uid, link)

	go ctl.writePump(ctx, link)
	go ctl.readPump(ctx, uid, link)
}

func (ctl *WSController) readPump(ctx context.Context, uid domain.UserID, c *wsLink) {
	defer func() {
		ctl.hub.Unregister(uid, c)
		c.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPingHandler(func(appData string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("module", "server").Str("user", string(uid)).Msg("read loop done")
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		msg, err := signal.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "server").Str("user", string(uid)).Msg("bad signal message")
			continue
		}
		ctl.hub.HandleMessage(ctx, uid, msg)
	}
}

func (ctl *WSController) writePump(ctx context.Context, c *wsLink) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			data, err := signal.Encode(msg)
			if err != nil {
				log.Error().Err(err).Str("module", "server").Msg("encode outgoing")
				continue
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "server").Msg("write loop done")
				return
			}
		}
	}
}
