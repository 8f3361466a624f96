package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"hermes/server/internal/config"
	"hermes/server/internal/events"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Conn is the subset of *websocket.Conn the pumps use.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client represents one WebSocket connection of an authenticated user
type Client struct {
	ID       string
	Username string

	conn    Conn
	send    chan []byte
	limiter *rate.Limiter
	cfg     config.WSConfig

	kickOnce sync.Once
	done     chan struct{}
}

func NewClient(username string, conn Conn, cfg config.WSConfig) *Client {
	return &Client{
		ID:       uuid.NewString(),
		Username: username,
		conn:     conn,
		send:     make(chan []byte, cfg.SendBuffer),
		limiter:  rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), cfg.Burst),
		cfg:      cfg,
		done:     make(chan struct{}),
	}
}

// kick closes the socket so the read pump unwinds and unregisters.
func (c *Client) kick() {
	c.kickOnce.Do(func() {
		_ = c.conn.Close()
	})
}

// ReadPump handles incoming frames until the connection fails, then
// unregisters the client and waits for the write pump to drain.
func (c *Client) ReadPump(ctx context.Context, g *Gateway) {
	defer func() {
		g.hub.Unregister(ctx, c)
		<-c.done
		c.kick()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				g.log.Debug("websocket read error", zap.String("conn", c.ID), zap.Error(err))
			}
			return
		}

		var env events.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			g.sendError(c, "INVALID_ARGUMENT", "malformed event", "")
			continue
		}
		if !c.limiter.Allow() {
			g.metrics.EventsDropped.WithLabelValues("rate_limited").Inc()
			g.sendError(c, "RATE_LIMITED", "too many events", env.Type)
			continue
		}
		g.Handle(ctx, c, env)
	}
}

// WritePump handles outgoing messages and keepalive pings
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		close(c.done)
		c.kick()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
