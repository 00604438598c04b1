package hub

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/weiawesome/wes-chat/internal/config"
	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/internal/metrics"
	"github.com/weiawesome/wes-chat/pkg/log"
)

const defaultSendBuffer = 256

// Client is one websocket connection. Conn is nil for connections built in
// tests; everything except the pumps works without a socket.
type Client struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Session *domain.Session

	cfg     config.WebSocketConfig
	limiter *rate.Limiter

	mu          sync.Mutex
	closed      bool
	closeCode   int
	closeReason string
	dropped     atomic.Int64
}

func NewClient(id string, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	size := cfg.SendBuffer
	if size <= 0 {
		size = defaultSendBuffer
	}

	c := &Client{
		ID:      id,
		Conn:    conn,
		Send:    make(chan []byte, size),
		Session: domain.NewSession(id),
		cfg:     cfg,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateLimit)
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

// UserID is the bound identity, empty before authentication.
func (c *Client) UserID() string {
	return c.Session.UserID()
}

// Allow reports whether one more inbound event fits the connection's rate.
func (c *Client) Allow() bool {
	if c.limiter == nil {
		return true
	}
	return c.limiter.Allow()
}

// Push queues data without blocking. A full buffer drops the frame; the
// client recovers missed state through a REST fetch.
func (c *Client) Push(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.Send <- data:
		metrics.Pushes.Inc()
		return true
	default:
		c.dropped.Add(1)
		metrics.DroppedPushes.Inc()
		l := log.L()
		l.Debug().Str(log.FieldConnID, c.ID).Str(log.FieldUserID, c.UserID()).Msg("send buffer full, push dropped")
		return false
	}
}

// SendJSON encodes v and queues it.
func (c *Client) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.Push(data)
	return nil
}

// Dropped is the number of frames lost to a full buffer.
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

// Closed reports whether the send side has been shut.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// closeSend stops further pushes and lets the write pump drain and exit.
func (c *Client) closeSend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.Send)
	return true
}

// CloseWithCode shuts the connection after the frames already queued are
// written, ending with a close frame carrying code.
func (c *Client) CloseWithCode(code int, reason string) {
	c.mu.Lock()
	if !c.closed {
		c.closeCode = code
		c.closeReason = reason
	}
	c.mu.Unlock()
	c.closeSend()
}

func (c *Client) closeMessage() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeCode == 0 {
		return []byte{}
	}
	return websocket.FormatCloseMessage(c.closeCode, c.closeReason)
}

func (c *Client) writeWait() time.Duration {
	if c.cfg.WriteWait > 0 {
		return c.cfg.WriteWait
	}
	return 10 * time.Second
}

// ReadPump feeds inbound frames to handler one at a time, so events from one
// connection are handled in arrival order. It returns when the socket fails
// or closes.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer c.Conn.Close()

	if c.cfg.MaxMessageSize > 0 {
		c.Conn.SetReadLimit(c.cfg.MaxMessageSize)
	}
	pongWait := c.cfg.PongWait
	if pongWait <= 0 {
		pongWait = 60 * time.Second
	}
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l := log.L()
				l.Debug().Err(err).Str(log.FieldConnID, c.ID).Msg("websocket read error")
			}
			return
		}

		handler(c, message)
	}
}

// WritePump serializes every outbound frame for the connection and keeps it
// alive with pings.
func (c *Client) WritePump() {
	interval := c.cfg.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.writeWait()))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, c.closeMessage())
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.writeWait()))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
