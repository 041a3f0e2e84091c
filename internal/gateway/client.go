package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/coterie-ai/coterie/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// Client is one connected WebSocket peer.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server

	limiter       *rate.Limiter
	authenticated bool

	writeMu sync.Mutex
	closed  bool
}

func NewClient(conn *websocket.Conn, s *Server) *Client {
	var limiter *rate.Limiter
	if s.cfg.Gateway.RateLimitRPS > 0 {
		burst := s.cfg.Gateway.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.cfg.Gateway.RateLimitRPS), burst)
	}
	return &Client{
		id:      uuid.NewString()[:8],
		conn:    conn,
		server:  s,
		limiter: limiter,
		// No token configured = open gateway (dev mode).
		authenticated: s.cfg.Gateway.Token == "",
	}
}

// Run reads request frames until the connection drops.
func (c *Client) Run(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("client read error", "id", c.id, "error", err)
			}
			return
		}

		var req protocol.RequestFrame
		if err := json.Unmarshal(data, &req); err != nil {
			c.sendResponse(protocol.NewError("", "malformed request frame"))
			continue
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.sendResponse(protocol.NewError(req.ID, "rate limit exceeded"))
			continue
		}

		resp := c.server.router.Dispatch(ctx, c, &req)
		c.sendResponse(resp)
	}
}

// SendEvent pushes an event frame to the client. Drops on write error;
// the read loop notices the dead connection and unregisters.
func (c *Client) SendEvent(event protocol.EventFrame) {
	c.writeJSON(event)
}

func (c *Client) sendResponse(resp *protocol.ResponseFrame) {
	c.writeJSON(resp)
}

func (c *Client) writeJSON(v interface{}) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(v); err != nil {
		slog.Debug("client write failed", "id", c.id, "error", err)
	}
}

// Close shuts the connection down.
func (c *Client) Close() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.conn.Close()
}
