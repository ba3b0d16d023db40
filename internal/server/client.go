package server

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tversen/spectrechat/internal/router"
)

const (
	pongWait      = 60 * time.Second
	pingInterval  = 54 * time.Second
	writeWait     = 10 * time.Second
	sendQueueSize = 256
)

// Client is one live WebSocket connection. It owns the read and write pumps
// for the underlying socket; everything the connection means to the chat
// protocol lives in the store under the client's id.
type Client struct {
	id          string
	conn        *websocket.Conn
	send        chan []byte
	hub         *Hub
	addr        string
	closed      bool
	rateLimiter *rateLimiter
	log         zerolog.Logger
}

// newClient wraps an upgraded WebSocket connection. The id is minted by the
// gateway at upgrade time and identifies the connection everywhere else in
// the system.
func newClient(id string, conn *websocket.Conn, hub *Hub, addr string, maxMessageSize int64, limiter *rateLimiter, log zerolog.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(maxMessageSize)
	}
	return &Client{
		id:          id,
		conn:        conn,
		send:        make(chan []byte, sendQueueSize),
		hub:         hub,
		addr:        addr,
		rateLimiter: limiter,
		log:         log.With().Str("connection", id).Str("remote", addr).Logger(),
	}
}

func (c *Client) readPump() {
	defer func() {
		// The hub stops draining unregister once it shuts down.
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn().Err(err).Msg("error closing connection in read pump")
		}
	}()

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn().Err(err).Msg("error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn().Err(err).Msg("error setting read deadline in pong handler")
		}
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if c.rateLimiter != nil && !c.rateLimiter.allow() {
			c.log.Warn().Msg("rate limit exceeded, discarding frame")
			continue
		}

		c.hub.dispatch(router.Event{Type: router.EventMessage, ConnID: c.id, Body: frame})
	}
}

// logReadError triages the many ways a WebSocket read ends.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn().Msg("frame exceeded maximum message size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info().Msg("client disconnected")
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.log.Info().Msg("connection closed")
	default:
		c.log.Warn().Err(err).Msg("websocket read error")
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn().Err(err).Msg("error closing connection in write pump")
		}
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.log.Warn().Err(err).Msg("error setting write deadline")
				return
			}
			if !ok {
				// Hub closed the send channel.
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
					c.log.Warn().Err(err).Msg("error writing close message")
				}
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				if !isExpectedCloseError(err) {
					c.log.Warn().Err(err).Msg("error writing frame")
				}
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.log.Warn().Err(err).Msg("error setting write deadline for ping")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if !isExpectedCloseError(err) {
					c.log.Warn().Err(err).Msg("error writing ping")
				}
				return
			}
		}
	}
}

// isExpectedCloseError reports whether an error is routine connection
// teardown noise.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "websocket: close sent") ||
		strings.Contains(msg, "broken pipe")
}
