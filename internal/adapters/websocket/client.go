package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"shop-assist/internal/core/ports"
)

// Client is one authenticated socket.
// rooms and lastConversation are guarded by the hub mutex.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	id       string
	identity ports.Identity

	rooms            map[string]struct{}
	lastConversation string
}

// readPump decodes client frames until the connection fails
func (c *Client) readPump() {
	reason := "closed"
	defer func() {
		c.hub.unregister(c, reason)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.hub.log.Debug().Err(err).Str("socket_id", c.id).Msg("read error")
				reason = "transport error"
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.hub.mu.Lock()
			c.hub.emitLocked(c, EventError, ErrorPayload{Message: "malformed frame"}, nil)
			c.hub.mu.Unlock()
			continue
		}
		c.hub.handle(c, env)
	}
}

// writePump sends queued frames and keeps the connection alive with pings.
// It exits when the hub closes the send channel or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub removed the client
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
