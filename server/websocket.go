package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write one event to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Events buffered per connection before Publish starts dropping
	sendBuffer = 64
)

// wsConnection is one subscriber socket. The hub owns send and closes it
// when the connection is removed.
type wsConnection struct {
	conn   *websocket.Conn
	userID string
	send   chan Event
	hub    *Hub
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err, "userID", userID)
		return
	}

	c := &wsConnection{
		conn:   conn,
		userID: userID,
		send:   make(chan Event, sendBuffer),
		hub:    s.hub,
	}
	s.hub.Add(c)
	slog.Info("Session subscriber connected", "userID", userID, "subscribers", s.hub.Count(userID))

	go c.writeEvents()
	go c.watchPeer()
}

// writeEvents encodes queued events as JSON text frames and keeps the peer
// alive with pings. It exits when the hub closes send or a write fails.
func (c *wsConnection) writeEvents() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeWait))
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				slog.Debug("Failed to write event", "error", err, "userID", c.userID, "type", ev.Type)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// watchPeer reads only to process control frames; subscribers never send
// data. A read error means the peer is gone.
func (c *wsConnection) watchPeer() {
	defer func() {
		c.hub.Remove(c)
		c.conn.Close()
		slog.Info("Session subscriber disconnected", "userID", c.userID)
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Session subscriber read error", "error", err, "userID", c.userID)
			}
			return
		}
	}
}
