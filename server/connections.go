package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bosley/echo/store"
)

const (
	EventSessionCreated = "session.created"
	EventSessionDeleted = "session.deleted"
)

// Event is pushed to a user's websocket subscribers.
type Event struct {
	Type      string    `json:"type"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Hub tracks live websocket connections per user.
type Hub struct {
	subscribers map[string]map[*wsConnection]struct{}
	mu          sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[*wsConnection]struct{}),
	}
}

func (h *Hub) Add(c *wsConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.subscribers[c.userID]
	if !ok {
		conns = make(map[*wsConnection]struct{})
		h.subscribers[c.userID] = conns
	}
	conns[c] = struct{}{}
}

// Remove drops c and closes its send channel. Safe to call twice.
func (h *Hub) Remove(c *wsConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.subscribers[c.userID]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.subscribers, c.userID)
	}
	close(c.send)
}

// Count is the number of live connections for userID.
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[userID])
}

// Publish sends ev to every connection of its user without blocking; a
// connection whose buffer is full misses the event.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := h.subscribers[ev.UserID]
	if len(conns) == 0 {
		slog.Debug("No subscribers for user", "userID", ev.UserID, "type", ev.Type)
		return
	}
	for c := range conns {
		select {
		case c.send <- ev:
			slog.Debug("Sent event to subscriber", "userID", ev.UserID, "type", ev.Type)
		default:
			slog.Warn("Failed to send to subscriber - channel full", "userID", ev.UserID, "type", ev.Type)
		}
	}
}

// SessionCreated publishes a created session to its owner.
func (h *Hub) SessionCreated(s *store.Session) {
	h.Publish(Event{Type: EventSessionCreated, UserID: s.UserID, Payload: s})
}

func (h *Hub) SessionDeleted(userID, id string) {
	h.Publish(Event{Type: EventSessionDeleted, UserID: userID, Payload: map[string]string{"id": id}})
}

// CloseAll disconnects every subscriber.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, conns := range h.subscribers {
		for c := range conns {
			close(c.send)
		}
		delete(h.subscribers, userID)
	}
}
