package ws

import (
	"log/slog"
	"sync"

	"palaver/internal/models"
)

// Hub tracks connections attached to this process and which room each one
// currently listens to. It is delivery plumbing only: authoritative
// presence and membership live in the coordination store.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*client
	rooms    map[string]map[string]struct{}
	connRoom map[string]string
}

type client struct {
	events chan models.Event
	done   chan struct{}
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

func NewHub() *Hub {
	return &Hub{
		conns:    make(map[string]*client),
		rooms:    make(map[string]map[string]struct{}),
		connRoom: make(map[string]string),
	}
}

// Register adds a connection and returns its event channel and a done
// channel closed when the connection is forced out.
func (h *Hub) Register(connID string) (<-chan models.Event, <-chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := &client{
		events: make(chan models.Event, 64),
		done:   make(chan struct{}),
	}
	h.conns[connID] = c
	return c.events, c.done
}

// Unregister drops a connection and its room subscription.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return
	}
	c.close()
	delete(h.conns, connID)
	h.removeFromRoomLocked(connID)
}

// MoveToRoom points a connection's subscription at a room. Empty roomID
// unsubscribes.
func (h *Hub) MoveToRoom(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[connID]; !ok {
		return
	}
	h.removeFromRoomLocked(connID)
	if roomID == "" {
		return
	}
	set, ok := h.rooms[roomID]
	if !ok {
		set = make(map[string]struct{})
		h.rooms[roomID] = set
	}
	set[connID] = struct{}{}
	h.connRoom[connID] = roomID
}

func (h *Hub) removeFromRoomLocked(connID string) {
	if roomID, ok := h.connRoom[connID]; ok {
		delete(h.rooms[roomID], connID)
		if len(h.rooms[roomID]) == 0 {
			delete(h.rooms, roomID)
		}
		delete(h.connRoom, connID)
	}
}

// Broadcast delivers an event to every local connection in a room. Delivery
// to each connection preserves send order; a connection that cannot keep up
// has the event dropped rather than stalling the room.
func (h *Hub) Broadcast(roomID string, ev models.Event) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.rooms[roomID]))
	for connID := range h.rooms[roomID] {
		if c, ok := h.conns[connID]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.events <- ev:
		default:
			slog.Warn("dropping event for slow connection", "event", ev.Type, "room_id", roomID)
		}
	}
}

// SendTo delivers an event to one connection. Returns false if the
// connection is not attached to this process.
func (h *Hub) SendTo(connID string, ev models.Event) bool {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case c.events <- ev:
	case <-c.done:
		return false
	}
	return true
}

// CloseConn delivers a final event and forces the connection loop to exit.
func (h *Hub) CloseConn(connID string, ev models.Event) {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case c.events <- ev:
	default:
	}
	c.close()
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done returns a channel closed when the connection is gone. Unknown
// connections report already-done.
func (h *Hub) Done(connID string) <-chan struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[connID]
	if !ok {
		return closedChan
	}
	return c.done
}
