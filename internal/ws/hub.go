package ws

import (
	"iter"
	"sort"
	"sync"

	"sangam/internal/chat"
	"sangam/internal/metrics"
	"sangam/internal/models"

	"github.com/rs/zerolog/log"
)

type client struct {
	send  chan models.ServerEvent
	rooms map[string]struct{}
}

// Hub fans server events out to live connections. Every connection owns a
// buffered outbound queue; a connection whose queue is full is dropped
// instead of stalling the sender.
type Hub struct {
	// Map of connID -> client
	clients map[string]*client

	// Map of room -> set of connIDs
	rooms map[string]map[string]struct{}

	bufferSize int

	mu sync.RWMutex
}

func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Hub{
		clients:    make(map[string]*client),
		rooms:      make(map[string]map[string]struct{}),
		bufferSize: bufferSize,
	}
}

// Register creates the outbound queue of a new connection. The returned
// channel is closed when the connection is removed from the hub.
func (h *Hub) Register(connID string) <-chan models.ServerEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.clients[connID]; ok {
		return c.send
	}
	c := &client{
		send:  make(chan models.ServerEvent, h.bufferSize),
		rooms: make(map[string]struct{}),
	}
	h.clients[connID] = c
	return c.send
}

// Remove drops a connection from all rooms and closes its queue.
func (h *Hub) Remove(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(connID)
}

// Close evicts a connection. Its transport shuts down once the closed queue
// is observed.
func (h *Hub) Close(connID string) {
	h.Remove(connID)
}

func (h *Hub) remove(connID string) {
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	for room := range c.rooms {
		h.leave(connID, room)
	}
	delete(h.clients, connID)
	close(c.send)
}

// JoinRoom subscribes a connection to a room. It reports false when the
// connection was already a member or is unknown.
func (h *Hub) JoinRoom(connID, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[connID]
	if !ok {
		return false
	}
	if _, ok := c.rooms[room]; ok {
		return false
	}
	c.rooms[room] = struct{}{}

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	members[connID] = struct{}{}
	return true
}

// LeaveRoom unsubscribes a connection from a room and reports whether it
// was a member.
func (h *Hub) LeaveRoom(connID, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[connID]
	if !ok {
		return false
	}
	if _, ok := c.rooms[room]; !ok {
		return false
	}
	h.leave(connID, room)
	return true
}

func (h *Hub) leave(connID, room string) {
	if c, ok := h.clients[connID]; ok {
		delete(c.rooms, room)
	}
	members := h.rooms[room]
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Members returns the sorted connection ids subscribed to a room.
func (h *Hub) Members(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Emit sends an event to a single connection.
func (h *Hub) Emit(connID string, ev models.ServerEvent) {
	h.deliver(ev, func(yield func(string) bool) {
		yield(connID)
	})
}

// EmitToRoom sends an event to every member of a room except exceptConn.
func (h *Hub) EmitToRoom(room string, ev models.ServerEvent, exceptConn string) {
	h.deliver(ev, func(yield func(string) bool) {
		for id := range h.rooms[room] {
			if id != exceptConn && !yield(id) {
				return
			}
		}
	})
}

// EmitToUser sends an event to every connection of a user through their
// personal channel.
func (h *Hub) EmitToUser(userID string, ev models.ServerEvent) {
	h.EmitToRoom(chat.PersonalChannel(userID), ev, "")
}

// Broadcast sends an event to every connection except exceptConn.
func (h *Hub) Broadcast(ev models.ServerEvent, exceptConn string) {
	h.deliver(ev, func(yield func(string) bool) {
		for id := range h.clients {
			if id != exceptConn && !yield(id) {
				return
			}
		}
	})
}

func (h *Hub) deliver(ev models.ServerEvent, targets iter.Seq[string]) {
	var slow []string

	h.mu.RLock()
	for connID := range targets {
		c, ok := h.clients[connID]
		if !ok {
			continue
		}
		select {
		case c.send <- ev:
		default:
			slow = append(slow, connID)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, connID := range slow {
		log.Warn().Str("conn_id", connID).Str("event", string(ev.Event)).Msg("send buffer full, dropping connection")
		metrics.SlowConsumers.Inc()
		h.remove(connID)
	}
}
