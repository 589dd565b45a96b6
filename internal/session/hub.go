package session

import (
	"sync"

	"github.com/MrWong99/parley/internal/room"
	"github.com/MrWong99/parley/pkg/protocol"
)

// Hub maps participants to their live connection and fans events out to
// the members of a room. One participant has at most one live connection.
//
// Hub is safe for concurrent use.
type Hub struct {
	reg *room.Registry

	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewHub returns a [Hub] delivering to the members tracked by reg.
func NewHub(reg *room.Registry) *Hub {
	return &Hub{reg: reg, conns: make(map[string]*Conn)}
}

// Registry returns the room registry the hub reads membership from.
func (h *Hub) Registry() *room.Registry {
	return h.reg
}

// register makes c the participant's live connection and returns the
// connection it replaced, if any.
func (h *Hub) register(c *Conn) (replaced *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	replaced = h.conns[c.participant.ID]
	h.conns[c.participant.ID] = c
	return replaced
}

// unregister removes c if it is still the participant's live connection.
func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[c.participant.ID] == c {
		delete(h.conns, c.participant.ID)
	}
}

// Lookup returns the live connection of participantID.
func (h *Hub) Lookup(participantID string) (*Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[participantID]
	return c, ok
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast sends ev to every member of sessionID.
func (h *Hub) Broadcast(sessionID string, ev protocol.Event) {
	h.BroadcastExcept(sessionID, "", ev)
}

// BroadcastExcept sends ev to every member of sessionID except
// participantID.
func (h *Hub) BroadcastExcept(sessionID, participantID string, ev protocol.Event) {
	members := h.reg.MembersOf(sessionID)
	if len(members) == 0 {
		return
	}
	h.mu.RLock()
	targets := make([]*Conn, 0, len(members))
	for _, m := range members {
		if m.ID == participantID {
			continue
		}
		if c, ok := h.conns[m.ID]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.send(ev)
	}
}
