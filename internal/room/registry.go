// Package room tracks which participants are connected to which live session
// and provides the per-session critical section that serialises every
// mutation of one session's shared state.
//
// The [Registry] is membership only: it holds no transcript or chat data.
// Rooms are created lazily on the first join and removed as soon as the last
// member leaves. All operations are O(1) in the number of rooms and guarded
// by a single mutex.
//
// The [Sequencer] runs submitted functions one at a time per key in
// submission order, while different keys proceed independently.
package room

import (
	"slices"
	"sync"

	"github.com/MrWong99/parley/pkg/types"
)

// Registry maps session IDs to their connected members. The zero value is
// not usable; construct with [NewRegistry].
//
// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	rooms map[string][]types.Participant
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string][]types.Participant)}
}

// Join adds p to sessionID and returns the member list in join order.
// Joining a session p is already a member of is a no-op that returns the
// current list; added reports whether p was newly added.
func (r *Registry) Join(sessionID string, p types.Participant) (members []types.Participant, added bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[sessionID]
	if indexOf(room, p.ID) < 0 {
		room = append(room, p)
		r.rooms[sessionID] = room
		added = true
	}
	return slices.Clone(room), added
}

// Leave removes participantID from sessionID and deletes the room once it is
// empty. It reports whether the participant was a member, so callers can
// emit exactly one departure notification.
func (r *Registry) Leave(sessionID, participantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[sessionID]
	if !ok {
		return false
	}
	i := indexOf(room, participantID)
	if i < 0 {
		return false
	}
	room = slices.Delete(room, i, i+1)
	if len(room) == 0 {
		delete(r.rooms, sessionID)
		return true
	}
	r.rooms[sessionID] = room
	return true
}

// MembersOf returns the members of sessionID in join order, or nil when the
// room does not exist.
func (r *Registry) MembersOf(sessionID string) []types.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.rooms[sessionID])
}

// IsMember reports whether participantID is currently in sessionID.
func (r *Registry) IsMember(sessionID, participantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return indexOf(r.rooms[sessionID], participantID) >= 0
}

// Stats returns the number of live rooms and the total number of
// memberships across them.
func (r *Registry) Stats() (rooms, members int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.rooms {
		members += len(m)
	}
	return len(r.rooms), members
}

func indexOf(room []types.Participant, participantID string) int {
	return slices.IndexFunc(room, func(p types.Participant) bool { return p.ID == participantID })
}
