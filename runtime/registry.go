package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"sync"

	"github.com/samber/lo"
)

var _ contract.IRegistry = (*Registry)(nil)

// Registry maps a room to the connections subscribed to it.
//
// The outer lock only guards the room index. Membership of each room is
// guarded by the room's own lock, so joins, leaves and snapshots on
// different rooms never wait on each other.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomMembers
}

type roomMembers struct {
	mu      sync.RWMutex
	members map[string]contract.EventSink // connection id -> sink
	// retired is set once the last member left; a retired entry is never
	// reused and gets replaced by the next join.
	retired bool
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[domain.RoomID]*roomMembers)}
}

// Join subscribes a connection to a room, creating the room on the fly.
// Joining twice with the same connection id keeps a single membership.
func (r *Registry) Join(roomID domain.RoomID, connID string, sink contract.EventSink) {
	for {
		room := r.roomForJoin(roomID)

		room.mu.Lock()
		if room.retired {
			room.mu.Unlock()
			continue
		}
		room.members[connID] = sink
		room.mu.Unlock()
		return
	}
}

func (r *Registry) roomForJoin(roomID domain.RoomID) *roomMembers {
	r.mu.RLock()
	room, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if ok && !room.isRetired() {
		return room
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok = r.rooms[roomID]
	if !ok || room.isRetired() {
		room = &roomMembers{members: make(map[string]contract.EventSink)}
		r.rooms[roomID] = room
	}
	return room
}

// Leave removes a connection from a room. Leaving a room the connection is
// not part of is a no-op. The room entry is dropped as soon as it is empty.
func (r *Registry) Leave(roomID domain.RoomID, connID string) {
	r.mu.RLock()
	room, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	room.mu.Lock()
	delete(room.members, connID)
	empty := len(room.members) == 0
	if empty {
		room.retired = true
	}
	room.mu.Unlock()

	if !empty {
		return
	}
	r.mu.Lock()
	if r.rooms[roomID] == room {
		delete(r.rooms, roomID)
	}
	r.mu.Unlock()
}

// Members returns a snapshot of the sinks subscribed to a room.
// The snapshot is detached from the registry: members may leave while the
// caller iterates, in which case their sink reports itself closed.
func (r *Registry) Members(roomID domain.RoomID) []contract.EventSink {
	r.mu.RLock()
	room, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	room.mu.RLock()
	defer room.mu.RUnlock()
	if len(room.members) == 0 {
		return nil
	}
	return lo.Values(room.members)
}

// Count returns the number of connections in a room.
func (r *Registry) Count(roomID domain.RoomID) int {
	r.mu.RLock()
	room, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	return len(room.members)
}

// Rooms lists the rooms that currently have at least one member.
func (r *Registry) Rooms() []domain.RoomID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.rooms)
}

func (m *roomMembers) isRetired() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.retired
}
