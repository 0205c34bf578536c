package registry

import (
	"sort"
	"sync"
)

// Peer is a room member as seen by another member.
type Peer struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

// RoomInfo is a read-only view of a room for the admin API.
type RoomInfo struct {
	ID      string `json:"room_id"`
	Members int    `json:"members"`
}

// JoinFunc runs with the room held, after the joiner was added. peers were
// present before the joiner.
type JoinFunc func(peers []Peer, room *Room)

// LeaveFunc runs with the room held, after the departing session was removed.
// name is its display name as recorded before removal.
type LeaveFunc func(name string, room *Room)

// Registry maps rooms to member sessions and sessions to display names.
//
// The registry mutex guards the two tables; each room carries its own mutex.
// Lock order is room, then registry.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
	names map[string]string
}

func New() *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		names: make(map[string]string),
	}
}

// Join records name for sessionID and adds it to roomID, creating the room on
// first use. It returns the members already present with their names.
func (r *Registry) Join(roomID, sessionID, name string, fn JoinFunc) []Peer {
	for {
		room := r.getOrCreate(roomID)
		room.mu.Lock()
		if room.gone {
			// Collected between lookup and lock; a fresh room replaces it.
			room.mu.Unlock()
			continue
		}

		r.mu.Lock()
		r.names[sessionID] = name
		peers := make([]Peer, 0, len(room.members))
		for _, id := range room.members {
			if id == sessionID {
				continue
			}
			peers = append(peers, Peer{UserID: id, Username: r.names[id]})
		}
		r.mu.Unlock()

		room.add(sessionID)
		if fn != nil {
			fn(peers, room)
		}
		room.mu.Unlock()
		return peers
	}
}

// Leave removes sessionID from roomID and deletes its name record. The room is
// deleted when its last member leaves. ok reports whether sessionID was a
// member. Leaving a room the session is not in is not an error.
func (r *Registry) Leave(roomID, sessionID string, fn LeaveFunc) (name string, ok bool) {
	r.mu.Lock()
	room := r.rooms[roomID]
	r.mu.Unlock()
	if room == nil {
		r.Forget(sessionID)
		return "", false
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	r.mu.Lock()
	name = r.names[sessionID]
	delete(r.names, sessionID)
	r.mu.Unlock()

	if room.gone || !room.remove(sessionID) {
		return name, false
	}
	if len(room.members) == 0 {
		room.gone = true
		r.mu.Lock()
		if r.rooms[roomID] == room {
			delete(r.rooms, roomID)
		}
		r.mu.Unlock()
	}
	if fn != nil {
		fn(name, room)
	}
	return name, true
}

// SetName records name for sessionID without touching room membership.
func (r *Registry) SetName(sessionID, name string) {
	r.mu.Lock()
	r.names[sessionID] = name
	r.mu.Unlock()
}

// Forget deletes the name record for sessionID.
func (r *Registry) Forget(sessionID string) {
	r.mu.Lock()
	delete(r.names, sessionID)
	r.mu.Unlock()
}

func (r *Registry) LookupName(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.names[sessionID]
	return name, ok
}

// Members returns the member ids of roomID in join order, or nil if the room
// does not exist.
func (r *Registry) Members(roomID string) []string {
	r.mu.Lock()
	room := r.rooms[roomID]
	r.mu.Unlock()
	if room == nil {
		return nil
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.gone {
		return nil
	}
	out := make([]string, len(room.members))
	copy(out, room.members)
	return out
}

// Multicast calls fn for every member of roomID except except, with the room
// held so membership cannot change mid-delivery.
func (r *Registry) Multicast(roomID, except string, fn func(to string)) int {
	r.mu.Lock()
	room := r.rooms[roomID]
	r.mu.Unlock()
	if room == nil {
		return 0
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.gone {
		return 0
	}
	return room.Multicast(except, fn)
}

// Rooms returns a snapshot of all rooms sorted by id.
func (r *Registry) Rooms() []RoomInfo {
	r.mu.Lock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.Unlock()

	out := make([]RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		room.mu.Lock()
		if !room.gone {
			out = append(out, RoomInfo{ID: room.id, Members: len(room.members)})
		}
		room.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats reports the number of live rooms and recorded names.
func (r *Registry) Stats() (rooms, names int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms), len(r.names)
}

func (r *Registry) getOrCreate(roomID string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.rooms[roomID]
	if room == nil {
		room = &Room{id: roomID}
		r.rooms[roomID] = room
	}
	return room
}
