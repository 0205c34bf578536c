package registry

import "sync"

// Room is a named group of sessions. It exists only while it has members.
type Room struct {
	id string

	mu      sync.Mutex
	members []string // join order
	gone    bool     // collected; a later join builds a new Room
}

func (r *Room) ID() string { return r.id }

// Multicast calls fn for each member other than except and returns how many
// members were addressed. The room must be held: JoinFunc and LeaveFunc run
// with it held, otherwise use Registry.Multicast.
func (r *Room) Multicast(except string, fn func(to string)) int {
	n := 0
	for _, id := range r.members {
		if id == except {
			continue
		}
		fn(id)
		n++
	}
	return n
}

func (r *Room) add(sessionID string) {
	for _, id := range r.members {
		if id == sessionID {
			return
		}
	}
	r.members = append(r.members, sessionID)
}

func (r *Room) remove(sessionID string) bool {
	for i, id := range r.members {
		if id == sessionID {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return true
		}
	}
	return false
}
