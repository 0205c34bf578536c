package signaling

import (
	"sync"
	"time"
)

// Session is one connected participant. It lives exactly as long as its
// connection.
type Session struct {
	id          string
	connectedAt time.Time

	// out is never closed; writers stop on done instead.
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	room string
}

func newSession(id string, queue int) *Session {
	return &Session{
		id:          id,
		connectedAt: time.Now(),
		out:         make(chan []byte, queue),
		done:        make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

// Outbox yields encoded frames for the connection writer.
func (s *Session) Outbox() <-chan []byte { return s.out }

// Done is closed when the session has been detached or the router shut down.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

func (s *Session) setRoom(roomID string) {
	s.mu.Lock()
	s.room = roomID
	s.mu.Unlock()
}

// clearRoom unbinds the session if it is still bound to roomID.
func (s *Session) clearRoom(roomID string) {
	s.mu.Lock()
	if s.room == roomID {
		s.room = ""
	}
	s.mu.Unlock()
}

func (s *Session) takeRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.room
	s.room = ""
	return room
}

// enqueue never blocks: a closed session or a full queue drops the frame.
func (s *Session) enqueue(frame []byte) (ok bool, full bool) {
	select {
	case <-s.done:
		return false, false
	default:
	}
	select {
	case s.out <- frame:
		return true, false
	default:
		return false, true
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
