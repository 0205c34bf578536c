// Package signaling relays WebRTC signaling and caption messages between
// sessions grouped in rooms. Payloads are opaque; delivery is best effort and
// a message for a session that is gone is dropped without telling the sender.
package signaling

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"babel/relay/internal/registry"
)

const defaultSendQueue = 256

// Router owns the live sessions and applies client messages to the registry.
type Router struct {
	reg   *registry.Registry
	log   *slog.Logger
	queue int

	mu       sync.RWMutex
	sessions map[string]*Session
	draining bool
}

// NewRouter builds a router over reg. queue bounds each session's outbox.
func NewRouter(reg *registry.Registry, queue int, log *slog.Logger) *Router {
	if queue <= 0 {
		queue = defaultSendQueue
	}
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		reg:      reg,
		log:      log.With("component", "signaling"),
		queue:    queue,
		sessions: make(map[string]*Session),
	}
}

// Attach creates a session with a fresh id and greets it with that id. It
// returns nil once the router is draining.
func (rt *Router) Attach() *Session {
	s := newSession(uuid.NewString(), rt.queue)

	rt.mu.Lock()
	if rt.draining {
		rt.mu.Unlock()
		return nil
	}
	rt.sessions[s.id] = s
	rt.mu.Unlock()

	gaugeConnections.Inc()
	rt.log.Debug("session attached", "session", s.id)
	rt.send(s, Connected{UserID: s.id})
	return s
}

// Detach runs disconnect cleanup for s. Only the first call has an effect.
func (rt *Router) Detach(s *Session) {
	rt.mu.Lock()
	if rt.sessions[s.id] != s {
		rt.mu.Unlock()
		return
	}
	delete(rt.sessions, s.id)
	rt.mu.Unlock()

	s.close()
	if room := s.takeRoom(); room != "" {
		rt.leave(room, s.id, s.id)
	} else {
		rt.reg.Forget(s.id)
	}

	gaugeConnections.Dec()
	metricSessionSeconds.Observe(time.Since(s.connectedAt).Seconds())
	rt.log.Debug("session detached", "session", s.id)
}

// Handle applies one client message from s. Messages from a single session
// must be handled sequentially.
func (rt *Router) Handle(s *Session, in Inbound) {
	if s.closed() {
		return
	}
	metricMessagesIn.WithLabelValues(string(in.Kind())).Inc()

	switch m := in.(type) {
	case JoinRoom:
		rt.join(s, m)
	case Offer:
		rt.deliver(m.To, RelayedOffer{From: s.id, Offer: m.Offer, Username: rt.senderName(s.id, m.Username)})
	case Answer:
		rt.deliver(m.To, RelayedAnswer{From: s.id, Answer: m.Answer, Username: rt.senderName(s.id, m.Username)})
	case ICECandidate:
		rt.deliver(m.To, RelayedCandidate{From: s.id, Candidate: m.Candidate})
	case Translation:
		rt.relayTranslation(s, m)
	case LeaveRoom:
		rt.userLeft(s, m)
	case RequestUsername:
		if name, ok := rt.reg.LookupName(m.UserID); ok && name != "" {
			rt.send(s, UsernameResponse{UserID: m.UserID, Username: name})
		}
	default:
		rt.log.Warn("unhandled message kind", "session", s.id, "kind", in.Kind())
	}
}

// SessionCount reports live sessions.
func (rt *Router) SessionCount() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.sessions)
}

// Accepting is false once Drain has been called.
func (rt *Router) Accepting() bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return !rt.draining
}

// Drain stops accepting sessions and signals every live session to close.
// Each connection still runs its own disconnect cleanup.
func (rt *Router) Drain() {
	rt.mu.Lock()
	rt.draining = true
	live := make([]*Session, 0, len(rt.sessions))
	for _, s := range rt.sessions {
		live = append(live, s)
	}
	rt.mu.Unlock()

	for _, s := range live {
		s.close()
	}
	rt.log.Info("router draining", "sessions", len(live))
}

func (rt *Router) join(s *Session, m JoinRoom) {
	// A session is in at most one room: rejoining leaves the current one first.
	if cur := s.takeRoom(); cur != "" {
		rt.leave(cur, s.id, s.id)
	}
	if m.RoomID == "" {
		rt.reg.SetName(s.id, m.Username)
		rt.send(s, UsersInRoom{Users: []registry.Peer{}})
		rt.log.Debug("join without room", "session", s.id)
		return
	}

	rt.reg.Join(m.RoomID, s.id, m.Username, func(peers []registry.Peer, room *registry.Room) {
		// Bound under the room lock so a concurrent user-left sees a
		// consistent membership and binding.
		s.setRoom(room.ID())
		rt.send(s, UsersInRoom{Users: peers})
		rt.multicast(room, s.id, UserJoined{UserID: s.id, Username: m.Username})
	})
	rt.updateRoomGauge()
	rt.log.Info("joined room", "session", s.id, "room", m.RoomID)
}

func (rt *Router) userLeft(s *Session, m LeaveRoom) {
	roomID, userID := m.RoomID, m.UserID
	if roomID == "" {
		roomID = s.Room()
	}
	if userID == "" {
		userID = s.id
	}
	if roomID == "" {
		rt.reg.Forget(userID)
		return
	}

	rt.leave(roomID, userID, s.id)
}

// leave removes userID from roomID and tells the remaining members, except the
// session that triggered the departure. A live userID loses its binding in the
// same critical section, so its later disconnect announces nothing.
func (rt *Router) leave(roomID, userID, trigger string) {
	_, ok := rt.reg.Leave(roomID, userID, func(name string, room *registry.Room) {
		if target := rt.lookup(userID); target != nil {
			target.clearRoom(roomID)
		}
		rt.multicast(room, trigger, UserLeft{UserID: userID, Username: name})
	})
	if ok {
		rt.updateRoomGauge()
		rt.log.Info("left room", "session", userID, "room", roomID)
	}
}

func (rt *Router) relayTranslation(s *Session, m Translation) {
	roomID := s.Room()
	if roomID == "" {
		return
	}
	frame, ok := rt.encode(RelayedTranslation{Data: m.Data})
	if !ok {
		return
	}
	rt.reg.Multicast(roomID, s.id, func(to string) {
		rt.deliverFrame(to, KindTranslation, frame)
	})
}

// senderName prefers the registered name and falls back to the supplied one.
func (rt *Router) senderName(sessionID, supplied string) string {
	if name, ok := rt.reg.LookupName(sessionID); ok && name != "" {
		return name
	}
	return supplied
}

// multicast must be called with room held (inside a registry callback).
func (rt *Router) multicast(room *registry.Room, except string, out Outbound) {
	frame, ok := rt.encode(out)
	if !ok {
		return
	}
	room.Multicast(except, func(to string) {
		rt.deliverFrame(to, out.Kind(), frame)
	})
}

func (rt *Router) send(s *Session, out Outbound) {
	frame, ok := rt.encode(out)
	if !ok {
		return
	}
	rt.enqueue(s, out.Kind(), frame)
}

func (rt *Router) deliver(to string, out Outbound) {
	frame, ok := rt.encode(out)
	if !ok {
		return
	}
	rt.deliverFrame(to, out.Kind(), frame)
}

func (rt *Router) deliverFrame(to string, kind Kind, frame []byte) {
	s := rt.lookup(to)
	if s == nil {
		metricDropped.WithLabelValues(dropNoTarget).Inc()
		rt.log.Debug("no such session", "target", to, "kind", kind)
		return
	}
	rt.enqueue(s, kind, frame)
}

func (rt *Router) enqueue(s *Session, kind Kind, frame []byte) {
	ok, full := s.enqueue(frame)
	switch {
	case ok:
		metricMessagesOut.WithLabelValues(string(kind)).Inc()
	case full:
		metricDropped.WithLabelValues(dropQueueFull).Inc()
		rt.log.Warn("outbox full, dropping frame", "session", s.id, "kind", kind)
	default:
		metricDropped.WithLabelValues(dropNoTarget).Inc()
	}
}

func (rt *Router) encode(out Outbound) ([]byte, bool) {
	frame, err := Encode(out)
	if err != nil {
		rt.log.Error("encode failed", "kind", out.Kind(), "err", err)
		return nil, false
	}
	return frame, true
}

func (rt *Router) lookup(sessionID string) *Session {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.sessions[sessionID]
}

func (rt *Router) updateRoomGauge() {
	rooms, _ := rt.reg.Stats()
	gaugeRooms.Set(float64(rooms))
}
