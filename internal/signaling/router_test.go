package signaling

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"babel/relay/internal/registry"
)

func newTestRouter() (*Router, *registry.Registry) {
	reg := registry.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(reg, 16, log), reg
}

// next pops one frame from s, failing if none is queued.
func next(t *testing.T, s *Session) Envelope {
	t.Helper()
	select {
	case frame := <-s.Outbox():
		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("bad frame %s: %v", frame, err)
		}
		return env
	case <-time.After(time.Second):
		t.Fatalf("session %s: no frame queued", s.ID())
		return Envelope{}
	}
}

func expectNone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case frame := <-s.Outbox():
		t.Fatalf("session %s: unexpected frame %s", s.ID(), frame)
	default:
	}
}

func attach(t *testing.T, rt *Router) *Session {
	t.Helper()
	s := rt.Attach()
	if s == nil {
		t.Fatal("attach returned nil")
	}
	env := next(t, s)
	if env.Type != KindConnected {
		t.Fatalf("first frame = %s, want connected", env.Type)
	}
	var c Connected
	if err := json.Unmarshal(env.Payload, &c); err != nil || c.UserID != s.ID() {
		t.Fatalf("connected payload %s, want id %s", env.Payload, s.ID())
	}
	return s
}

func payload[T any](t *testing.T, env Envelope, want Kind) T {
	t.Helper()
	if env.Type != want {
		t.Fatalf("frame type = %s, want %s", env.Type, want)
	}
	var v T
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		t.Fatalf("decode %s payload: %v", want, err)
	}
	return v
}

func TestJoinAnnouncesToExistingMembers(t *testing.T) {
	rt, _ := newTestRouter()
	alice := attach(t, rt)
	bob := attach(t, rt)

	rt.Handle(alice, JoinRoom{RoomID: "r1", Username: "Alice"})
	users := payload[UsersInRoom](t, next(t, alice), KindUsersInRoom)
	if len(users.Users) != 0 {
		t.Fatalf("alice saw %v in empty room", users.Users)
	}

	rt.Handle(bob, JoinRoom{RoomID: "r1", Username: "Bob"})
	users = payload[UsersInRoom](t, next(t, bob), KindUsersInRoom)
	if len(users.Users) != 1 || users.Users[0].UserID != alice.ID() || users.Users[0].Username != "Alice" {
		t.Fatalf("bob saw %+v", users.Users)
	}
	joined := payload[UserJoined](t, next(t, alice), KindUserJoined)
	if joined.UserID != bob.ID() || joined.Username != "Bob" {
		t.Fatalf("alice got %+v", joined)
	}
	expectNone(t, bob)
}

func TestOfferReachesOnlyTarget(t *testing.T) {
	rt, _ := newTestRouter()
	alice, bob, carol := attach(t, rt), attach(t, rt), attach(t, rt)
	for _, s := range []*Session{alice, bob, carol} {
		rt.Handle(s, JoinRoom{RoomID: "r1", Username: s.ID()[:4]})
	}
	drain(alice, bob, carol)

	sdp := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	rt.Handle(alice, Offer{To: bob.ID(), Offer: sdp})

	got := payload[RelayedOffer](t, next(t, bob), KindOffer)
	if got.From != alice.ID() {
		t.Fatalf("from = %s, want %s", got.From, alice.ID())
	}
	if string(got.Offer) != string(sdp) {
		t.Fatalf("offer = %s, want %s", got.Offer, sdp)
	}
	if got.Username != alice.ID()[:4] {
		t.Fatalf("username = %q, want registered name", got.Username)
	}
	expectNone(t, alice)
	expectNone(t, carol)
}

func TestAnswerFallsBackToSuppliedName(t *testing.T) {
	rt, _ := newTestRouter()
	alice, bob := attach(t, rt), attach(t, rt)

	rt.Handle(bob, Answer{To: alice.ID(), Answer: json.RawMessage(`{"sdp":"x"}`), Username: "Bobby"})
	got := payload[RelayedAnswer](t, next(t, alice), KindAnswer)
	if got.From != bob.ID() || got.Username != "Bobby" {
		t.Fatalf("got %+v", got)
	}
}

func TestOfferFallsBackToSuppliedNameBeforeJoin(t *testing.T) {
	rt, _ := newTestRouter()
	alice, bob := attach(t, rt), attach(t, rt)

	rt.Handle(alice, Offer{To: bob.ID(), Offer: json.RawMessage(`{"sdp":"v=0"}`), Username: "Ally"})
	got := payload[RelayedOffer](t, next(t, bob), KindOffer)
	if got.From != alice.ID() || got.Username != "Ally" {
		t.Fatalf("got %+v", got)
	}
}

func TestJoinWithoutRoomRecordsName(t *testing.T) {
	rt, _ := newTestRouter()
	alice, bob := attach(t, rt), attach(t, rt)

	rt.Handle(alice, JoinRoom{Username: "Alice"})
	users := payload[UsersInRoom](t, next(t, alice), KindUsersInRoom)
	if len(users.Users) != 0 {
		t.Fatalf("alice saw %v", users.Users)
	}
	if alice.Room() != "" {
		t.Fatalf("alice bound to %q", alice.Room())
	}

	rt.Handle(bob, RequestUsername{UserID: alice.ID()})
	got := payload[UsernameResponse](t, next(t, bob), KindUsernameResponse)
	if got.Username != "Alice" {
		t.Fatalf("got %+v", got)
	}

	rt.Handle(alice, Answer{To: bob.ID(), Answer: json.RawMessage(`{}`), Username: "other"})
	if ans := payload[RelayedAnswer](t, next(t, bob), KindAnswer); ans.Username != "Alice" {
		t.Fatalf("answer username = %q, want registered name", ans.Username)
	}
}

func TestCandidateToUnknownSessionIsDropped(t *testing.T) {
	rt, _ := newTestRouter()
	alice := attach(t, rt)

	rt.Handle(alice, ICECandidate{To: "nobody", Candidate: json.RawMessage(`{}`)})
	expectNone(t, alice)
}

func TestTranslationExcludesSender(t *testing.T) {
	rt, _ := newTestRouter()
	alice, bob, carol := attach(t, rt), attach(t, rt), attach(t, rt)
	rt.Handle(alice, JoinRoom{RoomID: "r1"})
	rt.Handle(bob, JoinRoom{RoomID: "r1"})
	rt.Handle(carol, JoinRoom{RoomID: "r2"})
	drain(alice, bob, carol)

	caption := json.RawMessage(`{"text":"hola","lang":"es"}`)
	rt.Handle(alice, Translation{Data: caption})

	env := next(t, bob)
	if env.Type != KindTranslation || string(env.Payload) != string(caption) {
		t.Fatalf("bob got %s %s", env.Type, env.Payload)
	}
	expectNone(t, alice)
	expectNone(t, carol)
}

func TestTranslationWithoutRoomIsIgnored(t *testing.T) {
	rt, _ := newTestRouter()
	alice, bob := attach(t, rt), attach(t, rt)
	rt.Handle(bob, JoinRoom{RoomID: "r1"})
	drain(bob)

	rt.Handle(alice, Translation{Data: json.RawMessage(`"hi"`)})
	expectNone(t, bob)
}

func TestDetachNotifiesRoomOnce(t *testing.T) {
	rt, reg := newTestRouter()
	alice, bob := attach(t, rt), attach(t, rt)
	rt.Handle(alice, JoinRoom{RoomID: "r1", Username: "Alice"})
	rt.Handle(bob, JoinRoom{RoomID: "r1", Username: "Bob"})
	drain(alice, bob)

	rt.Detach(bob)
	rt.Detach(bob)

	left := payload[UserLeft](t, next(t, alice), KindUserLeft)
	if left.UserID != bob.ID() || left.Username != "Bob" {
		t.Fatalf("alice got %+v", left)
	}
	expectNone(t, alice)

	if _, ok := reg.LookupName(bob.ID()); ok {
		t.Fatal("bob's name survived disconnect")
	}
	if m := reg.Members("r1"); len(m) != 1 || m[0] != alice.ID() {
		t.Fatalf("members = %v", m)
	}
	if rt.SessionCount() != 1 {
		t.Fatalf("session count = %d, want 1", rt.SessionCount())
	}
}

func TestDoubleDetachLeavesOtherRoomIntact(t *testing.T) {
	rt, reg := newTestRouter()
	alice, bob, carol, dave := attach(t, rt), attach(t, rt), attach(t, rt), attach(t, rt)
	rt.Handle(alice, JoinRoom{RoomID: "r1", Username: "Alice"})
	rt.Handle(bob, JoinRoom{RoomID: "r1", Username: "Bob"})
	rt.Handle(carol, JoinRoom{RoomID: "r2", Username: "Carol"})
	rt.Handle(dave, JoinRoom{RoomID: "r2", Username: "Dave"})
	drain(alice, bob, carol, dave)

	rt.Detach(bob)
	rt.Detach(bob)

	if m := reg.Members("r2"); len(m) != 2 || m[0] != carol.ID() || m[1] != dave.ID() {
		t.Fatalf("r2 members = %v", m)
	}
	if name, _ := reg.LookupName(carol.ID()); name != "Carol" {
		t.Fatalf("carol's name = %q", name)
	}
	if carol.Room() != "r2" || dave.Room() != "r2" {
		t.Fatalf("r2 bindings changed: %q %q", carol.Room(), dave.Room())
	}
	expectNone(t, carol)
	expectNone(t, dave)
	payload[UserLeft](t, next(t, alice), KindUserLeft)
	expectNone(t, alice)
}

func TestDetachLastMemberRemovesRoom(t *testing.T) {
	rt, reg := newTestRouter()
	alice := attach(t, rt)
	rt.Handle(alice, JoinRoom{RoomID: "r1"})

	rt.Detach(alice)
	if m := reg.Members("r1"); m != nil {
		t.Fatalf("room still present with %v", m)
	}
	if rooms, names := reg.Stats(); rooms != 0 || names != 0 {
		t.Fatalf("stats = %d rooms, %d names", rooms, names)
	}
}

func TestUserLeftForSelf(t *testing.T) {
	rt, reg := newTestRouter()
	alice, bob := attach(t, rt), attach(t, rt)
	rt.Handle(alice, JoinRoom{RoomID: "r1", Username: "Alice"})
	rt.Handle(bob, JoinRoom{RoomID: "r1", Username: "Bob"})
	drain(alice, bob)

	rt.Handle(bob, LeaveRoom{})

	left := payload[UserLeft](t, next(t, alice), KindUserLeft)
	if left.UserID != bob.ID() || left.Username != "Bob" {
		t.Fatalf("alice got %+v", left)
	}
	expectNone(t, bob)
	if bob.Room() != "" {
		t.Fatalf("bob still bound to %q", bob.Room())
	}
	if _, ok := reg.LookupName(bob.ID()); ok {
		t.Fatal("bob's name survived leave")
	}

	// A later disconnect has nothing left to announce.
	rt.Detach(bob)
	expectNone(t, alice)
}

func TestUserLeftForAnotherSession(t *testing.T) {
	rt, reg := newTestRouter()
	alice, bob, carol := attach(t, rt), attach(t, rt), attach(t, rt)
	for _, s := range []*Session{alice, bob, carol} {
		rt.Handle(s, JoinRoom{RoomID: "r1"})
	}
	drain(alice, bob, carol)

	rt.Handle(alice, LeaveRoom{RoomID: "r1", UserID: bob.ID()})

	// bob is removed before the notice goes out.
	left := payload[UserLeft](t, next(t, carol), KindUserLeft)
	if left.UserID != bob.ID() {
		t.Fatalf("carol got %+v", left)
	}
	expectNone(t, alice)
	expectNone(t, bob)
	if bob.Room() != "" {
		t.Fatalf("bob still bound to %q", bob.Room())
	}
	if m := reg.Members("r1"); len(m) != 2 {
		t.Fatalf("members = %v", m)
	}
}

func TestUserLeftForNonMemberIsSilent(t *testing.T) {
	rt, reg := newTestRouter()
	alice, bob, carol := attach(t, rt), attach(t, rt), attach(t, rt)
	rt.Handle(alice, JoinRoom{RoomID: "r1", Username: "Alice"})
	rt.Handle(bob, JoinRoom{RoomID: "r1", Username: "Bob"})
	rt.Handle(carol, JoinRoom{Username: "Carol"})
	drain(alice, bob, carol)

	rt.Handle(bob, LeaveRoom{RoomID: "r1", UserID: carol.ID()})

	expectNone(t, alice)
	expectNone(t, bob)
	if _, ok := reg.LookupName(carol.ID()); ok {
		t.Fatal("carol's name survived user-left")
	}
	if m := reg.Members("r1"); len(m) != 2 {
		t.Fatalf("members = %v", m)
	}
}

func TestUserLeftBeforeJoinDoesNotStrandMember(t *testing.T) {
	rt, reg := newTestRouter()
	alice, bob, carol := attach(t, rt), attach(t, rt), attach(t, rt)
	rt.Handle(carol, JoinRoom{RoomID: "r1"})
	drain(carol)

	// bob's notice about alice lands before alice's join reaches the room.
	rt.Handle(bob, LeaveRoom{RoomID: "r1", UserID: alice.ID()})
	rt.Handle(alice, JoinRoom{RoomID: "r1", Username: "Alice"})
	if alice.Room() != "r1" {
		t.Fatalf("alice bound to %q", alice.Room())
	}

	rt.Detach(alice)
	if m := reg.Members("r1"); len(m) != 1 || m[0] != carol.ID() {
		t.Fatalf("members after disconnect = %v", m)
	}
}

func TestUserLeftRacingJoinKeepsBindingConsistent(t *testing.T) {
	rt, reg := newTestRouter()
	bob := attach(t, rt)

	for i := 0; i < 200; i++ {
		alice := attach(t, rt)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			rt.Handle(alice, JoinRoom{RoomID: "r1", Username: "Alice"})
		}()
		go func() {
			defer wg.Done()
			rt.Handle(bob, LeaveRoom{RoomID: "r1", UserID: alice.ID()})
		}()
		wg.Wait()

		member := false
		for _, id := range reg.Members("r1") {
			if id == alice.ID() {
				member = true
			}
		}
		if member != (alice.Room() == "r1") {
			t.Fatalf("iteration %d: member=%v but bound to %q", i, member, alice.Room())
		}

		rt.Detach(alice)
		if m := reg.Members("r1"); m != nil {
			t.Fatalf("iteration %d: room outlived its last member: %v", i, m)
		}
	}
	if rooms, names := reg.Stats(); rooms != 0 || names != 0 {
		t.Fatalf("leaked state: rooms=%d names=%d", rooms, names)
	}
}

func TestRejoinMovesSession(t *testing.T) {
	rt, reg := newTestRouter()
	alice, bob := attach(t, rt), attach(t, rt)
	rt.Handle(alice, JoinRoom{RoomID: "r1", Username: "Alice"})
	rt.Handle(bob, JoinRoom{RoomID: "r1", Username: "Bob"})
	drain(alice, bob)

	rt.Handle(bob, JoinRoom{RoomID: "r2", Username: "Bob"})

	left := payload[UserLeft](t, next(t, alice), KindUserLeft)
	if left.UserID != bob.ID() {
		t.Fatalf("alice got %+v", left)
	}
	users := payload[UsersInRoom](t, next(t, bob), KindUsersInRoom)
	if len(users.Users) != 0 {
		t.Fatalf("bob saw %v in r2", users.Users)
	}
	if bob.Room() != "r2" {
		t.Fatalf("bob bound to %q", bob.Room())
	}
	if name, _ := reg.LookupName(bob.ID()); name != "Bob" {
		t.Fatalf("name = %q after rejoin", name)
	}
	if m := reg.Members("r1"); len(m) != 1 {
		t.Fatalf("r1 members = %v", m)
	}
}

func TestRequestUsername(t *testing.T) {
	rt, _ := newTestRouter()
	alice, bob := attach(t, rt), attach(t, rt)
	rt.Handle(alice, JoinRoom{RoomID: "r1", Username: "Alice"})
	drain(alice)

	rt.Handle(bob, RequestUsername{UserID: alice.ID()})
	got := payload[UsernameResponse](t, next(t, bob), KindUsernameResponse)
	if got.UserID != alice.ID() || got.Username != "Alice" {
		t.Fatalf("got %+v", got)
	}

	rt.Handle(bob, RequestUsername{UserID: "unknown"})
	expectNone(t, bob)
}

func TestDrainRefusesNewSessions(t *testing.T) {
	rt, _ := newTestRouter()
	alice := attach(t, rt)

	rt.Drain()
	if rt.Accepting() {
		t.Fatal("router still accepting after drain")
	}
	select {
	case <-alice.Done():
	default:
		t.Fatal("live session not closed by drain")
	}
	if s := rt.Attach(); s != nil {
		t.Fatal("attach succeeded while draining")
	}

	// Handlers are no-ops on closed sessions; cleanup still runs.
	rt.Handle(alice, JoinRoom{RoomID: "r1"})
	rt.Detach(alice)
	if rt.SessionCount() != 0 {
		t.Fatalf("session count = %d", rt.SessionCount())
	}
}

func TestFullOutboxDropsFrames(t *testing.T) {
	reg := registry.New()
	rt := NewRouter(reg, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	alice := rt.Attach() // outbox now holds the greeting
	bob := attach(t, rt)

	rt.Handle(bob, ICECandidate{To: alice.ID(), Candidate: json.RawMessage(`{}`)})

	if env := next(t, alice); env.Type != KindConnected {
		t.Fatalf("first frame = %s", env.Type)
	}
	expectNone(t, alice)
}

func drain(sessions ...*Session) {
	for _, s := range sessions {
		for {
			select {
			case <-s.Outbox():
				continue
			default:
			}
			break
		}
	}
}
