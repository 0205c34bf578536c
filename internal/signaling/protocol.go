package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"babel/relay/internal/registry"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownKind = errors.New("unknown message kind")
)

// Kind tags every frame on the wire.
type Kind string

const (
	// client -> server
	KindJoinRoom        Kind = "join-room"
	KindRequestUsername Kind = "request-username"

	// both directions
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindICECandidate Kind = "ice-candidate"
	KindTranslation  Kind = "translation-message"
	KindUserLeft     Kind = "user-left"

	// server -> client
	KindConnected        Kind = "connected"
	KindUsersInRoom      Kind = "users-in-room"
	KindUserJoined       Kind = "user-joined"
	KindUsernameResponse Kind = "username-response"
)

// Envelope is the JSON frame exchanged over the websocket.
type Envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound is implemented only by the client message types below.
type Inbound interface {
	Kind() Kind
	inbound()
}

type JoinRoom struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

type Offer struct {
	To       string          `json:"to"`
	Offer    json.RawMessage `json:"offer"`
	Username string          `json:"username"`
}

type Answer struct {
	To       string          `json:"to"`
	Answer   json.RawMessage `json:"answer"`
	Username string          `json:"username"`
}

type ICECandidate struct {
	To        string          `json:"to"`
	Candidate json.RawMessage `json:"candidate"`
}

// Translation carries an opaque caption payload relayed verbatim.
type Translation struct {
	Data json.RawMessage
}

// LeaveRoom is the client's user-left notice.
type LeaveRoom struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type RequestUsername struct {
	UserID string `json:"userId"`
}

func (JoinRoom) Kind() Kind        { return KindJoinRoom }
func (Offer) Kind() Kind           { return KindOffer }
func (Answer) Kind() Kind          { return KindAnswer }
func (ICECandidate) Kind() Kind    { return KindICECandidate }
func (Translation) Kind() Kind     { return KindTranslation }
func (LeaveRoom) Kind() Kind       { return KindUserLeft }
func (RequestUsername) Kind() Kind { return KindRequestUsername }

func (JoinRoom) inbound()        {}
func (Offer) inbound()           {}
func (Answer) inbound()          {}
func (ICECandidate) inbound()    {}
func (Translation) inbound()     {}
func (LeaveRoom) inbound()       {}
func (RequestUsername) inbound() {}

// Outbound is implemented only by the server message types below.
type Outbound interface {
	Kind() Kind
	outbound()
}

type Connected struct {
	UserID string `json:"userId"`
}

type UsersInRoom struct {
	Users []registry.Peer `json:"users"`
}

type UserJoined struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

type RelayedOffer struct {
	From     string          `json:"from"`
	Offer    json.RawMessage `json:"offer"`
	Username string          `json:"username,omitempty"`
}

type RelayedAnswer struct {
	From     string          `json:"from"`
	Answer   json.RawMessage `json:"answer"`
	Username string          `json:"username,omitempty"`
}

type RelayedCandidate struct {
	From      string          `json:"from"`
	Candidate json.RawMessage `json:"candidate"`
}

type RelayedTranslation struct {
	Data json.RawMessage
}

type UserLeft struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

type UsernameResponse struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

func (Connected) Kind() Kind          { return KindConnected }
func (UsersInRoom) Kind() Kind        { return KindUsersInRoom }
func (UserJoined) Kind() Kind         { return KindUserJoined }
func (RelayedOffer) Kind() Kind       { return KindOffer }
func (RelayedAnswer) Kind() Kind      { return KindAnswer }
func (RelayedCandidate) Kind() Kind   { return KindICECandidate }
func (RelayedTranslation) Kind() Kind { return KindTranslation }
func (UserLeft) Kind() Kind           { return KindUserLeft }
func (UsernameResponse) Kind() Kind   { return KindUsernameResponse }

func (Connected) outbound()          {}
func (UsersInRoom) outbound()        {}
func (UserJoined) outbound()         {}
func (RelayedOffer) outbound()       {}
func (RelayedAnswer) outbound()      {}
func (RelayedCandidate) outbound()   {}
func (RelayedTranslation) outbound() {}
func (UserLeft) outbound()           {}
func (UsernameResponse) outbound()   {}

// Decode parses one client frame. A missing or null payload decodes to the
// zero value of the kind's type; incomplete messages are tolerated.
func Decode(data []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var in Inbound
	switch env.Type {
	case KindJoinRoom:
		var m JoinRoom
		if err := decodePayload(env, &m); err != nil {
			return nil, err
		}
		in = m
	case KindOffer:
		var m Offer
		if err := decodePayload(env, &m); err != nil {
			return nil, err
		}
		in = m
	case KindAnswer:
		var m Answer
		if err := decodePayload(env, &m); err != nil {
			return nil, err
		}
		in = m
	case KindICECandidate:
		var m ICECandidate
		if err := decodePayload(env, &m); err != nil {
			return nil, err
		}
		in = m
	case KindTranslation:
		in = Translation{Data: env.Payload}
	case KindUserLeft:
		var m LeaveRoom
		if err := decodePayload(env, &m); err != nil {
			return nil, err
		}
		in = m
	case KindRequestUsername:
		var m RequestUsername
		if err := decodePayload(env, &m); err != nil {
			return nil, err
		}
		in = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}
	return in, nil
}

func decodePayload(env Envelope, v any) error {
	if len(env.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
	}
	return nil
}

// Encode builds the wire frame for out.
func Encode(out Outbound) ([]byte, error) {
	var payload json.RawMessage
	switch m := out.(type) {
	case RelayedTranslation:
		payload = m.Data
	default:
		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", out.Kind(), err)
		}
		payload = b
	}
	return json.Marshal(Envelope{Type: out.Kind(), Payload: payload})
}
