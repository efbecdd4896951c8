package core

type SessionID string

type Role int

const (
	RolePublisher Role = iota
	RoleSubscriber
)

func (r Role) String() string {
	if r == RolePublisher {
		return "publisher"
	}
	return "subscriber"
}

type Kind int

const (
	// KindPeerMedia is a negotiated WebRTC session carrying RTP.
	KindPeerMedia Kind = iota
	// KindRawStream is a byte-oriented WebSocket.
	KindRawStream
)

func (k Kind) String() string {
	if k == KindPeerMedia {
		return "peer_media"
	}
	return "raw_stream"
}

// Session is one bidirectional media/data connection owned by a room.
// Both transport variants share this interface; only establishment and the
// send/receive mechanics differ.
type Session interface {
	ID() SessionID
	Role() Role
	Kind() Kind
	State() ConnState
	// Send delivers one chunk to the remote end. It may block; callers run it
	// from the subscriber's own feed worker.
	Send(Frame) error
	// Close is idempotent. When it returns the session is no longer referenced
	// by any room or fan-out structure.
	Close() error
}

// Reactor receives every connectivity transition of a session.
// The broker is the only production implementation.
type Reactor interface {
	React(s Session, state ConnState)
}

// ReactorFunc adapts a plain function to Reactor.
type ReactorFunc func(s Session, state ConnState)

func (f ReactorFunc) React(s Session, state ConnState) { f(s, state) }
