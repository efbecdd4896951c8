package core

import "sync"

type ConnState int

const (
	StateNew ConnState = iota
	StateConnecting
	StateConnected
	StateFailed
	StateDisconnected
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether a session in this state must be torn down.
func (s ConnState) Terminal() bool {
	return s == StateFailed || s == StateDisconnected || s == StateClosed
}

// Transition validates a move from one state to another.
// Repeating the current state is accepted and reported as unchanged.
func Transition(from, to ConnState) (ConnState, bool) {
	if from == to {
		return from, true
	}
	switch from {
	case StateNew:
		return to, true
	case StateConnecting:
		return to, to == StateConnected || to.Terminal()
	case StateConnected:
		return to, to.Terminal()
	case StateFailed, StateDisconnected:
		return to, to == StateClosed
	}
	// closed
	return from, false
}

// Lifecycle holds a session's connectivity state and invokes the reaction
// after every accepted change, outside its own lock.
type Lifecycle struct {
	mu    sync.Mutex
	state ConnState
	react func(ConnState)
}

func NewLifecycle(react func(ConnState)) *Lifecycle {
	return &Lifecycle{react: react}
}

func (l *Lifecycle) State() ConnState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Advance applies the transition and returns true when the state changed.
func (l *Lifecycle) Advance(to ConnState) bool {
	l.mu.Lock()
	next, ok := Transition(l.state, to)
	if !ok || next == l.state {
		l.mu.Unlock()
		return false
	}
	l.state = next
	react := l.react
	l.mu.Unlock()

	if react != nil {
		react(next)
	}
	return true
}
