// Package coretest provides an in-memory core.Session for tests.
package coretest

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/stemsight/broker/internal/core"
)

var ErrClosed = errors.New("fake session closed")

// Session records every chunk sent to it. A blocked session holds Send until
// Unblock or Close is called.
type Session struct {
	id   core.SessionID
	role core.Role
	kind core.Kind
	lc   *core.Lifecycle

	mu      sync.Mutex
	frames  []core.Frame
	sendErr error
	notify  chan struct{}

	gate   chan struct{}
	closed atomic.Bool
	done   chan struct{}
	closes atomic.Int32
}

func NewSession(role core.Role, kind core.Kind, reactor core.Reactor) *Session {
	s := &Session{
		id:     core.SessionID(uuid.NewString()),
		role:   role,
		kind:   kind,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	s.lc = core.NewLifecycle(func(st core.ConnState) {
		if reactor != nil {
			reactor.React(s, st)
		}
	})
	return s
}

// NewBlocked returns a session whose Send blocks until Unblock.
func NewBlocked(role core.Role, kind core.Kind, reactor core.Reactor) *Session {
	s := NewSession(role, kind, reactor)
	s.gate = make(chan struct{})
	return s
}

func (s *Session) ID() core.SessionID    { return s.id }
func (s *Session) Role() core.Role       { return s.role }
func (s *Session) Kind() core.Kind       { return s.kind }
func (s *Session) State() core.ConnState { return s.lc.State() }
func (s *Session) Closes() int           { return int(s.closes.Load()) }
func (s *Session) Done() <-chan struct{} { return s.done }

// Advance drives the state machine as a transport event would.
func (s *Session) Advance(st core.ConnState) bool { return s.lc.Advance(st) }

func (s *Session) FailSends(err error) {
	s.mu.Lock()
	s.sendErr = err
	s.mu.Unlock()
}

func (s *Session) Unblock() {
	if s.gate != nil {
		close(s.gate)
	}
}

func (s *Session) Send(f core.Frame) error {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-s.done:
			return ErrClosed
		}
	}
	if s.closed.Load() {
		return ErrClosed
	}
	s.mu.Lock()
	if s.sendErr != nil {
		err := s.sendErr
		s.mu.Unlock()
		return err
	}
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.closes.Add(1)
	s.lc.Advance(core.StateClosed)
	close(s.done)
	return nil
}

func (s *Session) Frames() []core.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

// WaitFrames blocks until at least n frames arrived or the timeout passed.
func (s *Session) WaitFrames(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		s.mu.Lock()
		got := len(s.frames)
		s.mu.Unlock()
		if got >= n {
			return true
		}
		select {
		case <-s.notify:
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}
