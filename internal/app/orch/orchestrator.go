package orch

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/stemsight/broker/internal/app"
	"github.com/stemsight/broker/internal/app/sfu"
	"github.com/stemsight/broker/internal/core"
	"github.com/stemsight/broker/internal/domain"
)

// RecorderFactory opens the persister for a new publishing lifetime.
type RecorderFactory interface {
	NewRecorder(room domain.RoomID, kind core.Kind) (core.Recorder, error)
}

// Orchestrator ties rooms, fan-out, persistence and relays together. It is
// the Reactor of every session it creates, so all cleanup flows through
// React.
type Orchestrator struct {
	Rooms     *app.Registry
	Fanout    *app.ConnManager
	Recorders RecorderFactory
	Relays    *sfu.RelayManager
	// Strict makes CreateRoom reject ids that already exist.
	Strict bool

	mu    sync.RWMutex
	homes map[core.SessionID]*core.Room
}

func New(rooms *app.Registry, fanout *app.ConnManager, recorders RecorderFactory, relays *sfu.RelayManager) *Orchestrator {
	return &Orchestrator{
		Rooms:     rooms,
		Fanout:    fanout,
		Recorders: recorders,
		Relays:    relays,
		homes:     make(map[core.SessionID]*core.Room),
	}
}

// Ingest persists a publisher chunk and fans it out. Chunks from a session
// that no longer holds the publisher slot are dropped.
func (o *Orchestrator) Ingest(s core.Session, chunk core.Frame) {
	room, ok := o.home(s.ID())
	if !ok {
		return
	}
	rec, ok := room.RecorderOf(s)
	if !ok {
		return
	}
	if err := rec.Write(chunk); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("room", string(room.ID())).Str("sid", string(s.ID())).Msg("persist chunk")
	}
	o.Fanout.Broadcast(room, chunk)
}

// React is the single reaction to a session's connectivity changes.
// Terminal states detach the session from its room and close it.
func (o *Orchestrator) React(s core.Session, state core.ConnState) {
	log.Info().
		Str("module", "orch").
		Str("sid", string(s.ID())).
		Str("role", s.Role().String()).
		Str("kind", s.Kind().String()).
		Str("state", state.String()).
		Msg("session state")
	if !state.Terminal() {
		return
	}
	o.detach(s)
	if state != core.StateClosed {
		_ = s.Close()
	}
}

func (o *Orchestrator) detach(s core.Session) {
	room, ok := o.unbind(s.ID())
	if !ok {
		return
	}
	switch s.Role() {
	case core.RolePublisher:
		rec, ok := room.DetachPublisher(s)
		if !ok {
			return
		}
		if o.Relays != nil {
			o.Relays.StopRelay(s.ID())
		}
		rec.Finalize()
		// peer subscribers are bound to the departed publisher's track
		for _, sub := range room.Subscribers() {
			if sub.Session().Kind() == core.KindPeerMedia {
				go func(v core.Session) { _ = v.Close() }(sub.Session())
			}
		}
	case core.RoleSubscriber:
		o.Fanout.Unsubscribe(room, s)
	}
}

func (o *Orchestrator) bind(sid core.SessionID, room *core.Room) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.homes[sid] = room
}

func (o *Orchestrator) unbind(sid core.SessionID) (*core.Room, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	room, ok := o.homes[sid]
	delete(o.homes, sid)
	return room, ok
}

func (o *Orchestrator) home(sid core.SessionID) (*core.Room, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	room, ok := o.homes[sid]
	return room, ok
}

// discardRecorder stands in when the spool cannot be opened; publishing and
// fan-out continue without persistence.
type discardRecorder struct{}

func (discardRecorder) Prepare(string) error   { return nil }
func (discardRecorder) Write(core.Frame) error { return nil }
func (discardRecorder) Finalize()              {}
