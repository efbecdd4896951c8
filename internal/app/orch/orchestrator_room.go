package orch

import (
	"github.com/rs/zerolog/log"

	"github.com/stemsight/broker/internal/core"
	"github.com/stemsight/broker/internal/domain"
)

// CreateRoom returns the room for id. With Strict set an existing id is an
// error; otherwise the existing room is returned untouched.
func (o *Orchestrator) CreateRoom(id domain.RoomID) (*core.Room, bool, error) {
	if o.Strict {
		room, err := o.Rooms.CreateStrict(id)
		return room, err == nil, err
	}
	room, created := o.Rooms.Create(id)
	return room, created, nil
}

// RemoveRoom drops the room and closes every session it references.
func (o *Orchestrator) RemoveRoom(id domain.RoomID) error {
	room, err := o.Rooms.Remove(id)
	if err != nil {
		return err
	}
	for _, s := range room.Sessions() {
		_ = s.Close()
	}
	log.Info().Str("module", "orch").Str("room", string(id)).Msg("room evicted")
	return nil
}

// AttachPublisher makes s the room's publisher and opens its persister.
func (o *Orchestrator) AttachPublisher(room *core.Room, s core.Session) error {
	rec, err := o.Recorders.NewRecorder(room.ID(), s.Kind())
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("room", string(room.ID())).Msg("persister unavailable, publishing without recording")
		rec = discardRecorder{}
	}

	o.bind(s.ID(), room)
	if err := room.AttachPublisher(s, rec); err != nil {
		o.unbind(s.ID())
		rec.Finalize()
		return err
	}

	for _, sub := range room.Subscribers() {
		if sub.Session().Kind() != s.Kind() {
			go func(v core.Session) { _ = v.Close() }(sub.Session())
		}
	}
	// a close that raced the attach already ran its reaction
	if s.State().Terminal() {
		o.detach(s)
	}
	return nil
}

// AttachSubscriber adds s to the room's fan-out.
func (o *Orchestrator) AttachSubscriber(room *core.Room, s core.Session) error {
	o.bind(s.ID(), room)
	if err := o.Fanout.Subscribe(room, s); err != nil {
		o.unbind(s.ID())
		return err
	}
	if s.State().Terminal() {
		o.detach(s)
	}
	return nil
}

// Shutdown closes every session of every room; publishers finalize their
// artifacts on the way out.
func (o *Orchestrator) Shutdown() {
	for _, info := range o.Rooms.List() {
		room, err := o.Rooms.Get(info.ID)
		if err != nil {
			continue
		}
		for _, s := range room.Sessions() {
			_ = s.Close()
		}
	}
}

func (o *Orchestrator) Room(id domain.RoomID) (*core.Room, error) {
	return o.Rooms.Get(id)
}

func (o *Orchestrator) ListRooms() []core.RoomInfo {
	return o.Rooms.List()
}
