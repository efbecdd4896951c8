package core

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stemsight/broker/internal/domain"
)

type RoomInfo struct {
	ID          domain.RoomID    `json:"id"`
	State       domain.RoomState `json:"state"`
	Publisher   SessionID        `json:"publisher,omitempty"`
	Kind        string           `json:"kind,omitempty"`
	Subscribers int              `json:"subscribers"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Room owns at most one publisher, its recorder and the subscriber set.
// Every method is a short critical section; no I/O happens under mu.
type Room struct {
	id        domain.RoomID
	createdAt time.Time

	mu        sync.RWMutex
	state     domain.RoomState
	publisher Session
	recorder  Recorder
	subs      map[SessionID]Subscriber
}

func NewRoom(id domain.RoomID) *Room {
	return &Room{
		id:        id,
		createdAt: time.Now().UTC(),
		subs:      make(map[SessionID]Subscriber),
	}
}

func (r *Room) ID() domain.RoomID { return r.id }

func (r *Room) State() domain.RoomState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Room) Publisher() Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.publisher
}

// AttachPublisher claims the publisher slot. The existing publisher is never
// replaced.
func (r *Room) AttachPublisher(s Session, rec Recorder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.publisher != nil {
		return domain.ErrPublisherConflict
	}
	r.publisher = s
	r.recorder = rec
	r.state = domain.RoomPublishing
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("sid", string(s.ID())).Msg("publisher attached")
	return nil
}

// DetachPublisher clears the slot if s still holds it and returns the
// recorder that must be finalized by the caller.
func (r *Room) DetachPublisher(s Session) (Recorder, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.publisher == nil || r.publisher.ID() != s.ID() {
		return nil, false
	}
	rec := r.recorder
	r.publisher = nil
	r.recorder = nil
	r.state = domain.RoomIdle
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("sid", string(s.ID())).Msg("publisher detached")
	return rec, true
}

// RecorderOf returns the recorder when s is the current publisher.
func (r *Room) RecorderOf(s Session) (Recorder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.publisher == nil || r.publisher.ID() != s.ID() {
		return nil, false
	}
	return r.recorder, true
}

// AddSubscriber registers a delivery path. It fails when there is nothing
// to watch or when the subscriber cannot carry the publisher's chunks.
func (r *Room) AddSubscriber(sub Subscriber) error {
	sid := sub.Session().ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.publisher == nil {
		return domain.ErrNoPublisher
	}
	if r.publisher.Kind() != sub.Session().Kind() {
		return domain.ErrIncompatibleTransport
	}
	r.subs[sid] = sub
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("sid", string(sid)).Int("subscribers", len(r.subs)).Msg("subscriber added")
	return nil
}

func (r *Room) RemoveSubscriber(sid SessionID) (Subscriber, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[sid]
	if !ok {
		return nil, false
	}
	delete(r.subs, sid)
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("sid", string(sid)).Int("subscribers", len(r.subs)).Msg("subscriber removed")
	return sub, true
}

// Subscribers returns a snapshot safe to iterate without the lock.
func (r *Room) Subscribers() []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	return out
}

func (r *Room) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Sessions lists every session the room references, publisher first.
func (r *Room) Sessions() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.subs)+1)
	if r.publisher != nil {
		out = append(out, r.publisher)
	}
	for _, sub := range r.subs {
		out = append(out, sub.Session())
	}
	return out
}

func (r *Room) Info() RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info := RoomInfo{
		ID:          r.id,
		State:       r.state,
		Subscribers: len(r.subs),
		CreatedAt:   r.createdAt,
	}
	if r.publisher != nil {
		info.Publisher = r.publisher.ID()
		info.Kind = r.publisher.Kind().String()
	}
	return info
}
