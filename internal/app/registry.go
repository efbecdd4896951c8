package app

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/stemsight/broker/internal/core"
	"github.com/stemsight/broker/internal/domain"
)

// Registry maps room ids to rooms for the whole process. A single RWMutex
// guards the map; creation is double-checked under the write lock so two
// concurrent creates of one id return the same room.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*core.Room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[domain.RoomID]*core.Room)}
}

// Create returns the room for id, creating it when absent. created reports
// whether this call made it.
func (r *Registry) Create(id domain.RoomID) (room *core.Room, created bool) {
	r.mu.RLock()
	room, ok := r.rooms[id]
	r.mu.RUnlock()
	if ok {
		return room, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok = r.rooms[id]; ok {
		return room, false
	}
	room = core.NewRoom(id)
	r.rooms[id] = room
	log.Info().Str("module", "app.registry").Str("room", string(id)).Msg("room created")
	return room, true
}

// CreateStrict fails when the id is already taken.
func (r *Registry) CreateStrict(id domain.RoomID) (*core.Room, error) {
	room, created := r.Create(id)
	if !created {
		return room, domain.ErrAlreadyExists
	}
	return room, nil
}

func (r *Registry) Get(id domain.RoomID) (*core.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return room, nil
}

// Remove drops the room from the map. Closing its sessions is the caller's
// job and happens outside the registry lock.
func (r *Registry) Remove(id domain.RoomID) (*core.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	delete(r.rooms, id)
	log.Info().Str("module", "app.registry").Str("room", string(id)).Msg("room removed")
	return room, nil
}

func (r *Registry) List() []core.RoomInfo {
	r.mu.RLock()
	rooms := make([]*core.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	out := make([]core.RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, room.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
