package app

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsight/broker/internal/core"
	"github.com/stemsight/broker/internal/domain"
)

func TestRegistryConcurrentCreateYieldsOneRoom(t *testing.T) {
	reg := NewRegistry()

	const workers = 64
	rooms := make([]*core.Room, workers)
	var created sync.Map
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, ok := reg.Create("patient-1")
			rooms[i] = room
			if ok {
				created.Store(i, true)
			}
		}(i)
	}
	wg.Wait()

	got, err := reg.Get("patient-1")
	require.NoError(t, err)
	for _, room := range rooms {
		assert.Same(t, got, room)
	}
	n := 0
	created.Range(func(_, _ any) bool { n++; return true })
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryStrictAndLookup(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Get("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	first, err := reg.CreateStrict("r")
	require.NoError(t, err)
	again, err := reg.CreateStrict("r")
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	assert.Same(t, first, again)

	idem, created := reg.Create("r")
	assert.False(t, created)
	assert.Same(t, first, idem)

	reg.Create("a")
	infos := reg.List()
	require.Len(t, infos, 2)
	assert.Equal(t, domain.RoomID("a"), infos[0].ID)

	removed, err := reg.Remove("r")
	require.NoError(t, err)
	assert.Same(t, first, removed)
	_, err = reg.Remove("r")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
