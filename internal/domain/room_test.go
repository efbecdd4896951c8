package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoomID(t *testing.T) {
	id, err := ParseRoomID(" patient-42 ")
	require.NoError(t, err)
	assert.Equal(t, RoomID("patient-42"), id)

	_, err = ParseRoomID("")
	assert.ErrorIs(t, err, ErrRoomIDEmpty)

	_, err = ParseRoomID(strings.Repeat("a", MaxRoomIDLen+1))
	assert.ErrorIs(t, err, ErrRoomIDTooLong)

	_, err = ParseRoomID("../etc")
	assert.ErrorIs(t, err, ErrRoomIDInvalid)
}

func TestRoomStateString(t *testing.T) {
	assert.Equal(t, "empty", RoomEmpty.String())
	assert.Equal(t, "publishing", RoomPublishing.String())
	assert.Equal(t, "idle", RoomIdle.String())
}
