// Package domain contains entities without logic, just meta-data
package domain

import (
	"errors"
	"fmt"
	"strings"
)

const MaxRoomIDLen = 64

var (
	ErrRoomIDEmpty   = errors.New("room id empty")
	ErrRoomIDTooLong = errors.New("room id too long")
	ErrRoomIDInvalid = errors.New("room id contains path separators")
)

// RoomID is the patient/session identifier a room is keyed by.
type RoomID string

// ParseRoomID validates a raw identifier taken from a request path.
func ParseRoomID(raw string) (RoomID, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) == 0 {
		return "", ErrRoomIDEmpty
	}
	if len(raw) > MaxRoomIDLen {
		return "", ErrRoomIDTooLong
	}
	// ids end up in artifact file names
	if strings.ContainsAny(raw, `/\`) || raw == "." || raw == ".." {
		return "", ErrRoomIDInvalid
	}
	return RoomID(raw), nil
}

type RoomState int

const (
	RoomEmpty RoomState = iota
	RoomPublishing
	RoomIdle
)

func (s RoomState) String() string {
	switch s {
	case RoomEmpty:
		return "empty"
	case RoomPublishing:
		return "publishing"
	case RoomIdle:
		return "idle"
	default:
		return "unknown"
	}
}

func (s RoomState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *RoomState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "empty":
		*s = RoomEmpty
	case "publishing":
		*s = RoomPublishing
	case "idle":
		*s = RoomIdle
	default:
		return fmt.Errorf("unknown room state %q", b)
	}
	return nil
}
