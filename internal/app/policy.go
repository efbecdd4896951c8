package app

import (
	"fmt"

	"github.com/stemsight/broker/internal/core"
)

// BackpressureAction is what happens to a chunk offered to a full
// subscriber queue.
type BackpressureAction int

const (
	// KickMember closes the slow subscriber and removes it from fan-out.
	KickMember BackpressureAction = iota
	// DropOldest discards the oldest queued chunk to make room for the new one.
	DropOldest
)

type Policy interface {
	OnBackPressure(room *core.Room, s core.Session) BackpressureAction
}

// SimplePolicy kicks every subscriber that falls a full queue behind.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(*core.Room, core.Session) BackpressureAction {
	return KickMember
}

// LossyPolicy keeps slow subscribers connected and sheds their oldest chunks.
type LossyPolicy struct{}

func (LossyPolicy) OnBackPressure(*core.Room, core.Session) BackpressureAction {
	return DropOldest
}

// ParsePolicy maps the fanout.overflow setting to a policy.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "", "disconnect":
		return SimplePolicy{}, nil
	case "drop_oldest":
		return LossyPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown overflow policy %q", name)
	}
}
