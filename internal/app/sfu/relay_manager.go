package sfu

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/stemsight/broker/internal/core"
)

var ErrNoTrack = errors.New("publisher has no video track")

// Source is a publisher's video track together with the publisher it
// belongs to.
type Source struct {
	Publisher core.SessionID
	Track     *webrtc.TrackRemote
}

// RelayManager keeps one relay per publishing session and lets subscribers
// wait for the publisher's track to show up.
type RelayManager struct {
	mu     sync.RWMutex
	relays map[core.SessionID]*Relay
	ready  map[core.SessionID]chan struct{}
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[core.SessionID]*Relay),
		ready:  make(map[core.SessionID]chan struct{}),
	}
}

// StartRelay creates a Relay for the publisher and starts its loop. A second
// video track from the same publisher is ignored.
func (m *RelayManager) StartRelay(ctx context.Context, sid core.SessionID, track *webrtc.TrackRemote, ingest func(core.Frame)) bool {
	logger := log.With().
		Str("module", "relay").
		Str("sid", string(sid)).
		Str("codec", track.Codec().MimeType).
		Logger()

	m.mu.Lock()
	if _, ok := m.relays[sid]; ok {
		m.mu.Unlock()
		logger.Warn().Str("track_id", track.ID()).Msg("publisher already relayed, ignoring track")
		return false
	}
	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(track, ingest, cancel)
	m.relays[sid] = relay
	if ch, ok := m.ready[sid]; ok {
		close(ch)
		delete(m.ready, sid)
	}
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")
	go relay.loop(relayCtx, &logger)
	return true
}

// StopRelay stops the publisher's relay and wakes anyone still waiting.
func (m *RelayManager) StopRelay(sid core.SessionID) {
	m.mu.Lock()
	relay, ok := m.relays[sid]
	delete(m.relays, sid)
	if ch, waiting := m.ready[sid]; waiting {
		close(ch)
		delete(m.ready, sid)
	}
	m.mu.Unlock()
	if ok {
		relay.stop()
	}
}

// Await returns the publisher's source track, waiting for it until ctx ends.
func (m *RelayManager) Await(ctx context.Context, sid core.SessionID) (*webrtc.TrackRemote, error) {
	m.mu.Lock()
	if relay, ok := m.relays[sid]; ok {
		m.mu.Unlock()
		return relay.Src, nil
	}
	ch, ok := m.ready[sid]
	if !ok {
		ch = make(chan struct{})
		m.ready[sid] = ch
	}
	m.mu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
		return nil, ErrNoTrack
	}
	if src, ok := m.SrcTrack(sid); ok {
		return src, nil
	}
	return nil, ErrNoTrack
}

func (m *RelayManager) HasRelay(sid core.SessionID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[sid]
	return ok
}

func (m *RelayManager) SrcTrack(sid core.SessionID) (*webrtc.TrackRemote, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	relay, ok := m.relays[sid]
	if !ok {
		return nil, false
	}
	return relay.Src, true
}
