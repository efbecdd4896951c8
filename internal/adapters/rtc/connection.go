package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/stemsight/broker/internal/app/sfu"
	"github.com/stemsight/broker/internal/core"
	"github.com/stemsight/broker/internal/domain"
)

var errPublisherSend = errors.New("publisher sessions do not accept media")

// PeerSession is the PEER_MEDIA transport session: one pion PeerConnection
// plus, for subscribers, the local track the room's packets are written to.
type PeerSession struct {
	pc   *webrtc.PeerConnection
	sid  core.SessionID
	role core.Role
	lc   *core.Lifecycle

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	out     *sfu.OutTrack
	onTrack func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
}

func newPeerSession(api *webrtc.API, cfg webrtc.Configuration, role core.Role, reactor core.Reactor) (*PeerSession, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: new peer connection: %v", domain.ErrTransportFailure, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &PeerSession{
		pc:     pc,
		sid:    core.SessionID(uuid.NewString()),
		role:   role,
		ctx:    ctx,
		cancel: cancel,
	}
	s.lc = core.NewLifecycle(func(st core.ConnState) { reactor.React(s, st) })
	s.start()
	return s, nil
}

func (s *PeerSession) start() {
	s.pc.OnICEConnectionStateChange(func(st webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(s.sid)).Str("ice_state", st.String()).Msg("ICE state")
	})

	s.pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(s.sid)).Str("peer_connection_state", st.String()).Msg("Peer state")
		if next, ok := mapState(st); ok {
			s.lc.Advance(next)
		}
	})

	s.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("sid", string(s.sid)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if track.Kind() != webrtc.RTPCodecTypeVideo || s.onTrack == nil {
			go drain(track)
			return
		}
		s.onTrack(s.ctx, track, receiver)
	})
}

func mapState(st webrtc.PeerConnectionState) (core.ConnState, bool) {
	switch st {
	case webrtc.PeerConnectionStateNew:
		return core.StateNew, true
	case webrtc.PeerConnectionStateConnecting:
		return core.StateConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return core.StateConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return core.StateDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return core.StateFailed, true
	case webrtc.PeerConnectionStateClosed:
		return core.StateClosed, true
	}
	return 0, false
}

// negotiate applies the offer and returns the answer once ICE gathering is
// done or ctx ends.
func (s *PeerSession) negotiate(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	s.lc.Advance(core.StateConnecting)
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidDescription, err)
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create answer: %v", domain.ErrTransportFailure, err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("%w: set local description: %v", domain.ErrTransportFailure, err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: ice gathering: %v", domain.ErrTransportFailure, ctx.Err())
	}
	return s.pc.LocalDescription(), nil
}

// addOutTrack gives a subscriber the local track the room's packets go to.
func (s *PeerSession) addOutTrack(codec webrtc.RTPCodecCapability, streamID string) error {
	out, err := sfu.NewOutTrack(codec, streamID)
	if err != nil {
		return fmt.Errorf("%w: local track: %v", domain.ErrTransportFailure, err)
	}
	sender, err := s.pc.AddTrack(out.Track)
	if err != nil {
		return fmt.Errorf("%w: add track: %v", domain.ErrTransportFailure, err)
	}
	s.out = out
	// RTCP has to be read for the interceptors to run
	go func() {
		buf := make([]byte, sfu.BufferSize)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func drain(track *webrtc.TrackRemote) {
	buf := make([]byte, sfu.BufferSize)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

func (s *PeerSession) ID() core.SessionID    { return s.sid }
func (s *PeerSession) Role() core.Role       { return s.role }
func (s *PeerSession) Kind() core.Kind       { return core.KindPeerMedia }
func (s *PeerSession) State() core.ConnState { return s.lc.State() }

// Send writes one RTP packet to the subscriber's local track.
func (s *PeerSession) Send(f core.Frame) error {
	if s.closed.Load() {
		return sfu.ErrTrackDeleted
	}
	if s.out == nil {
		return errPublisherSend
	}
	return s.out.Write(f)
}

// Close is idempotent. The session leaves its room before the peer
// connection is torn down.
func (s *PeerSession) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.lc.Advance(core.StateClosed)
	s.cancel()
	if s.out != nil {
		s.out.MarkDelete()
	}
	if err := s.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("sid", string(s.sid)).Msg("close error")
		return err
	}
	log.Info().Str("module", "webrtc").Str("sid", string(s.sid)).Msg("closed")
	return nil
}
