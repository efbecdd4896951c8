package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/stemsight/broker/internal/app/sfu"
	"github.com/stemsight/broker/internal/core"
	"github.com/stemsight/broker/internal/domain"
)

// OnTrack is called when a publisher's remote video track arrives. It picks
// the persister encoding from the codec and starts relaying packets into
// Ingest.
func (o *Orchestrator) OnTrack(ctx context.Context, s core.Session, track *webrtc.TrackRemote) {
	room, ok := o.home(s.ID())
	if !ok {
		log.Info().Str("module", "sfu").Str("sid", string(s.ID())).Msg("OnTrack: no room for sid")
		return
	}
	rec, ok := room.RecorderOf(s)
	if !ok {
		return
	}
	if o.Relays.HasRelay(s.ID()) {
		return
	}
	if err := rec.Prepare(track.Codec().MimeType); err != nil {
		log.Error().Err(err).Str("module", "sfu").Str("room", string(room.ID())).Msg("recording disabled for this track")
	}
	o.Relays.StartRelay(ctx, s.ID(), track, func(f core.Frame) { o.Ingest(s, f) })
}

// SourceTrack waits for the publisher's video track so a subscriber can be
// offered the same codec.
func (o *Orchestrator) SourceTrack(ctx context.Context, room *core.Room) (sfu.Source, error) {
	pub := room.Publisher()
	if pub == nil {
		return sfu.Source{}, domain.ErrNoPublisher
	}
	if pub.Kind() != core.KindPeerMedia {
		return sfu.Source{}, domain.ErrIncompatibleTransport
	}
	track, err := o.Relays.Await(ctx, pub.ID())
	if errors.Is(err, sfu.ErrNoTrack) {
		return sfu.Source{}, domain.ErrNoPublisher
	}
	if err != nil {
		return sfu.Source{}, err
	}
	return sfu.Source{Publisher: pub.ID(), Track: track}, nil
}

// AttachSubscriberTo attaches s only while source is still the room's
// publisher. A viewer negotiated against one publisher's codec must not be
// fed by the next one.
func (o *Orchestrator) AttachSubscriberTo(room *core.Room, s core.Session, source core.SessionID) error {
	if err := o.AttachSubscriber(room, s); err != nil {
		return err
	}
	if pub := room.Publisher(); pub == nil || pub.ID() != source {
		o.Fanout.Unsubscribe(room, s)
		o.unbind(s.ID())
		return fmt.Errorf("%w: publisher changed during negotiation", domain.ErrNoPublisher)
	}
	return nil
}
