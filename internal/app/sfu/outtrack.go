package sfu

import (
	"errors"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/stemsight/broker/internal/core"
)

var ErrTrackDeleted = errors.New("out track deleted")

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateDelete
)

// OutTrack is the local track a subscriber receives the publisher's video on.
type OutTrack struct {
	Track *webrtc.TrackLocalStaticRTP
	state atomic.Int32 // Zero by default (TrackStateOk)
}

// NewOutTrack mirrors the publisher's codec so packets are forwarded as-is.
func NewOutTrack(codec webrtc.RTPCodecCapability, streamID string) (*OutTrack, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(codec, "video", streamID)
	if err != nil {
		return nil, err
	}
	return &OutTrack{Track: track}, nil
}

func (ot *OutTrack) GetState() TrackState {
	return TrackState(ot.state.Load())
}

func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(TrackStateDelete))
}

// Write forwards one raw RTP packet. pion rewrites SSRC and payload type per
// binding.
func (ot *OutTrack) Write(f core.Frame) error {
	if ot.GetState() == TrackStateDelete {
		return ErrTrackDeleted
	}
	_, err := ot.Track.Write(f)
	return err
}
