package sfu

import (
	"context"
	"errors"
	"io"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/stemsight/broker/internal/core"
)

// BufferSize fits one RTP packet on a typical MTU.
const BufferSize = 1500

// Relay reads the publisher's remote track and hands every packet to the
// broker's ingest path, which persists it and fans it out.
type Relay struct {
	Src *webrtc.TrackRemote

	ingest func(core.Frame)
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRelay(src *webrtc.TrackRemote, ingest func(core.Frame), cancel context.CancelFunc) *Relay {
	return &Relay{
		Src:    src,
		ingest: ingest,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(r.done)
	buf := make([]byte, BufferSize)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done")
			return
		default:
		}
		n, _, err := r.Src.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Info().Msg("relay source ended")
			} else {
				logger.Error().Err(err).Msg("relay read RTP error, stopping")
			}
			return
		}
		chunk := make(core.Frame, n)
		copy(chunk, buf[:n])
		r.ingest(chunk)
	}
}

func (r *Relay) stop() {
	if r.cancel != nil {
		r.cancel()
	}
}
