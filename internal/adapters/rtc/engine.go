package rtc

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/stemsight/broker/internal/app/persist"
	"github.com/stemsight/broker/internal/app/sfu"
	"github.com/stemsight/broker/internal/core"
	"github.com/stemsight/broker/internal/domain"
)

// Description is an SDP offer or answer as exchanged over HTTP.
type Description struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// Broker is what the engine needs from the coordination layer.
type Broker interface {
	core.Reactor
	Room(id domain.RoomID) (*core.Room, error)
	AttachPublisher(room *core.Room, s core.Session) error
	AttachSubscriberTo(room *core.Room, s core.Session, source core.SessionID) error
	OnTrack(ctx context.Context, s core.Session, track *webrtc.TrackRemote)
	SourceTrack(ctx context.Context, room *core.Room) (sfu.Source, error)
}

type Config struct {
	ICEServers  []webrtc.ICEServer
	TrackWait   time.Duration
	PLIInterval time.Duration
	PortMin     uint16
	PortMax     uint16
	PublicIP    string
}

var videoFeedback = []webrtc.RTCPFeedback{
	{Type: "goog-remb"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
}

func video(mimeType, fmtp string, pt webrtc.PayloadType) webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     mimeType,
			ClockRate:    90000,
			SDPFmtpLine:  fmtp,
			RTCPFeedback: videoFeedback,
		},
		PayloadType: pt,
	}
}

// videoCodecs is the offer we answer with. Only codecs the persister can
// record are listed so every negotiated track is stored.
var videoCodecs = []webrtc.RTPCodecParameters{
	video(webrtc.MimeTypeVP8, "", 96),
	video(webrtc.MimeTypeVP9, "profile-id=0", 98),
	video(webrtc.MimeTypeH264, "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f", 102),
	video(webrtc.MimeTypeH264, "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f", 125),
	video(webrtc.MimeTypeAV1, "", 45),
}

func registerCodecs(m *webrtc.MediaEngine) error {
	opus := webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}
	if err := m.RegisterCodec(opus, webrtc.RTPCodecTypeAudio); err != nil {
		return err
	}
	for _, c := range videoCodecs {
		if !persist.CanRecord(c.MimeType) {
			continue
		}
		if err := m.RegisterCodec(c, webrtc.RTPCodecTypeVideo); err != nil {
			return fmt.Errorf("%s: %w", c.MimeType, err)
		}
	}
	return nil
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// Engine negotiates PEER_MEDIA sessions: it turns an offer into an answer
// and hands the resulting session to the broker.
type Engine struct {
	api       *webrtc.API
	pcConfig  webrtc.Configuration
	trackWait time.Duration
	broker    Broker
}

func NewEngine(cfg Config, broker Broker) (*Engine, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := registerCodecs(mediaEngine); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}
	var pliOpts []intervalpli.GeneratorOption
	if cfg.PLIInterval > 0 {
		pliOpts = append(pliOpts, intervalpli.GeneratorInterval(cfg.PLIInterval))
	}
	pliFactory, err := intervalpli.NewReceiverInterceptor(pliOpts...)
	if err != nil {
		return nil, fmt.Errorf("create PLI factory: %w", err)
	}
	interceptorRegistry.Add(pliFactory)

	se := webrtc.SettingEngine{}
	if cfg.PublicIP != "" {
		se.SetNAT1To1IPs([]string{cfg.PublicIP}, webrtc.ICECandidateTypeHost)
	}
	if cfg.PortMin > 0 && cfg.PortMax > 0 {
		if err := se.SetEphemeralUDPPortRange(cfg.PortMin, cfg.PortMax); err != nil {
			return nil, fmt.Errorf("set WebRTC port range: %w", err)
		}
	}

	pcConfig := DefaultWebRTCConfig()
	if len(cfg.ICEServers) > 0 {
		pcConfig.ICEServers = cfg.ICEServers
	}
	trackWait := cfg.TrackWait
	if trackWait <= 0 {
		trackWait = 5 * time.Second
	}

	return &Engine{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(interceptorRegistry),
			webrtc.WithSettingEngine(se),
		),
		pcConfig:  pcConfig,
		trackWait: trackWait,
		broker:    broker,
	}, nil
}

// ParseOffer checks that d is an SDP offer with at least one media section.
func ParseOffer(d Description) (webrtc.SessionDescription, error) {
	if d.Type != webrtc.SDPTypeOffer.String() {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: type %q is not an offer", domain.ErrInvalidDescription, d.Type)
	}
	var parsed sdp.SessionDescription
	if err := parsed.UnmarshalString(d.SDP); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %v", domain.ErrInvalidDescription, err)
	}
	if len(parsed.MediaDescriptions) == 0 {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: no media sections", domain.ErrInvalidDescription)
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: d.SDP}, nil
}

// Publish makes the offering peer the room's publisher and returns the
// answer. Connectivity continues after it returns.
func (e *Engine) Publish(ctx context.Context, roomID domain.RoomID, offer Description) (Description, error) {
	sd, err := ParseOffer(offer)
	if err != nil {
		return Description{}, err
	}
	room, err := e.broker.Room(roomID)
	if err != nil {
		return Description{}, err
	}
	if room.Publisher() != nil {
		return Description{}, domain.ErrPublisherConflict
	}

	sess, err := newPeerSession(e.api, e.pcConfig, core.RolePublisher, e.broker)
	if err != nil {
		return Description{}, err
	}
	sess.onTrack = func(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		e.broker.OnTrack(ctx, sess, track)
	}
	if err := e.broker.AttachPublisher(room, sess); err != nil {
		_ = sess.Close()
		return Description{}, err
	}
	return e.answer(ctx, sess, sd, roomID)
}

// Subscribe negotiates a viewer for the room's current peer publisher. It
// waits a bounded time for the publisher's video track to learn its codec.
func (e *Engine) Subscribe(ctx context.Context, roomID domain.RoomID, offer Description) (Description, error) {
	sd, err := ParseOffer(offer)
	if err != nil {
		return Description{}, err
	}
	room, err := e.broker.Room(roomID)
	if err != nil {
		return Description{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.trackWait)
	src, err := e.broker.SourceTrack(waitCtx, room)
	cancel()
	if err != nil {
		return Description{}, err
	}

	sess, err := newPeerSession(e.api, e.pcConfig, core.RoleSubscriber, e.broker)
	if err != nil {
		return Description{}, err
	}
	if err := sess.addOutTrack(src.Track.Codec().RTPCodecCapability, "room-"+string(roomID)); err != nil {
		_ = sess.Close()
		return Description{}, err
	}
	if err := e.broker.AttachSubscriberTo(room, sess, src.Publisher); err != nil {
		_ = sess.Close()
		return Description{}, err
	}
	return e.answer(ctx, sess, sd, roomID)
}

func (e *Engine) answer(ctx context.Context, sess *PeerSession, offer webrtc.SessionDescription, roomID domain.RoomID) (Description, error) {
	local, err := sess.negotiate(ctx, offer)
	if err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("room", string(roomID)).Str("sid", string(sess.ID())).Msg("negotiation failed")
		_ = sess.Close()
		return Description{}, err
	}
	log.Info().
		Str("module", "webrtc").
		Str("room", string(roomID)).
		Str("sid", string(sess.ID())).
		Str("role", sess.Role().String()).
		Msg("answer ready")
	return Description{SDP: local.SDP, Type: local.Type.String()}, nil
}
