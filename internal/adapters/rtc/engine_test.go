package rtc

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsight/broker/internal/app"
	"github.com/stemsight/broker/internal/app/orch"
	"github.com/stemsight/broker/internal/app/persist"
	"github.com/stemsight/broker/internal/app/sfu"
	"github.com/stemsight/broker/internal/core"
	"github.com/stemsight/broker/internal/core/coretest"
	"github.com/stemsight/broker/internal/domain"
)

type nopRecorder struct{}

func (nopRecorder) Prepare(string) error   { return nil }
func (nopRecorder) Write(core.Frame) error { return nil }
func (nopRecorder) Finalize()              {}

type nopRecorders struct{}

func (nopRecorders) NewRecorder(domain.RoomID, core.Kind) (core.Recorder, error) {
	return nopRecorder{}, nil
}

func newTestEngine(t *testing.T) (*Engine, *orch.Orchestrator) {
	t.Helper()
	o := orch.New(app.NewRegistry(), app.NewConnManager(16, app.SimplePolicy{}), nopRecorders{}, sfu.NewRelayManager())
	e, err := NewEngine(Config{ICEServers: []webrtc.ICEServer{}, TrackWait: 50 * time.Millisecond}, o)
	require.NoError(t, err)
	e.pcConfig = webrtc.Configuration{}
	t.Cleanup(o.Shutdown)
	return e, o
}

// clientOffer builds a sending video offer the way a browser would.
func clientOffer(t *testing.T) Description {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	_, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv})
	require.NoError(t, err)
	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	require.NoError(t, pc.SetLocalDescription(offer))
	select {
	case <-gatherComplete:
	case <-time.After(5 * time.Second):
		t.Fatal("client gathering timed out")
	}
	return Description{SDP: pc.LocalDescription().SDP, Type: "offer"}
}

func TestParseOfferRejectsMalformedDescriptions(t *testing.T) {
	offer := clientOffer(t)
	cases := []struct {
		name string
		in   Description
	}{
		{"answer type", Description{SDP: offer.SDP, Type: "answer"}},
		{"empty type", Description{SDP: offer.SDP}},
		{"garbage", Description{SDP: "hello", Type: "offer"}},
		{"no media", Description{SDP: "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n", Type: "offer"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseOffer(tc.in)
			require.ErrorIs(t, err, domain.ErrInvalidDescription)
		})
	}

	sd, err := ParseOffer(offer)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, sd.Type)
}

func TestPublishToUnknownRoom(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Publish(context.Background(), "nope", clientOffer(t))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPublishConflictsWithExistingPublisher(t *testing.T) {
	e, o := newTestEngine(t)
	room, _, _ := o.CreateRoom("lab")
	pub := coretest.NewSession(core.RolePublisher, core.KindPeerMedia, o)
	require.NoError(t, o.AttachPublisher(room, pub))

	_, err := e.Publish(context.Background(), "lab", clientOffer(t))
	require.ErrorIs(t, err, domain.ErrPublisherConflict)
	assert.Equal(t, pub.ID(), room.Publisher().ID())
}

func TestSubscribeErrors(t *testing.T) {
	e, o := newTestEngine(t)
	room, _, _ := o.CreateRoom("lab")

	_, err := e.Subscribe(context.Background(), "lab", clientOffer(t))
	require.ErrorIs(t, err, domain.ErrNoPublisher)

	pub := coretest.NewSession(core.RolePublisher, core.KindRawStream, o)
	require.NoError(t, o.AttachPublisher(room, pub))
	_, err = e.Subscribe(context.Background(), "lab", clientOffer(t))
	require.ErrorIs(t, err, domain.ErrIncompatibleTransport)
}

func TestSubscribeWaitsForPublisherTrack(t *testing.T) {
	e, o := newTestEngine(t)
	room, _, _ := o.CreateRoom("lab")
	pub := coretest.NewSession(core.RolePublisher, core.KindPeerMedia, o)
	require.NoError(t, o.AttachPublisher(room, pub))

	start := time.Now()
	_, err := e.Subscribe(context.Background(), "lab", clientOffer(t))
	require.ErrorIs(t, err, domain.ErrNoPublisher)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 0, room.SubscriberCount())
}

func TestPublishAnswersAndTakesTheSlot(t *testing.T) {
	e, o := newTestEngine(t)
	room, _, _ := o.CreateRoom("lab")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	answer, err := e.Publish(ctx, "lab", clientOffer(t))
	require.NoError(t, err)
	assert.Equal(t, "answer", answer.Type)
	assert.Contains(t, answer.SDP, "m=video")

	require.NotNil(t, room.Publisher())
	assert.Equal(t, core.KindPeerMedia, room.Publisher().Kind())
	assert.Equal(t, domain.RoomPublishing, room.State())

	require.NoError(t, o.RemoveRoom("lab"))
	assert.Nil(t, room.Publisher())
}

func TestAnsweredVideoCodecsAreRecordable(t *testing.T) {
	e, o := newTestEngine(t)
	o.CreateRoom("lab")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	answer, err := e.Publish(ctx, "lab", clientOffer(t))
	require.NoError(t, err)
	defer o.RemoveRoom("lab")

	var parsed sdp.SessionDescription
	require.NoError(t, parsed.UnmarshalString(answer.SDP))
	var codecs []string
	for _, md := range parsed.MediaDescriptions {
		if md.MediaName.Media != "video" {
			continue
		}
		for _, a := range md.Attributes {
			if a.Key != "rtpmap" {
				continue
			}
			fields := strings.Fields(a.Value)
			require.Len(t, fields, 2)
			codecs = append(codecs, "video/"+strings.Split(fields[1], "/")[0])
		}
	}
	require.NotEmpty(t, codecs)
	for _, c := range codecs {
		assert.True(t, persist.CanRecord(c), c)
	}
}
