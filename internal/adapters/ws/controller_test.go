package ws

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsight/broker/internal/app"
	"github.com/stemsight/broker/internal/app/orch"
	"github.com/stemsight/broker/internal/app/sfu"
	"github.com/stemsight/broker/internal/core"
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

func testFail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrPublisherConflict), errors.Is(err, domain.ErrNoPublisher), errors.Is(err, domain.ErrIncompatibleTransport):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func newServer(t *testing.T) (*orch.Orchestrator, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	o := orch.New(app.NewRegistry(), app.NewConnManager(16, app.SimplePolicy{}), nopRecorders{}, sfu.NewRelayManager())
	ctl := NewController(o, testFail)

	r := gin.New()
	r.GET("/video-streaming/live/:id", ctl.HandleLive)
	r.GET("/video-streaming/watch/:id", ctl.HandleWatch)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		o.Shutdown()
		srv.Close()
	})
	return o, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestLiveFansOutToWatchersInOrder(t *testing.T) {
	o, base := newServer(t)

	pub := dial(t, base+"/video-streaming/live/lab")
	var room *core.Room
	require.Eventually(t, func() bool {
		r, err := o.Room("lab")
		if err != nil || r.Publisher() == nil {
			return false
		}
		room = r
		return true
	}, time.Second, 10*time.Millisecond)

	watcher := dial(t, base+"/video-streaming/watch/lab")
	require.Eventually(t, func() bool { return room.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)

	for _, c := range []string{"c1", "c2", "c3"} {
		require.NoError(t, pub.WriteMessage(websocket.BinaryMessage, []byte(c)))
	}
	_ = watcher.SetReadDeadline(time.Now().Add(2 * time.Second))
	for _, want := range []string{"c1", "c2", "c3"} {
		mt, data, err := watcher.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.BinaryMessage, mt)
		assert.Equal(t, want, string(data))
	}

	require.NoError(t, pub.Close())
	require.Eventually(t, func() bool { return room.State() == domain.RoomIdle }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, room.SubscriberCount())
}

func TestWatchRejections(t *testing.T) {
	o, base := newServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(base+"/video-streaming/watch/nope", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, _, err = o.CreateRoom("empty")
	require.NoError(t, err)
	_, resp, err = websocket.DefaultDialer.Dial(base+"/video-streaming/watch/empty", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSecondLivePublisherIsRejected(t *testing.T) {
	o, base := newServer(t)

	dial(t, base+"/video-streaming/live/lab")
	require.Eventually(t, func() bool {
		r, err := o.Room("lab")
		return err == nil && r.Publisher() != nil
	}, time.Second, 10*time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial(base+"/video-streaming/live/lab", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestWatcherDisconnectLeavesRoom(t *testing.T) {
	o, base := newServer(t)

	dial(t, base+"/video-streaming/live/lab")
	var room *core.Room
	require.Eventually(t, func() bool {
		r, err := o.Room("lab")
		if err != nil || r.Publisher() == nil {
			return false
		}
		room = r
		return true
	}, time.Second, 10*time.Millisecond)

	watcher := dial(t, base+"/video-streaming/watch/lab")
	require.Eventually(t, func() bool { return room.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	require.NoError(t, watcher.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))
	require.Eventually(t, func() bool { return room.SubscriberCount() == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.RoomPublishing, room.State())
}
