package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsight/broker/internal/adapters/rtc"
	"github.com/stemsight/broker/internal/adapters/storage"
	"github.com/stemsight/broker/internal/app"
	"github.com/stemsight/broker/internal/app/orch"
	"github.com/stemsight/broker/internal/app/sfu"
	"github.com/stemsight/broker/internal/config"
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

type fakeSignal struct {
	err    error
	offers []rtc.Description
}

func (f *fakeSignal) Publish(_ context.Context, _ domain.RoomID, offer rtc.Description) (rtc.Description, error) {
	f.offers = append(f.offers, offer)
	if f.err != nil {
		return rtc.Description{}, f.err
	}
	return rtc.Description{SDP: "v=0 answer", Type: "answer"}, nil
}

func (f *fakeSignal) Subscribe(ctx context.Context, id domain.RoomID, offer rtc.Description) (rtc.Description, error) {
	return f.Publish(ctx, id, offer)
}

type fakeRaw struct{}

func (fakeRaw) HandleLive(c *gin.Context)  { c.Status(http.StatusTeapot) }
func (fakeRaw) HandleWatch(c *gin.Context) { c.Status(http.StatusTeapot) }

type fixture struct {
	router  *gin.Engine
	broker  *orch.Orchestrator
	signal  *fakeSignal
	catalog *storage.MemoryCatalog
}

func testConfig() *config.Config {
	return &config.Config{
		Mode:   "test",
		Secret: "cookie-secret",
		Auth:   config.AuthConfig{Audience: "authenticated"},
		Signal: config.SignalConfig{JoinLimit: 100, JoinInterval: time.Minute},
	}
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fixture{
		broker:  orch.New(app.NewRegistry(), app.NewConnManager(16, app.SimplePolicy{}), nopRecorders{}, sfu.NewRelayManager()),
		signal:  &fakeSignal{},
		catalog: storage.NewMemoryCatalog(),
	}
	f.router = SetupRouter(cfg, &Server{Rooms: f.broker, Signal: f.signal, Raw: fakeRaw{}, Recordings: f.catalog})
	t.Cleanup(f.broker.Shutdown)
	return f
}

func (f *fixture) do(method, path, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

func TestHealth(t *testing.T) {
	f := newFixture(t, testConfig())
	w := f.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestRoomAdministration(t *testing.T) {
	f := newFixture(t, testConfig())

	w := f.do(http.MethodPost, "/streaming/create_room/lab", "", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var info core.RoomInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, domain.RoomID("lab"), info.ID)
	assert.Equal(t, domain.RoomEmpty, info.State)

	w = f.do(http.MethodPost, "/streaming/create_room/lab", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/streaming/rooms", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"lab"`)

	w = f.do(http.MethodGet, "/streaming/rooms/lab", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"empty"`)

	w = f.do(http.MethodDelete, "/streaming/rooms/lab", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(http.MethodGet, "/streaming/rooms/lab", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, domain.ErrNotFound.Error(), errorBody(t, w))

	w = f.do(http.MethodDelete, "/streaming/rooms/lab", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStrictCreateConflicts(t *testing.T) {
	f := newFixture(t, testConfig())
	f.broker.Strict = true

	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/streaming/create_room/lab", "", nil).Code)
	w := f.do(http.MethodPost, "/streaming/create_room/lab", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, domain.ErrAlreadyExists.Error(), errorBody(t, w))
}

func TestRoomIDValidation(t *testing.T) {
	f := newFixture(t, testConfig())
	w := f.do(http.MethodPost, "/streaming/create_room/"+strings.Repeat("x", domain.MaxRoomIDLen+1), "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNegotiationErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{nil, http.StatusOK},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrPublisherConflict, http.StatusConflict},
		{domain.ErrNoPublisher, http.StatusConflict},
		{domain.ErrIncompatibleTransport, http.StatusConflict},
		{fmt.Errorf("%w: bad sdp", domain.ErrInvalidDescription), http.StatusBadRequest},
		{fmt.Errorf("%w: ice", domain.ErrTransportFailure), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		name := "ok"
		if tc.err != nil {
			name = tc.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, testConfig())
			f.signal.err = tc.err
			for _, path := range []string{"/streaming/rooms/lab/streamer", "/streaming/rooms/lab/viewer"} {
				w := f.do(http.MethodPost, path, `{"sdp":"v=0","type":"offer"}`, nil)
				assert.Equal(t, tc.status, w.Code, path)
				if tc.err == nil {
					assert.JSONEq(t, `{"sdp":"v=0 answer","type":"answer"}`, w.Body.String())
				} else {
					assert.Equal(t, tc.err.Error(), errorBody(t, w))
				}
			}
			require.Len(t, f.signal.offers, 2)
			assert.Equal(t, rtc.Description{SDP: "v=0", Type: "offer"}, f.signal.offers[0])
		})
	}
}

func TestMalformedOfferBody(t *testing.T) {
	f := newFixture(t, testConfig())
	w := f.do(http.MethodPost, "/streaming/rooms/lab/streamer", `{"sdp":`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.signal.offers)
}

func TestListRecordings(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.catalog.Record(context.Background(), domain.Recording{RoomID: "lab", Name: "lab_20260101_x.mp4", URL: "https://store.test/lab_20260101_x.mp4"}))

	w := f.do(http.MethodGet, "/streaming/rooms/lab/recordings", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Room       domain.RoomID      `json:"room"`
		Recordings []domain.Recording `json:"recordings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Recordings, 1)
	assert.Equal(t, "lab_20260101_x.mp4", body.Recordings[0].Name)
}

func signedToken(t *testing.T, secret string, aud string) string {
	t.Helper()
	claims := JWTClaims{
		Role: "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Audience:  jwt.ClaimStrings{aud},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestJWTGuardsAdministration(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.JWTSecret = "jwt-secret"
	f := newFixture(t, cfg)

	w := f.do(http.MethodPost, "/streaming/create_room/lab", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodPost, "/streaming/create_room/lab", "", http.Header{"Authorization": {"Token abc"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	bad := signedToken(t, "jwt-secret", "anon")
	w = f.do(http.MethodPost, "/streaming/create_room/lab", "", http.Header{"Authorization": {"Bearer " + bad}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	forged := signedToken(t, "other-secret", "authenticated")
	w = f.do(http.MethodPost, "/streaming/create_room/lab", "", http.Header{"Authorization": {"Bearer " + forged}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	good := signedToken(t, "jwt-secret", "authenticated")
	w = f.do(http.MethodPost, "/streaming/create_room/lab", "", http.Header{"Authorization": {"Bearer " + good}})
	assert.Equal(t, http.StatusCreated, w.Code)

	// negotiation and health stay open
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/streaming/rooms/lab/viewer", `{"sdp":"v=0","type":"offer"}`, nil).Code)
}

func TestJoinRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Signal.JoinLimit = 2
	f := newFixture(t, cfg)

	header := http.Header{"X-Forwarded-For": {"10.0.0.1"}}
	for range 2 {
		w := f.do(http.MethodPost, "/streaming/rooms/lab/viewer", `{"sdp":"v=0","type":"offer"}`, header)
		require.Equal(t, http.StatusOK, w.Code)
	}
	// each request without a cookie gets a fresh token, so reuse the first one
	first := f.do(http.MethodGet, "/health", "", nil)
	cookies := first.Result().Cookies()
	require.NotEmpty(t, cookies)
	withCookie := http.Header{"Cookie": {cookies[0].Name + "=" + cookies[0].Value}}

	for range 2 {
		require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/streaming/rooms/lab/streamer", `{"sdp":"v=0","type":"offer"}`, withCookie).Code)
	}
	w := f.do(http.MethodPost, "/streaming/rooms/lab/streamer", `{"sdp":"v=0","type":"offer"}`, withCookie)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	assert.Equal(t, http.StatusTooManyRequests, f.do(http.MethodGet, "/video-streaming/watch/lab", "", withCookie).Code)
	assert.Equal(t, http.StatusTeapot, f.do(http.MethodGet, "/video-streaming/watch/lab", "", nil).Code)
}

func TestOriginFilter(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://app.example.org"}
	f := newFixture(t, cfg)

	w := f.do(http.MethodOptions, "/streaming/rooms", "", http.Header{"Origin": {"https://app.example.org"}})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.org", w.Header().Get("Access-Control-Allow-Origin"))

	w = f.do(http.MethodGet, "/health", "", http.Header{"Origin": {"https://evil.example"}})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRoomRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("a"))

	assert.True(t, NewRoomRateLimiter(0, time.Minute).Allow("x"))
}
