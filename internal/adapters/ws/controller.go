package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/stemsight/broker/internal/core"
	"github.com/stemsight/broker/internal/domain"
)

const defaultWriteWait = 5 * time.Second

// DefaultMaxChunk bounds one inbound publisher message.
const DefaultMaxChunk = 4 << 20

// Broker is what the raw stream endpoints need from the coordination layer.
type Broker interface {
	core.Reactor
	CreateRoom(id domain.RoomID) (*core.Room, bool, error)
	Room(id domain.RoomID) (*core.Room, error)
	AttachPublisher(room *core.Room, s core.Session) error
	AttachSubscriber(room *core.Room, s core.Session) error
	Ingest(s core.Session, chunk core.Frame)
}

// Controller serves the live and watch WebSocket endpoints. Request errors
// found before the upgrade go to Fail.
type Controller struct {
	Broker    Broker
	Fail      func(c *gin.Context, err error)
	WriteWait time.Duration
	MaxChunk  int64
	Upgrader  websocket.Upgrader
}

func NewController(b Broker, fail func(c *gin.Context, err error)) *Controller {
	return &Controller{
		Broker:    b,
		Fail:      fail,
		WriteWait: defaultWriteWait,
		MaxChunk:  DefaultMaxChunk,
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleLive accepts a raw publisher. The room is created on first use.
func (ctl *Controller) HandleLive(c *gin.Context) {
	id, err := domain.ParseRoomID(c.Param("id"))
	if err != nil {
		ctl.Fail(c, err)
		return
	}
	room, _, err := ctl.Broker.CreateRoom(id)
	if err != nil {
		room, err = ctl.Broker.Room(id)
		if err != nil {
			ctl.Fail(c, err)
			return
		}
	}
	if room.Publisher() != nil {
		ctl.Fail(c, domain.ErrPublisherConflict)
		return
	}

	conn, err := ctl.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("ws upgrade")
		return
	}
	conn.SetReadLimit(ctl.MaxChunk)
	sess := NewRawSession(conn, core.RolePublisher, ctl.Broker, ctl.WriteWait)
	if err := ctl.Broker.AttachPublisher(room, sess); err != nil {
		log.Warn().Err(err).Str("module", "ws").Str("room", string(id)).Msg("publisher rejected")
		sess.reject(err)
		return
	}
	log.Info().Str("module", "ws").Str("room", string(id)).Str("sid", string(sess.ID())).Str("client", c.GetString("client_token")).Msg("raw publisher connected")
	sess.lc.Advance(core.StateConnected)

	go sess.readLoop(func(f core.Frame) { ctl.Broker.Ingest(sess, f) })
}

// HandleWatch accepts a raw viewer for an existing room with a raw
// publisher.
func (ctl *Controller) HandleWatch(c *gin.Context) {
	id, err := domain.ParseRoomID(c.Param("id"))
	if err != nil {
		ctl.Fail(c, err)
		return
	}
	room, err := ctl.Broker.Room(id)
	if err != nil {
		ctl.Fail(c, err)
		return
	}
	pub := room.Publisher()
	if pub == nil {
		ctl.Fail(c, domain.ErrNoPublisher)
		return
	}
	if pub.Kind() != core.KindRawStream {
		ctl.Fail(c, domain.ErrIncompatibleTransport)
		return
	}

	conn, err := ctl.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("ws upgrade")
		return
	}
	conn.SetReadLimit(512)
	sess := NewRawSession(conn, core.RoleSubscriber, ctl.Broker, ctl.WriteWait)
	if err := ctl.Broker.AttachSubscriber(room, sess); err != nil {
		log.Warn().Err(err).Str("module", "ws").Str("room", string(id)).Msg("watcher rejected")
		sess.reject(err)
		return
	}
	log.Info().Str("module", "ws").Str("room", string(id)).Str("sid", string(sess.ID())).Str("client", c.GetString("client_token")).Msg("raw watcher connected")
	sess.lc.Advance(core.StateConnected)

	go sess.readLoop(nil)
}
