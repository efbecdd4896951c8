package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/stemsight/broker/internal/adapters/rtc"
	"github.com/stemsight/broker/internal/app/persist"
	"github.com/stemsight/broker/internal/config"
	"github.com/stemsight/broker/internal/core"
	"github.com/stemsight/broker/internal/domain"
)

// Rooms is the room administration surface of the broker.
type Rooms interface {
	CreateRoom(id domain.RoomID) (*core.Room, bool, error)
	Room(id domain.RoomID) (*core.Room, error)
	RemoveRoom(id domain.RoomID) error
	ListRooms() []core.RoomInfo
}

// Signaling turns peer offers into answers.
type Signaling interface {
	Publish(ctx context.Context, roomID domain.RoomID, offer rtc.Description) (rtc.Description, error)
	Subscribe(ctx context.Context, roomID domain.RoomID, offer rtc.Description) (rtc.Description, error)
}

// RawStreams serves the WebSocket chunk endpoints.
type RawStreams interface {
	HandleLive(c *gin.Context)
	HandleWatch(c *gin.Context)
}

type Server struct {
	Rooms      Rooms
	Signal     Signaling
	Raw        RawStreams
	Recordings persist.Catalog
}

func SetupRouter(cfg *config.Config, srv *Server) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(OriginFilter(cfg.AllowedOrigins))

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: clientTokenTTL, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions("BrokerSessions", store))
	r.Use(ClientTokenMiddleware())

	auth := JWTAuth(cfg.Auth.JWTSecret, cfg.Auth.Audience)
	limiter := JoinLimit(NewRoomRateLimiter(cfg.Signal.JoinLimit, cfg.Signal.JoinInterval))

	log.Info().Str("module", "adapters.http").Bool("auth", cfg.Auth.JWTSecret != "").Msg("router setup")

	r.GET("/health", srv.health)

	api := r.Group("/streaming")
	api.POST("/create_room/:id", auth, srv.createRoom)
	api.GET("/rooms", auth, srv.listRooms)
	api.GET("/rooms/:id", auth, srv.getRoom)
	api.DELETE("/rooms/:id", auth, srv.deleteRoom)
	api.GET("/rooms/:id/recordings", auth, srv.listRecordings)
	api.POST("/rooms/:id/streamer", limiter, srv.streamer)
	api.POST("/rooms/:id/viewer", limiter, srv.viewer)

	live := r.Group("/video-streaming")
	live.GET("/live/:id", limiter, srv.Raw.HandleLive)
	live.GET("/watch/:id", limiter, srv.Raw.HandleWatch)

	return r
}
