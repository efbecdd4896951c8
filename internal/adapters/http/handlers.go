package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/stemsight/broker/internal/adapters/rtc"
	"github.com/stemsight/broker/internal/domain"
)

func roomParam(c *gin.Context) (domain.RoomID, bool) {
	id, err := domain.ParseRoomID(c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return "", false
	}
	return id, true
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": len(s.Rooms.ListRooms())})
}

func (s *Server) createRoom(c *gin.Context) {
	id, ok := roomParam(c)
	if !ok {
		return
	}
	room, created, err := s.Rooms.CreateRoom(id)
	if err != nil {
		WriteError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		log.Info().Str("module", "adapters.http").Str("room", string(id)).Str("user", c.GetString("user_id")).Msg("room created")
	}
	c.JSON(status, room.Info())
}

func (s *Server) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": s.Rooms.ListRooms()})
}

func (s *Server) getRoom(c *gin.Context) {
	id, ok := roomParam(c)
	if !ok {
		return
	}
	room, err := s.Rooms.Room(id)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, room.Info())
}

func (s *Server) deleteRoom(c *gin.Context) {
	id, ok := roomParam(c)
	if !ok {
		return
	}
	if err := s.Rooms.RemoveRoom(id); err != nil {
		WriteError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listRecordings(c *gin.Context) {
	id, ok := roomParam(c)
	if !ok {
		return
	}
	recs, err := s.Recordings.List(c.Request.Context(), id)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": id, "recordings": recs})
}

func (s *Server) streamer(c *gin.Context) {
	s.negotiate(c, s.Signal.Publish)
}

func (s *Server) viewer(c *gin.Context) {
	s.negotiate(c, s.Signal.Subscribe)
}

type negotiateFunc func(ctx context.Context, roomID domain.RoomID, offer rtc.Description) (rtc.Description, error)

func (s *Server) negotiate(c *gin.Context, fn negotiateFunc) {
	id, ok := roomParam(c)
	if !ok {
		return
	}
	var offer rtc.Description
	if err := c.ShouldBindJSON(&offer); err != nil {
		WriteError(c, fmt.Errorf("%w: %v", domain.ErrInvalidDescription, err))
		return
	}
	answer, err := fn(c.Request.Context(), id, offer)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, answer)
}
