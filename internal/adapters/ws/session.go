package ws

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/stemsight/broker/internal/core"
)

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	WriteControl(mt int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

// RawSession is the RAW_STREAM transport session: binary WebSocket messages
// carry opaque stream chunks in one direction.
type RawSession struct {
	id        core.SessionID
	role      core.Role
	conn      WSConn
	lc        *core.Lifecycle
	writeWait time.Duration
	closed    atomic.Bool
}

func NewRawSession(conn WSConn, role core.Role, reactor core.Reactor, writeWait time.Duration) *RawSession {
	s := &RawSession{
		id:        core.SessionID(uuid.NewString()),
		role:      role,
		conn:      conn,
		writeWait: writeWait,
	}
	s.lc = core.NewLifecycle(func(st core.ConnState) { reactor.React(s, st) })
	return s
}

func (s *RawSession) ID() core.SessionID    { return s.id }
func (s *RawSession) Role() core.Role       { return s.role }
func (s *RawSession) Kind() core.Kind       { return core.KindRawStream }
func (s *RawSession) State() core.ConnState { return s.lc.State() }

// Send writes one chunk as a binary message. Only the fan-out worker calls
// it, so writes never overlap.
func (s *RawSession) Send(f core.Frame) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, f)
}

// Close is idempotent; the session leaves its room before the socket goes.
func (s *RawSession) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.lc.Advance(core.StateClosed)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return s.conn.Close()
}

// reject closes a session that never made it into a room.
func (s *RawSession) reject(err error) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = s.Close()
}

// readLoop runs until the peer goes away. Publisher chunks go to ingest;
// anything a watcher sends is discarded.
func (s *RawSession) readLoop(ingest func(core.Frame)) {
	logger := log.With().Str("module", "ws").Str("sid", string(s.id)).Str("role", s.role.String()).Logger()
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !s.closed.Load() {
				logger.Warn().Err(err).Msg("read error")
				s.lc.Advance(core.StateFailed)
			} else {
				logger.Info().Msg("peer closed")
				s.lc.Advance(core.StateDisconnected)
			}
			return
		}
		if ingest == nil {
			continue
		}
		if mt != websocket.BinaryMessage {
			logger.Debug().Int("type", mt).Msg("ignoring non-binary message")
			continue
		}
		ingest(core.Frame(data))
	}
}
