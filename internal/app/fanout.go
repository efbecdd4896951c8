package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/stemsight/broker/internal/core"
)

const DefaultQueueSize = 256

// PublishResult reports one broadcast to the caller.
type PublishResult struct {
	SendTo  int
	Dropped []core.Session
}

// ConnManager fans publisher chunks out to a room's subscribers. Each
// subscriber gets a bounded queue drained by its own worker, so a slow or
// blocked send never delays the publisher or the other subscribers. What
// happens on a full queue is decided by Policy.
type ConnManager struct {
	queueSize int
	policy    Policy
}

func NewConnManager(queueSize int, policy Policy) *ConnManager {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &ConnManager{queueSize: queueSize, policy: policy}
}

// Subscribe adds s to the room's subscriber set and starts its worker.
func (m *ConnManager) Subscribe(room *core.Room, s core.Session) error {
	f := newFeed(room, s, m.queueSize, m.policy)
	if err := room.AddSubscriber(f); err != nil {
		return err
	}
	go f.run()

	// A close that raced the registration already ran its reaction.
	if s.State().Terminal() {
		m.Unsubscribe(room, s)
	}
	return nil
}

// Unsubscribe is idempotent.
func (m *ConnManager) Unsubscribe(room *core.Room, s core.Session) bool {
	sub, ok := room.RemoveSubscriber(s.ID())
	if !ok {
		return false
	}
	sub.Stop()
	return true
}

// Broadcast hands chunk to every current subscriber without blocking.
// Subscribers the policy kicks are unsubscribed here and closed in the
// background.
func (m *ConnManager) Broadcast(room *core.Room, chunk core.Frame) PublishResult {
	res := PublishResult{}
	for _, sub := range room.Subscribers() {
		if !sub.Offer(chunk) {
			res.Dropped = append(res.Dropped, sub.Session())
			continue
		}
		res.SendTo++
	}
	for _, slow := range res.Dropped {
		log.Warn().Str("module", "app.fanout").Str("room", string(room.ID())).Str("sid", string(slow.ID())).Msg("subscriber queue full, kicking")
		m.Unsubscribe(room, slow)
		go func(s core.Session) { _ = s.Close() }(slow)
	}
	return res
}

type feed struct {
	room   *core.Room
	sess   core.Session
	queue  chan core.Frame
	policy Policy

	quit     chan struct{}
	stopOnce sync.Once
}

func newFeed(room *core.Room, s core.Session, size int, policy Policy) *feed {
	return &feed{
		room:   room,
		sess:   s,
		queue:  make(chan core.Frame, size),
		policy: policy,
		quit:   make(chan struct{}),
	}
}

func (f *feed) Session() core.Session { return f.sess }

func (f *feed) Offer(chunk core.Frame) bool {
	select {
	case <-f.quit:
		return true
	default:
	}
	select {
	case f.queue <- chunk:
		return true
	default:
	}

	switch f.policy.OnBackPressure(f.room, f.sess) {
	case DropOldest:
		select {
		case <-f.queue:
		default:
		}
		select {
		case f.queue <- chunk:
		default:
			// the worker is the only other party and only ever frees room
		}
		return true
	default:
		return false
	}
}

func (f *feed) Stop() {
	f.stopOnce.Do(func() { close(f.quit) })
}

func (f *feed) run() {
	for {
		select {
		case <-f.quit:
			return
		case chunk := <-f.queue:
			if err := f.sess.Send(chunk); err != nil {
				log.Warn().Err(err).Str("module", "app.fanout").Str("room", string(f.room.ID())).Str("sid", string(f.sess.ID())).Msg("send failed, closing subscriber")
				_ = f.sess.Close()
				return
			}
		}
	}
}
