package app

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsight/broker/internal/core"
	"github.com/stemsight/broker/internal/core/coretest"
)

type nopRecorder struct{}

func (nopRecorder) Prepare(string) error   { return nil }
func (nopRecorder) Write(core.Frame) error { return nil }
func (nopRecorder) Finalize()              {}

// publishingRoom returns a room with a raw publisher and a reactor that
// unsubscribes sessions on terminal states, as the broker does.
func publishingRoom(t *testing.T, m *ConnManager) (*core.Room, core.Reactor) {
	t.Helper()
	room := core.NewRoom("room")
	pub := coretest.NewSession(core.RolePublisher, core.KindRawStream, nil)
	require.NoError(t, room.AttachPublisher(pub, nopRecorder{}))
	reactor := core.ReactorFunc(func(s core.Session, st core.ConnState) {
		if st.Terminal() {
			m.Unsubscribe(room, s)
		}
	})
	return room, reactor
}

func frames(n int) []core.Frame {
	out := make([]core.Frame, n)
	for i := range out {
		out[i] = core.Frame{byte(i + 1)}
	}
	return out
}

func TestBroadcastPreservesOrderPerSubscriber(t *testing.T) {
	m := NewConnManager(16, SimplePolicy{})
	room, reactor := publishingRoom(t, m)

	subs := make([]*coretest.Session, 3)
	for i := range subs {
		subs[i] = coretest.NewSession(core.RoleSubscriber, core.KindRawStream, reactor)
		require.NoError(t, m.Subscribe(room, subs[i]))
	}

	chunks := frames(3)
	for _, c := range chunks {
		res := m.Broadcast(room, c)
		assert.Equal(t, 3, res.SendTo)
	}
	for _, s := range subs {
		require.True(t, s.WaitFrames(3, time.Second))
		assert.Equal(t, chunks, s.Frames())
	}
}

func TestBlockedSubscriberDoesNotStallOthers(t *testing.T) {
	m := NewConnManager(64, SimplePolicy{})
	room, reactor := publishingRoom(t, m)

	stuck := coretest.NewBlocked(core.RoleSubscriber, core.KindRawStream, reactor)
	fast := coretest.NewSession(core.RoleSubscriber, core.KindRawStream, reactor)
	require.NoError(t, m.Subscribe(room, stuck))
	require.NoError(t, m.Subscribe(room, fast))

	chunks := frames(10)
	done := make(chan struct{})
	go func() {
		for _, c := range chunks {
			m.Broadcast(room, c)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a stuck subscriber")
	}
	require.True(t, fast.WaitFrames(10, time.Second))
	assert.Equal(t, chunks, fast.Frames())
	assert.Empty(t, stuck.Frames())
	stuck.Unblock()
}

func TestKickPolicyRemovesSlowSubscriber(t *testing.T) {
	m := NewConnManager(1, SimplePolicy{})
	room, reactor := publishingRoom(t, m)

	slow := coretest.NewBlocked(core.RoleSubscriber, core.KindRawStream, reactor)
	other := coretest.NewSession(core.RoleSubscriber, core.KindRawStream, reactor)
	require.NoError(t, m.Subscribe(room, slow))
	require.NoError(t, m.Subscribe(room, other))

	var dropped []core.Session
	for i, c := range frames(4) {
		dropped = append(dropped, m.Broadcast(room, c).Dropped...)
		require.True(t, other.WaitFrames(i+1, time.Second))
	}
	require.NotEmpty(t, dropped)
	assert.Equal(t, slow.ID(), dropped[0].ID())

	select {
	case <-slow.Done():
	case <-time.After(time.Second):
		t.Fatal("slow subscriber was not closed")
	}
	assert.Equal(t, 1, room.SubscriberCount())
	assert.Equal(t, other.ID(), room.Subscribers()[0].Session().ID())
}

func TestDropOldestKeepsNewestInOrder(t *testing.T) {
	m := NewConnManager(2, LossyPolicy{})
	room, reactor := publishingRoom(t, m)

	slow := coretest.NewBlocked(core.RoleSubscriber, core.KindRawStream, reactor)
	require.NoError(t, m.Subscribe(room, slow))

	chunks := frames(5)
	for _, c := range chunks {
		res := m.Broadcast(room, c)
		assert.Empty(t, res.Dropped)
	}
	slow.Unblock()

	require.Eventually(t, func() bool {
		got := slow.Frames()
		return len(got) > 0 && got[len(got)-1][0] == chunks[4][0]
	}, time.Second, 5*time.Millisecond)
	got := slow.Frames()
	assert.LessOrEqual(t, len(got), 3)
	assert.Equal(t, chunks[4], got[len(got)-1])
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1][0], got[i][0])
	}
	assert.Equal(t, 1, room.SubscriberCount())
}

func TestSendErrorClosesOnlyThatSubscriber(t *testing.T) {
	m := NewConnManager(8, SimplePolicy{})
	room, reactor := publishingRoom(t, m)

	broken := coretest.NewSession(core.RoleSubscriber, core.KindRawStream, reactor)
	broken.FailSends(errors.New("write: broken pipe"))
	healthy := coretest.NewSession(core.RoleSubscriber, core.KindRawStream, reactor)
	require.NoError(t, m.Subscribe(room, broken))
	require.NoError(t, m.Subscribe(room, healthy))

	m.Broadcast(room, core.Frame("a"))
	<-broken.Done()
	m.Broadcast(room, core.Frame("b"))

	require.True(t, healthy.WaitFrames(2, time.Second))
	assert.Equal(t, 1, room.SubscriberCount())
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	m := NewConnManager(8, SimplePolicy{})
	room, _ := publishingRoom(t, m)
	s := coretest.NewSession(core.RoleSubscriber, core.KindRawStream, nil)
	require.NoError(t, m.Subscribe(room, s))

	assert.True(t, m.Unsubscribe(room, s))
	assert.False(t, m.Unsubscribe(room, s))
	assert.Zero(t, room.SubscriberCount())
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("drop_oldest")
	require.NoError(t, err)
	assert.IsType(t, LossyPolicy{}, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.IsType(t, SimplePolicy{}, p)

	_, err = ParsePolicy("bogus")
	assert.Error(t, err)
}
