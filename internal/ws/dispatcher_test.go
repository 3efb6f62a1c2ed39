package ws_test

import (
	"log/slog"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmchat/internal/domain"
	"dmchat/internal/ws"
)

func TestDispatcher_Deliver(t *testing.T) {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	t.Run("every connection of the user gets the event once", func(t *testing.T) {
		r := ws.NewRegistry()
		d := ws.NewDispatcher(r, log)
		c1, c2, other := newFakeConn("c1"), newFakeConn("c2"), newFakeConn("o")
		r.Register(2, c1)
		r.Register(2, c2)
		r.Register(3, other)

		text := "hi"
		d.Deliver(2, domain.MessageCreated(&domain.Message{ID: "m1", SenderID: 1, ReceiverID: 2, Text: &text}))

		for _, c := range []*fakeConn{c1, c2} {
			got := c.received()
			require.Len(t, got, 1)
			assert.Equal(t, domain.EventMessageCreated, got[0].Type)
			assert.Equal(t, "m1", got[0].Message.ID)
		}
		assert.Empty(t, other.received())
	})

	t.Run("offline user is a silent no-op", func(t *testing.T) {
		d := ws.NewDispatcher(ws.NewRegistry(), log)

		assert.NotPanics(t, func() { d.Deliver(42, domain.MessageDeleted("m1")) })
	})

	t.Run("a failing connection does not stop the others", func(t *testing.T) {
		r := ws.NewRegistry()
		d := ws.NewDispatcher(r, log)
		bad, good := newFakeConn("a-bad"), newFakeConn("b-good")
		bad.failWith = errBroken
		r.Register(2, bad)
		r.Register(2, good)

		d.Deliver(2, domain.MessageDeleted("m1"))

		got := good.received()
		require.Len(t, got, 1)
		assert.Equal(t, "m1", got[0].MessageID)
	})
}

func TestDispatcher_Broadcast(t *testing.T) {
	r := ws.NewRegistry()
	d := ws.NewDispatcher(r, logs.GetLoggerFromLevel(slog.LevelDebug))
	a, b := newFakeConn("a"), newFakeConn("b")
	r.Register(1, a)
	r.Register(2, b)

	d.Broadcast(domain.Presence([]int64{1, 2}))

	assert.Len(t, a.received(), 1)
	assert.Len(t, b.received(), 1)
}

func TestHub_PresenceEdges(t *testing.T) {
	h := ws.NewHub(logs.GetLoggerFromLevel(slog.LevelDebug))
	a := newFakeConn("a")
	b1, b2 := newFakeConn("b1"), newFakeConn("b2")

	// A comes online alone
	h.OnConnect(1, a)
	require.Len(t, a.receivedOf(domain.EventPresence), 1)
	assert.Equal(t, []int64{1}, a.receivedOf(domain.EventPresence)[0].OnlineUsers)

	// B comes online: both get the new list
	h.OnConnect(2, b1)
	presence := a.receivedOf(domain.EventPresence)
	require.Len(t, presence, 2)
	assert.Equal(t, []int64{1, 2}, presence[1].OnlineUsers)
	assert.Len(t, b1.receivedOf(domain.EventPresence), 1)

	// B opens a second tab: only that tab is told, nobody else
	h.OnConnect(2, b2)
	assert.Len(t, a.receivedOf(domain.EventPresence), 2)
	require.Len(t, b2.receivedOf(domain.EventPresence), 1)
	assert.Equal(t, []int64{1, 2}, b2.receivedOf(domain.EventPresence)[0].OnlineUsers)

	// closing one tab is not an offline edge
	h.OnDisconnect(2, b1)
	assert.Len(t, a.receivedOf(domain.EventPresence), 2)

	// closing the last one is
	h.OnDisconnect(2, b2)
	presence = a.receivedOf(domain.EventPresence)
	require.Len(t, presence, 3)
	assert.Equal(t, []int64{1}, presence[2].OnlineUsers)
	assert.Equal(t, []int64{1}, h.OnlineUsers())
}
