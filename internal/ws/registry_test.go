package ws_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmchat/internal/domain"
	"dmchat/internal/ws"
)

// fakeConn records events; failWith makes every Send fail.
type fakeConn struct {
	id       string
	failWith error

	mu     sync.Mutex
	events []domain.Event
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ev domain.Event) error {
	if c.failWith != nil {
		return c.failWith
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) received() []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Event(nil), c.events...)
}

func (c *fakeConn) receivedOf(kind domain.EventKind) []domain.Event {
	var res []domain.Event
	for _, ev := range c.received() {
		if ev.Type == kind {
			res = append(res, ev)
		}
	}
	return res
}

func TestRegistry_Transitions(t *testing.T) {
	r := ws.NewRegistry()
	c1, c2 := newFakeConn("c1"), newFakeConn("c2")

	assert.True(t, r.Register(1, c1), "first connection brings the user online")
	assert.False(t, r.Register(1, c1), "re-registering is a no-op")
	assert.False(t, r.Register(1, c2))
	assert.Len(t, r.Lookup(1), 2)
	assert.True(t, r.IsOnline(1))

	assert.False(t, r.Unregister(1, c1))
	assert.Len(t, r.Lookup(1), 1)
	assert.True(t, r.Unregister(1, c2), "last connection takes the user offline")
	assert.False(t, r.Unregister(1, c2), "unknown connection is ignored")

	assert.NotNil(t, r.Lookup(1))
	assert.Empty(t, r.Lookup(1))
	assert.False(t, r.IsOnline(1))
	assert.Empty(t, r.OnlineUsers())
}

func TestRegistry_UnregisterUnknownUser(t *testing.T) {
	r := ws.NewRegistry()

	assert.False(t, r.Unregister(9, newFakeConn("x")))
	assert.Empty(t, r.OnlineUsers())
}

func TestRegistry_OnlineUsersSorted(t *testing.T) {
	r := ws.NewRegistry()
	r.Register(3, newFakeConn("a"))
	r.Register(1, newFakeConn("b"))
	r.Register(2, newFakeConn("c"))

	first := r.OnlineUsers()
	assert.Equal(t, []int64{1, 2, 3}, first)
	assert.Equal(t, first, r.OnlineUsers())
}

func TestRegistry_ConcurrentChurn(t *testing.T) {
	r := ws.NewRegistry()
	const workers = 32
	const rounds = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			conn := newFakeConn(fmt.Sprintf("conn-%d", w))
			for i := 0; i < rounds; i++ {
				r.Register(1, conn)
				r.Unregister(1, conn)
			}
		}(w)
	}
	wg.Wait()

	assert.Empty(t, r.Lookup(1))
	assert.Empty(t, r.OnlineUsers())

	// Registration must still work after the entry was recycled many times.
	keep := newFakeConn("keep")
	require.True(t, r.Register(1, keep))
	assert.Equal(t, []int64{1}, r.OnlineUsers())
}

func TestRegistry_ConcurrentRegisterKeepsEveryConnection(t *testing.T) {
	r := ws.NewRegistry()
	const n = 64

	var wg sync.WaitGroup
	var mu sync.Mutex
	onlineEdges := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if r.Register(7, newFakeConn(fmt.Sprintf("c%d", i))) {
				mu.Lock()
				onlineEdges++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, onlineEdges)
	assert.Len(t, r.Lookup(7), n)
}

var errBroken = errors.New("broken pipe")
