package ws

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"dmchat/internal/domain"
)

// Connection is a live, addressable handle to one client session.
type Connection interface {
	ID() string
	Send(ev domain.Event) error
}

// Registry maps user ids to their live connections.
// Each user has its own entry and lock; there is no registry-wide lock.
type Registry struct {
	users sync.Map // int64 -> *presence
}

type presence struct {
	mu    sync.Mutex
	conns map[string]Connection
	// dead is set once the entry has been emptied and unlinked from the map.
	dead bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds conn to the user's set. It reports whether the user was
// offline before this call. Registering the same connection twice is a no-op.
func (r *Registry) Register(userID int64, conn Connection) (cameOnline bool) {
	for {
		v, _ := r.users.LoadOrStore(userID, &presence{conns: make(map[string]Connection)})
		p := v.(*presence)

		p.mu.Lock()
		if p.dead {
			// lost a race with the last Unregister; the entry is gone from the map
			p.mu.Unlock()
			continue
		}
		first := len(p.conns) == 0
		p.conns[conn.ID()] = conn
		p.mu.Unlock()
		return first
	}
}

// Unregister removes conn from the user's set and drops the entry once it is
// empty. It reports whether the user went offline. Unknown connections are ignored.
func (r *Registry) Unregister(userID int64, conn Connection) (wentOffline bool) {
	v, ok := r.users.Load(userID)
	if !ok {
		return false
	}
	p := v.(*presence)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead {
		return false
	}
	if _, ok := p.conns[conn.ID()]; !ok {
		return false
	}
	delete(p.conns, conn.ID())
	if len(p.conns) > 0 {
		return false
	}
	p.dead = true
	r.users.CompareAndDelete(userID, p)
	return true
}

// Lookup returns the user's live connections, or an empty slice when offline.
func (r *Registry) Lookup(userID int64) []Connection {
	v, ok := r.users.Load(userID)
	if !ok {
		return []Connection{}
	}
	p := v.(*presence)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead {
		return []Connection{}
	}
	conns := lo.Values(p.conns)
	sort.Slice(conns, func(i, j int) bool { return conns[i].ID() < conns[j].ID() })
	return conns
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID int64) bool {
	return len(r.Lookup(userID)) > 0
}

// OnlineUsers returns a sorted snapshot of users with at least one connection.
func (r *Registry) OnlineUsers() []int64 {
	var ids []int64
	r.users.Range(func(key, value any) bool {
		p := value.(*presence)
		p.mu.Lock()
		live := !p.dead && len(p.conns) > 0
		p.mu.Unlock()
		if live {
			ids = append(ids, key.(int64))
		}
		return true
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if ids == nil {
		ids = []int64{}
	}
	return ids
}
