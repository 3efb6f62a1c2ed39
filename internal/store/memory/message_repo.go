// Package memory keeps messages in process memory. It backs tests and
// single-node development runs; nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"dmchat/internal/domain"
)

type MessageRepo struct {
	mu     sync.RWMutex
	seq    int64
	byID   map[string]*entry
	byPair map[domain.PairKey][]*entry
	now    func() time.Time
}

type entry struct {
	seq int64
	msg *domain.Message
}

func NewMessageRepo() *MessageRepo {
	return &MessageRepo{
		byID:   make(map[string]*entry),
		byPair: make(map[domain.PairKey][]*entry),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

var _ domain.MessageStore = (*MessageRepo)(nil)

func (r *MessageRepo) Create(_ context.Context, m *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	m.ID = uuid.NewString()
	m.CreatedAt = r.now()
	e := &entry{seq: r.seq, msg: m.Clone()}
	r.byID[m.ID] = e
	key := domain.NewPairKey(m.SenderID, m.ReceiverID)
	r.byPair[key] = append(r.byPair[key], e)
	return nil
}

func (r *MessageRepo) GetByID(_ context.Context, id string) (*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return e.msg.Clone(), nil
}

func (r *MessageRepo) ListByPair(_ context.Context, a, b int64) ([]*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.byPair[domain.NewPairKey(a, b)]
	res := lo.Map(entries, func(e *entry, _ int) *domain.Message { return e.msg.Clone() })
	// appends already follow seq order; the sort keeps createdAt authoritative
	sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (r *MessageRepo) UpdateText(_ context.Context, id, text string) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	e.msg.Text = &text
	e.msg.Edited = true
	return e.msg.Clone(), nil
}

func (r *MessageRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	delete(r.byID, id)
	key := domain.NewPairKey(e.msg.SenderID, e.msg.ReceiverID)
	r.byPair[key] = lo.Reject(r.byPair[key], func(x *entry, _ int) bool { return x == e })
	if len(r.byPair[key]) == 0 {
		delete(r.byPair, key)
	}
	return nil
}

func (r *MessageRepo) ListConversations(_ context.Context, userID int64) ([]domain.ConversationSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []domain.ConversationSummary
	for key, entries := range r.byPair {
		var peer int64
		switch userID {
		case key.Low:
			peer = key.High
		case key.High:
			peer = key.Low
		default:
			continue
		}
		last := lo.MaxBy(entries, func(a, b *entry) bool { return a.msg.CreatedAt.After(b.msg.CreatedAt) })
		res = append(res, domain.ConversationSummary{
			PeerID:        peer,
			LastMessageAt: last.msg.CreatedAt,
			MessageCount:  len(entries),
		})
	}
	domain.SortSummaries(res)
	return res, nil
}

func (r *MessageRepo) Ping(context.Context) error { return nil }
