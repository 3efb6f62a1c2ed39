// Package badger stores messages in an embedded BadgerDB.
//
// Layout:
//
//	msg:{id}                                        -> JSON record
//	pair:{low}:{high}:{createdAt}:{seq}             -> id
//	user:{user}:{peer}:{createdAt}:{seq}            -> id   (written for both parties)
//
// Numbers are zero padded so lexicographic key order equals numeric order,
// which makes a prefix scan over pair:{low}:{high}: return the thread oldest first.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"dmchat/internal/domain"
)

const seqBandwidth = 100

type MessageRepo struct {
	db  *badger.DB
	seq *badger.Sequence
	log *slog.Logger
}

// record is the stored value; seq breaks createdAt ties in insertion order.
type record struct {
	Message domain.Message `json:"message"`
	Seq     uint64         `json:"seq"`
}

// Open opens (or creates) a Badger database at path. An empty path opens an in-memory database.
func Open(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return db, nil
}

func NewMessageRepo(db *badger.DB, log *slog.Logger) (*MessageRepo, error) {
	seq, err := db.GetSequence([]byte("seq:messages"), seqBandwidth)
	if err != nil {
		return nil, fmt.Errorf("message sequence: %w", err)
	}
	return &MessageRepo{db: db, seq: seq, log: log}, nil
}

var _ domain.MessageStore = (*MessageRepo)(nil)

// Close releases the leased sequence range. It does not close the database.
func (r *MessageRepo) Close() error {
	return r.seq.Release()
}

// update runs fn in a read-write transaction, rerunning it while Badger
// reports a conflict with a concurrent writer. The last commit wins.
func (r *MessageRepo) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for {
		err := r.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
}

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	n, err := r.seq.Next()
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}
	rec := record{Message: *m.Clone(), Seq: n}
	rec.Message.ID = uuid.NewString()
	rec.Message.CreatedAt = time.Now().UTC()
	rec.Message.Edited = false

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	err = r.update(ctx, func(txn *badger.Txn) error {
		if err := txn.Set(msgKey(rec.Message.ID), data); err != nil {
			return err
		}
		for _, k := range indexKeys(rec) {
			if err := txn.Set(k, []byte(rec.Message.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store message: %w", err)
	}
	m.ID = rec.Message.ID
	m.CreatedAt = rec.Message.CreatedAt
	m.Edited = false
	return nil
}

func (r *MessageRepo) GetByID(_ context.Context, id string) (*domain.Message, error) {
	var rec record
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &rec.Message, nil
}

func (r *MessageRepo) ListByPair(_ context.Context, a, b int64) ([]*domain.Message, error) {
	key := domain.NewPairKey(a, b)
	prefix := []byte(fmt.Sprintf("pair:%020d:%020d:", key.Low, key.High))

	var res []*domain.Message
	err := r.db.View(func(txn *badger.Txn) error {
		ids, err := collectIDs(txn, prefix)
		if err != nil {
			return err
		}
		for _, id := range ids {
			rec, err := getRecord(txn, id)
			if errors.Is(err, domain.ErrNotFound) {
				r.log.Warn("Dangling pair index entry", "pair", key.String(), "message_id", id)
				continue
			}
			if err != nil {
				return err
			}
			res = append(res, &rec.Message)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return res, nil
}

func (r *MessageRepo) UpdateText(ctx context.Context, id, text string) (*domain.Message, error) {
	var updated record
	err := r.update(ctx, func(txn *badger.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		rec.Message.Text = &text
		rec.Message.Edited = true
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		updated = rec
		return txn.Set(msgKey(id), data)
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	return &updated.Message, nil
}

func (r *MessageRepo) DeleteByID(ctx context.Context, id string) error {
	err := r.update(ctx, func(txn *badger.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(msgKey(id)); err != nil {
			return err
		}
		for _, k := range indexKeys(rec) {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (r *MessageRepo) ListConversations(_ context.Context, userID int64) ([]domain.ConversationSummary, error) {
	prefix := []byte(fmt.Sprintf("user:%020d:", userID))
	byPeer := make(map[int64]*domain.ConversationSummary)

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			// user:{user}:{peer}:{createdAt}:{seq}
			parts := strings.Split(string(it.Item().Key()), ":")
			if len(parts) != 5 {
				continue
			}
			peer, err := strconv.ParseInt(parts[2], 10, 64)
			if err != nil {
				return fmt.Errorf("parse peer in %q: %w", it.Item().Key(), err)
			}
			at, err := strconv.ParseInt(parts[3], 10, 64)
			if err != nil {
				return fmt.Errorf("parse timestamp in %q: %w", it.Item().Key(), err)
			}
			s, ok := byPeer[peer]
			if !ok {
				s = &domain.ConversationSummary{PeerID: peer}
				byPeer[peer] = s
			}
			s.MessageCount++
			if t := time.Unix(0, at).UTC(); t.After(s.LastMessageAt) {
				s.LastMessageAt = t
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	res := make([]domain.ConversationSummary, 0, len(byPeer))
	for _, s := range byPeer {
		res = append(res, *s)
	}
	domain.SortSummaries(res)
	return res, nil
}

func (r *MessageRepo) Ping(context.Context) error {
	if r.db.IsClosed() {
		return errors.New("badger: database is closed")
	}
	return nil
}

func msgKey(id string) []byte {
	return []byte("msg:" + id)
}

func indexKeys(rec record) [][]byte {
	m := rec.Message
	key := domain.NewPairKey(m.SenderID, m.ReceiverID)
	suffix := fmt.Sprintf("%019d:%020d", m.CreatedAt.UnixNano(), rec.Seq)
	return [][]byte{
		[]byte(fmt.Sprintf("pair:%020d:%020d:%s", key.Low, key.High, suffix)),
		[]byte(fmt.Sprintf("user:%020d:%020d:%s", m.SenderID, m.ReceiverID, suffix)),
		[]byte(fmt.Sprintf("user:%020d:%020d:%s", m.ReceiverID, m.SenderID, suffix)),
	}
}

func getRecord(txn *badger.Txn, id string) (record, error) {
	var rec record
	item, err := txn.Get(msgKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return rec, domain.ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	return rec, err
}

func collectIDs(txn *badger.Txn, prefix []byte) ([]string, error) {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	var ids []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		err := it.Item().Value(func(val []byte) error {
			ids = append(ids, string(val))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return ids, nil
}
