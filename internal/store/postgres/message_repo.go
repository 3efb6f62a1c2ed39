package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"dmchat/internal/domain"
)

const messageColumns = `id::text, sender_id, receiver_id, text, image_ref, edited, created_at`

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageStore = (*MessageRepo)(nil)

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	key := domain.NewPairKey(m.SenderID, m.ReceiverID)
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, sender_id, receiver_id, pair_low, pair_high, text, image_ref, edited, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, NOW())
		RETURNING id::text, created_at
	`, uuid.NewString(), m.SenderID, m.ReceiverID, key.Low, key.High, m.Text, m.ImageRef,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.Edited = false
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	if _, err := uuid.Parse(id); err != nil {
		// not a uuid, so no row can match; avoids a cast error from the server
		return nil, domain.ErrNotFound
	}
	m, err := scanMessage(r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) ListByPair(ctx context.Context, a, b int64) ([]*domain.Message, error) {
	key := domain.NewPairKey(a, b)
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE pair_low = $1 AND pair_high = $2
		ORDER BY created_at ASC, seq ASC
	`, key.Low, key.High)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var res []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r *MessageRepo) UpdateText(ctx context.Context, id, text string) (*domain.Message, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	m, err := scanMessage(r.db.QueryRowContext(ctx, `
		UPDATE messages SET text = $1, edited = TRUE WHERE id = $2
		RETURNING `+messageColumns, text, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrNotFound
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MessageRepo) ListConversations(ctx context.Context, userID int64) ([]domain.ConversationSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END AS peer,
		       MAX(created_at) AS last_at, COUNT(*)
		FROM messages
		WHERE sender_id = $1 OR receiver_id = $1
		GROUP BY peer
		ORDER BY last_at DESC, peer ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var res []domain.ConversationSummary
	for rows.Next() {
		var s domain.ConversationSummary
		if err := rows.Scan(&s.PeerID, &s.LastMessageAt, &s.MessageCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		s.LastMessageAt = s.LastMessageAt.UTC()
		res = append(res, s)
	}
	return res, rows.Err()
}

// ── helpers ──────────────────────────────────────────────────────────────────

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (*domain.Message, error) {
	m := &domain.Message{}
	if err := s.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &m.ImageRef, &m.Edited, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}
