package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dmchat/internal/domain"
)

const messageColumns = `id, sender_id, receiver_id, text, image_ref, edited, created_at`

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageStore = (*MessageRepo)(nil)

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	id := uuid.NewString()
	createdAt := time.Now().UTC()
	key := domain.NewPairKey(m.SenderID, m.ReceiverID)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, sender_id, receiver_id, pair_low, pair_high, text, image_ref, edited, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
	`, id, m.SenderID, m.ReceiverID, key.Low, key.High, m.Text, m.ImageRef, createdAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	m.ID = id
	m.CreatedAt = createdAt
	m.Edited = false
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
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
		WHERE pair_low = ? AND pair_high = ?
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
	row := r.db.QueryRowContext(ctx, `
		UPDATE messages SET text = ?, edited = 1 WHERE id = ?
		RETURNING `+messageColumns, text, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) DeleteByID(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
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
		SELECT CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END AS peer,
		       MAX(created_at), COUNT(*)
		FROM messages
		WHERE sender_id = ? OR receiver_id = ?
		GROUP BY peer
	`, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var res []domain.ConversationSummary
	for rows.Next() {
		var (
			s    domain.ConversationSummary
			last int64
		)
		if err := rows.Scan(&s.PeerID, &last, &s.MessageCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		s.LastMessageAt = time.Unix(0, last).UTC()
		res = append(res, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	domain.SortSummaries(res)
	return res, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (*domain.Message, error) {
	var (
		m         domain.Message
		text      sql.NullString
		imageRef  sql.NullString
		createdAt int64
	)
	if err := s.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &text, &imageRef, &m.Edited, &createdAt); err != nil {
		return nil, err
	}
	if text.Valid {
		m.Text = &text.String
	}
	if imageRef.Valid {
		m.ImageRef = &imageRef.String
	}
	m.CreatedAt = time.Unix(0, createdAt).UTC()
	return &m, nil
}
