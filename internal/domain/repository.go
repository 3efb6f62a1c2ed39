package domain

import (
	"context"
)

// MessageStore defines persistence operations for messages.
// Every operation is atomic for a single record; none spans records.
type MessageStore interface {
	// Create assigns ID and CreatedAt and persists m.
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)
	// ListByPair returns the whole thread between a and b, oldest first.
	ListByPair(ctx context.Context, a, b int64) ([]*Message, error)
	// UpdateText sets text and edited=true and returns the updated record.
	UpdateText(ctx context.Context, id, text string) (*Message, error)
	DeleteByID(ctx context.Context, id string) error
	// ListConversations returns one summary per peer, most recent first.
	ListConversations(ctx context.Context, userID int64) ([]ConversationSummary, error)
}

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}
