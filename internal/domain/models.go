package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Message is a single direct message between two users.
type Message struct {
	ID         string    `json:"id" bson:"_id"`
	SenderID   int64     `json:"senderId" bson:"sender_id"`
	ReceiverID int64     `json:"receiverId" bson:"receiver_id"`
	Text       *string   `json:"text,omitempty" bson:"text,omitempty"`
	ImageRef   *string   `json:"imageRef,omitempty" bson:"image_ref,omitempty"`
	Edited     bool      `json:"edited" bson:"edited"`
	CreatedAt  time.Time `json:"createdAt" bson:"created_at"`
}

// TextValue returns the message text or "" when absent.
func (m *Message) TextValue() string {
	if m.Text == nil {
		return ""
	}
	return *m.Text
}

// ImageRefValue returns the image reference or "" when absent.
func (m *Message) ImageRefValue() string {
	if m.ImageRef == nil {
		return ""
	}
	return *m.ImageRef
}

// Involves reports whether userID is one of the two participants.
func (m *Message) Involves(userID int64) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// Clone returns a deep copy so callers can't alias store-owned pointers.
func (m *Message) Clone() *Message {
	c := *m
	if m.Text != nil {
		t := *m.Text
		c.Text = &t
	}
	if m.ImageRef != nil {
		r := *m.ImageRef
		c.ImageRef = &r
	}
	return &c
}

// PairKey is the order-independent key of a two-party conversation.
type PairKey struct {
	Low  int64
	High int64
}

// NewPairKey normalizes {a, b} so that Low <= High.
func NewPairKey(a, b int64) PairKey {
	if a > b {
		a, b = b, a
	}
	return PairKey{Low: a, High: b}
}

func (k PairKey) String() string {
	return fmt.Sprintf("%d:%d", k.Low, k.High)
}

// ConversationSummary describes one peer a user has exchanged messages with.
type ConversationSummary struct {
	PeerID        int64     `json:"peerId"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	MessageCount  int       `json:"messageCount"`
}

// SortSummaries orders summaries most recent first, then by peer id.
func SortSummaries(s []ConversationSummary) {
	sort.Slice(s, func(i, j int) bool {
		if !s[i].LastMessageAt.Equal(s[j].LastMessageAt) {
			return s[i].LastMessageAt.After(s[j].LastMessageAt)
		}
		return s[i].PeerID < s[j].PeerID
	})
}

// OptionalString converts "" (after trimming) into nil.
func OptionalString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
