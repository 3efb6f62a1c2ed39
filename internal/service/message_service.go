package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"dmchat/internal/domain"
)

const DefaultMaxMessageLength = 5000

// Notifier delivers real-time events to a user's live connections.
// Implementations must not block and never report delivery failures.
type Notifier interface {
	Deliver(userID int64, ev domain.Event)
}

// TextCipher seals message text before it reaches the store.
type TextCipher interface {
	Encrypt(plain string) (string, error)
	Decrypt(enc string) (string, error)
}

type MessageService struct {
	messages  domain.MessageStore
	notifier  Notifier
	cipher    TextCipher
	log       *slog.Logger
	maxLength int
}

type Option func(*MessageService)

// WithCipher enables at-rest encryption of message text.
func WithCipher(c TextCipher) Option {
	return func(s *MessageService) { s.cipher = c }
}

// WithMaxLength caps text length in runes.
func WithMaxLength(n int) Option {
	return func(s *MessageService) {
		if n > 0 {
			s.maxLength = n
		}
	}
}

func NewMessageService(messages domain.MessageStore, notifier Notifier, log *slog.Logger, opts ...Option) *MessageService {
	s := &MessageService{
		messages:  messages,
		notifier:  notifier,
		log:       log,
		maxLength: DefaultMaxMessageLength,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type SendInput struct {
	ReceiverID int64
	Text       string
	ImageRef   string
}

// Send stores a new message from callerID and pushes message-created to the receiver.
func (s *MessageService) Send(ctx context.Context, callerID int64, in SendInput) (*domain.Message, error) {
	if err := validateParties(callerID, in.ReceiverID); err != nil {
		return nil, err
	}
	text := domain.OptionalString(in.Text)
	imageRef := domain.OptionalString(in.ImageRef)
	if text == nil && imageRef == nil {
		return nil, fmt.Errorf("%w: message needs text or an image", domain.ErrValidation)
	}
	if text != nil {
		if err := s.checkLength(*text); err != nil {
			return nil, err
		}
	}

	msg := &domain.Message{
		SenderID:   callerID,
		ReceiverID: in.ReceiverID,
		Text:       text,
		ImageRef:   imageRef,
	}
	stored := msg.Clone()
	if stored.Text != nil {
		sealed, err := s.seal(*stored.Text)
		if err != nil {
			return nil, err
		}
		stored.Text = &sealed
	}
	if err := s.messages.Create(ctx, stored); err != nil {
		return nil, persistence("create message", err)
	}
	msg.ID = stored.ID
	msg.CreatedAt = stored.CreatedAt
	msg.Edited = false

	s.notifier.Deliver(msg.ReceiverID, domain.MessageCreated(msg.Clone()))
	return msg, nil
}

// FetchHistory returns every message between callerID and otherUserID, oldest first.
func (s *MessageService) FetchHistory(ctx context.Context, callerID, otherUserID int64) ([]*domain.Message, error) {
	if err := validateParties(callerID, otherUserID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByPair(ctx, callerID, otherUserID)
	if err != nil {
		return nil, persistence("list messages", err)
	}
	for _, m := range msgs {
		s.open(m)
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}
	return msgs, nil
}

// Edit replaces the text of a message the caller sent and pushes message-updated to the receiver.
func (s *MessageService) Edit(ctx context.Context, callerID int64, messageID, newText string) (*domain.Message, error) {
	if callerID <= 0 {
		return nil, fmt.Errorf("%w: invalid caller id", domain.ErrValidation)
	}
	if strings.TrimSpace(newText) == "" {
		return nil, fmt.Errorf("%w: text must not be blank", domain.ErrValidation)
	}
	if err := s.checkLength(newText); err != nil {
		return nil, err
	}

	if _, err := s.authorize(ctx, callerID, messageID); err != nil {
		return nil, err
	}

	sealed, err := s.seal(newText)
	if err != nil {
		return nil, err
	}
	updated, err := s.messages.UpdateText(ctx, messageID, sealed)
	if err != nil {
		return nil, persistence("update message", err)
	}
	s.open(updated)

	s.notifier.Deliver(updated.ReceiverID, domain.MessageUpdated(updated.Clone()))
	return updated, nil
}

// Delete removes a message the caller sent and pushes message-deleted to the receiver.
func (s *MessageService) Delete(ctx context.Context, callerID int64, messageID string) error {
	if callerID <= 0 {
		return fmt.Errorf("%w: invalid caller id", domain.ErrValidation)
	}
	msg, err := s.authorize(ctx, callerID, messageID)
	if err != nil {
		return err
	}
	if err := s.messages.DeleteByID(ctx, messageID); err != nil {
		return persistence("delete message", err)
	}

	s.notifier.Deliver(msg.ReceiverID, domain.MessageDeleted(messageID))
	return nil
}

// Conversations lists the peers callerID has exchanged messages with, most recent first.
func (s *MessageService) Conversations(ctx context.Context, callerID int64) ([]domain.ConversationSummary, error) {
	if callerID <= 0 {
		return nil, fmt.Errorf("%w: invalid caller id", domain.ErrValidation)
	}
	res, err := s.messages.ListConversations(ctx, callerID)
	if err != nil {
		return nil, persistence("list conversations", err)
	}
	if res == nil {
		res = []domain.ConversationSummary{}
	}
	return res, nil
}

// authorize loads the message and checks the caller sent it.
func (s *MessageService) authorize(ctx context.Context, callerID int64, messageID string) (*domain.Message, error) {
	if strings.TrimSpace(messageID) == "" {
		return nil, fmt.Errorf("%w: message id is required", domain.ErrValidation)
	}
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, persistence("get message", err)
	}
	if msg.SenderID != callerID {
		return nil, fmt.Errorf("%w: only the sender can change message %s", domain.ErrForbidden, messageID)
	}
	return msg, nil
}

func (s *MessageService) checkLength(text string) error {
	if n := utf8.RuneCountInString(text); n > s.maxLength {
		return fmt.Errorf("%w: message content exceeds %d characters", domain.ErrValidation, s.maxLength)
	}
	return nil
}

func (s *MessageService) seal(text string) (string, error) {
	if s.cipher == nil {
		return text, nil
	}
	sealed, err := s.cipher.Encrypt(text)
	if err != nil {
		return "", fmt.Errorf("encrypt content: %w", err)
	}
	return sealed, nil
}

// open decrypts m.Text in place. Text that does not decrypt is returned
// as stored, which covers rows written before encryption was enabled.
func (s *MessageService) open(m *domain.Message) {
	if s.cipher == nil || m.Text == nil {
		return
	}
	plain, err := s.cipher.Decrypt(*m.Text)
	if err != nil {
		s.log.Debug("Message text not decrypted", "message_id", m.ID, "error", err)
		return
	}
	m.Text = &plain
}

func validateParties(callerID, otherID int64) error {
	if callerID <= 0 || otherID <= 0 {
		return fmt.Errorf("%w: user ids must be positive", domain.ErrValidation)
	}
	if callerID == otherID {
		return fmt.Errorf("%w: sender and receiver must differ", domain.ErrValidation)
	}
	return nil
}

// persistence passes ErrNotFound through and tags every other store failure.
func persistence(op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
}
