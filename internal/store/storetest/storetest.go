// Package storetest holds behaviour tests every domain.MessageStore must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmchat/internal/domain"
)

// Run exercises store against the shared MessageStore contract.
// newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) domain.MessageStore) {
	t.Run("create assigns id and timestamp", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		m := &domain.Message{SenderID: 1, ReceiverID: 2, Text: domain.OptionalString("hi")}
		require.NoError(t, s.Create(ctx, m))
		assert.NotEmpty(t, m.ID)
		assert.False(t, m.CreatedAt.IsZero())
		assert.False(t, m.Edited)

		got, err := s.GetByID(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, m.ID, got.ID)
		assert.Equal(t, int64(1), got.SenderID)
		assert.Equal(t, int64(2), got.ReceiverID)
		assert.Equal(t, "hi", got.TextValue())
		assert.Nil(t, got.ImageRef)
		assert.True(t, m.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("image only message keeps nil text", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		m := &domain.Message{SenderID: 1, ReceiverID: 2, ImageRef: domain.OptionalString("/api/uploads/a.png")}
		require.NoError(t, s.Create(ctx, m))

		got, err := s.GetByID(ctx, m.ID)
		require.NoError(t, err)
		assert.Nil(t, got.Text)
		assert.Equal(t, "/api/uploads/a.png", got.ImageRefValue())
	})

	t.Run("ids are unique", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		seen := map[string]bool{}
		for i := 0; i < 20; i++ {
			m := &domain.Message{SenderID: 1, ReceiverID: 2, Text: domain.OptionalString("x")}
			require.NoError(t, s.Create(ctx, m))
			require.False(t, seen[m.ID], "duplicate id %s", m.ID)
			seen[m.ID] = true
		}
	})

	t.Run("list by pair is symmetric and ordered", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		texts := []string{"one", "two", "three", "four"}
		for i, txt := range texts {
			sender, receiver := int64(1), int64(2)
			if i%2 == 1 {
				sender, receiver = 2, 1
			}
			require.NoError(t, s.Create(ctx, &domain.Message{SenderID: sender, ReceiverID: receiver, Text: domain.OptionalString(txt)}))
		}
		require.NoError(t, s.Create(ctx, &domain.Message{SenderID: 1, ReceiverID: 3, Text: domain.OptionalString("other")}))

		ab, err := s.ListByPair(ctx, 1, 2)
		require.NoError(t, err)
		ba, err := s.ListByPair(ctx, 2, 1)
		require.NoError(t, err)

		require.Len(t, ab, len(texts))
		require.Len(t, ba, len(texts))
		for i := range texts {
			assert.Equal(t, texts[i], ab[i].TextValue())
			assert.Equal(t, ab[i].ID, ba[i].ID)
			if i > 0 {
				assert.False(t, ab[i].CreatedAt.Before(ab[i-1].CreatedAt))
			}
		}
	})

	t.Run("list by pair with no messages is empty", func(t *testing.T) {
		s := newStore(t)

		got, err := s.ListByPair(context.Background(), 7, 8)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("update text marks edited", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		m := &domain.Message{SenderID: 1, ReceiverID: 2, Text: domain.OptionalString("draft")}
		require.NoError(t, s.Create(ctx, m))

		updated, err := s.UpdateText(ctx, m.ID, "final")
		require.NoError(t, err)
		assert.Equal(t, "final", updated.TextValue())
		assert.True(t, updated.Edited)
		assert.True(t, m.CreatedAt.Equal(updated.CreatedAt))

		got, err := s.GetByID(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, "final", got.TextValue())
		assert.True(t, got.Edited)
	})

	t.Run("missing ids report not found", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		const missing = "00000000-0000-0000-0000-000000000000"

		_, err := s.GetByID(ctx, missing)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = s.UpdateText(ctx, missing, "x")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.ErrorIs(t, s.DeleteByID(ctx, missing), domain.ErrNotFound)
	})

	t.Run("delete removes message from thread", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		keep := &domain.Message{SenderID: 1, ReceiverID: 2, Text: domain.OptionalString("keep")}
		drop := &domain.Message{SenderID: 2, ReceiverID: 1, Text: domain.OptionalString("drop")}
		require.NoError(t, s.Create(ctx, keep))
		require.NoError(t, s.Create(ctx, drop))

		require.NoError(t, s.DeleteByID(ctx, drop.ID))
		assert.ErrorIs(t, s.DeleteByID(ctx, drop.ID), domain.ErrNotFound)

		_, err := s.GetByID(ctx, drop.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		got, err := s.ListByPair(ctx, 1, 2)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, keep.ID, got[0].ID)
	})

	t.Run("conversations summarise each peer", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Create(ctx, &domain.Message{SenderID: 1, ReceiverID: 2, Text: domain.OptionalString("a")}))
		require.NoError(t, s.Create(ctx, &domain.Message{SenderID: 2, ReceiverID: 1, Text: domain.OptionalString("b")}))
		last := &domain.Message{SenderID: 3, ReceiverID: 1, Text: domain.OptionalString("c")}
		require.NoError(t, s.Create(ctx, last))
		require.NoError(t, s.Create(ctx, &domain.Message{SenderID: 2, ReceiverID: 3, Text: domain.OptionalString("not mine")}))

		got, err := s.ListConversations(ctx, 1)
		require.NoError(t, err)
		require.Len(t, got, 2)

		byPeer := map[int64]domain.ConversationSummary{}
		for _, c := range got {
			byPeer[c.PeerID] = c
		}
		assert.Equal(t, 2, byPeer[2].MessageCount)
		assert.Equal(t, 1, byPeer[3].MessageCount)
		assert.True(t, byPeer[3].LastMessageAt.Equal(last.CreatedAt))
		assert.False(t, got[0].LastMessageAt.Before(got[1].LastMessageAt))

		none, err := s.ListConversations(ctx, 99)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("concurrent creates are all stored", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const n = 16
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- s.Create(ctx, &domain.Message{SenderID: 1, ReceiverID: 2, Text: domain.OptionalString("x")})
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := s.ListByPair(ctx, 1, 2)
		require.NoError(t, err)
		assert.Len(t, got, n)
	})

	t.Run("concurrent edits of one message all succeed and the last write wins", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		m := &domain.Message{SenderID: 1, ReceiverID: 2, Text: domain.OptionalString("original")}
		require.NoError(t, s.Create(ctx, m))

		const n = 32
		texts := make([]string, n)
		for i := range texts {
			texts[i] = fmt.Sprintf("edit-%d", i)
		}
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for _, text := range texts {
			wg.Add(1)
			go func(text string) {
				defer wg.Done()
				_, err := s.UpdateText(ctx, m.ID, text)
				errs <- err
			}(text)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := s.GetByID(ctx, m.ID)
		require.NoError(t, err)
		assert.True(t, got.Edited)
		assert.Contains(t, texts, got.TextValue())
	})

	t.Run("edit racing a delete either succeeds or finds nothing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for round := 0; round < 10; round++ {
			m := &domain.Message{SenderID: 1, ReceiverID: 2, Text: domain.OptionalString("doomed")}
			require.NoError(t, s.Create(ctx, m))

			const editors = 8
			var wg sync.WaitGroup
			errs := make(chan error, editors+1)
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- s.DeleteByID(ctx, m.ID)
			}()
			for i := 0; i < editors; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.UpdateText(ctx, m.ID, "edited")
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil {
					require.ErrorIs(t, err, domain.ErrNotFound)
				}
			}

			_, err := s.GetByID(ctx, m.ID)
			require.ErrorIs(t, err, domain.ErrNotFound)
		}
	})
}
