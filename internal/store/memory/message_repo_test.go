package memory_test

import (
	"testing"

	"dmchat/internal/domain"
	"dmchat/internal/store/memory"
	"dmchat/internal/store/storetest"
)

func TestMessageRepo(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.MessageStore {
		return memory.NewMessageRepo()
	})
}
