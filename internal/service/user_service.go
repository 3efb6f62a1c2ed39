package service

import "github.com/samber/lo"

// PresenceSource reports which users currently hold a live connection.
type PresenceSource interface {
	OnlineUsers() []int64
}

// UserService provides user-related operations. Accounts live with the
// external identity provider; only presence is known here.
type UserService struct {
	presence PresenceSource
}

func NewUserService(presence PresenceSource) *UserService {
	return &UserService{presence: presence}
}

// ListOnline returns the ids of online users in ascending order.
func (s *UserService) ListOnline() []int64 {
	ids := s.presence.OnlineUsers()
	if ids == nil {
		return []int64{}
	}
	return ids
}

// IsOnline reports whether userID has at least one live connection.
func (s *UserService) IsOnline(userID int64) bool {
	return lo.Contains(s.presence.OnlineUsers(), userID)
}
