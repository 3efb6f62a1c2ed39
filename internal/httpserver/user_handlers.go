package httpserver

import (
	"net/http"

	"dmchat/internal/service"
)

func handleListOnlineUsers(userSvc *service.UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string][]int64{"onlineUsers": userSvc.ListOnline()})
	}
}
