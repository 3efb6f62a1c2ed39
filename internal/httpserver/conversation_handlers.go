package httpserver

import (
	"log/slog"
	"net/http"

	"dmchat/internal/service"
)

func handleListConversations(msgSvc *service.MessageService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callerID, ok := CurrentUserID(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}

		convs, err := msgSvc.Conversations(r.Context(), callerID)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, convs)
	}
}
