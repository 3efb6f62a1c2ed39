package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"dmchat/internal/domain"
	"dmchat/internal/service"
)

var validate = validator.New()

type sendMessageRequest struct {
	Text     string `json:"text" validate:"required_without=ImageRef"`
	ImageRef string `json:"imageRef" validate:"required_without=Text"`
}

type editMessageRequest struct {
	Text string `json:"text" validate:"required"`
}

func handleSendMessage(msgSvc *service.MessageService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callerID, ok := CurrentUserID(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		receiverID, err := userIDParam(r)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		var req sendMessageRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}

		msg, err := msgSvc.Send(r.Context(), callerID, service.SendInput{
			ReceiverID: receiverID,
			Text:       req.Text,
			ImageRef:   req.ImageRef,
		})
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

func handleFetchHistory(msgSvc *service.MessageService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callerID, ok := CurrentUserID(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		otherID, err := userIDParam(r)
		if err != nil {
			writeError(w, r, log, err)
			return
		}

		msgs, err := msgSvc.FetchHistory(r.Context(), callerID, otherID)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func handleEditMessage(msgSvc *service.MessageService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callerID, ok := CurrentUserID(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		var req editMessageRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, log, err)
			return
		}

		msg, err := msgSvc.Edit(r.Context(), callerID, chi.URLParam(r, "messageID"), req.Text)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

func handleDeleteMessage(msgSvc *service.MessageService, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callerID, ok := CurrentUserID(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}

		messageID := chi.URLParam(r, "messageID")
		if err := msgSvc.Delete(r.Context(), callerID, messageID); err != nil {
			writeError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"messageId": messageID})
	}
}

func userIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid user id", domain.ErrValidation)
	}
	return id, nil
}

func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body", domain.ErrValidation)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: field %s failed %s", domain.ErrValidation, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}
