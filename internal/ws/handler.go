package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"dmchat/internal/domain"
	"dmchat/internal/service"
)

// TokenVerifier resolves a bearer token to the user id it was issued for.
type TokenVerifier interface {
	UserID(token string) (int64, error)
}

// MessageLifecycle is the subset of the message service reachable over the socket.
type MessageLifecycle interface {
	Send(ctx context.Context, callerID int64, in service.SendInput) (*domain.Message, error)
	Edit(ctx context.Context, callerID int64, messageID, newText string) (*domain.Message, error)
	Delete(ctx context.Context, callerID int64, messageID string) error
}

type HandlerConfig struct {
	AllowedOrigins []string
	SendBuffer     int
}

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

// inboundFrame is a request written by the client.
type inboundFrame struct {
	Type       string `json:"type" validate:"required,oneof=send_message edit_message delete_message"`
	ReceiverID int64  `json:"receiverId"`
	MessageID  string `json:"messageId"`
	Text       string `json:"text"`
	ImageRef   string `json:"imageRef"`
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

// makeCheckOrigin accepts listed browser origins, or any origin when "*" is
// listed. Requests without an Origin header come from non-browser clients and
// are accepted; they still need a valid token.
func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	_, allowAll := allowed["*"]

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" || allowAll {
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

// extractTokenFromWSRequest looks at the Authorization header, then the
// "bearer, <token>" subprotocol pair browsers can set, then ?token=.
func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			token := parts[1]
			if token != "" {
				return token, nil
			}
		}
	}

	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token, nil
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// MakeHandler returns the HTTP handler for the /ws endpoint. After the
// upgrade the session is registered with the hub; frames are handled in order:
//   - send_message   -> service Send, ack with the stored message
//   - edit_message   -> service Edit, ack with the updated message
//   - delete_message -> service Delete, ack with the message id
//
// Failures are answered with an error frame and the session stays open.
func MakeHandler(
	hub *Hub,
	tokens TokenVerifier,
	messages MessageLifecycle,
	cfg HandlerConfig,
	log *slog.Logger,
) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(cfg.AllowedOrigins)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
		Subprotocols: []string{
			"bearer",
		},
	}
	validate := validator.New()

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr, err := extractTokenFromWSRequest(r)
		if err != nil {
			var authErr wsAuthError
			if errors.As(err, &authErr) {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		userID, err := tokens.UserID(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug("Websocket upgrade failed", "user_id", userID, "error", err)
			return
		}

		client := newClient(userID, conn, cfg.SendBuffer)
		go client.writePump()
		hub.OnConnect(userID, client)
		log.Debug("Websocket connected", "user_id", userID, "connection_id", client.ID())

		defer func() {
			hub.OnDisconnect(userID, client)
			client.close()
			log.Debug("Websocket disconnected", "user_id", userID, "connection_id", client.ID())
		}()

		ctx := r.Context()
		conn.SetReadLimit(maxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn("Websocket read failed", "user_id", userID, "error", err)
				}
				return
			}

			var frame inboundFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				sendError(client, log, "", "malformed frame")
				continue
			}
			if err := validate.Struct(frame); err != nil {
				sendError(client, log, frame.Type, "unknown or missing frame type")
				continue
			}
			handleFrame(ctx, client, messages, frame, log)
		}
	}
}

func handleFrame(ctx context.Context, client *Client, messages MessageLifecycle, frame inboundFrame, log *slog.Logger) {
	userID := client.UserID()

	switch frame.Type {
	case "send_message":
		msg, err := messages.Send(ctx, userID, service.SendInput{
			ReceiverID: frame.ReceiverID,
			Text:       frame.Text,
			ImageRef:   frame.ImageRef,
		})
		if err != nil {
			replyFailure(client, log, frame.Type, err)
			return
		}
		reply(client, log, domain.Event{Type: domain.EventAck, Request: frame.Type, Message: msg})

	case "edit_message":
		msg, err := messages.Edit(ctx, userID, frame.MessageID, frame.Text)
		if err != nil {
			replyFailure(client, log, frame.Type, err)
			return
		}
		reply(client, log, domain.Event{Type: domain.EventAck, Request: frame.Type, Message: msg})

	case "delete_message":
		if err := messages.Delete(ctx, userID, frame.MessageID); err != nil {
			replyFailure(client, log, frame.Type, err)
			return
		}
		reply(client, log, domain.Event{Type: domain.EventAck, Request: frame.Type, MessageID: frame.MessageID})
	}
}

// replyFailure hides persistence detail from the client the same way the HTTP layer does.
func replyFailure(client *Client, log *slog.Logger, request string, err error) {
	msg := err.Error()
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrNotFound):
	default:
		log.Error("Websocket request failed", "user_id", client.UserID(), "request", request, "error", err)
		msg = "internal error"
	}
	sendError(client, log, request, msg)
}

func sendError(client *Client, log *slog.Logger, request, msg string) {
	reply(client, log, domain.Event{Type: domain.EventError, Request: request, Error: msg})
}

func reply(client *Client, log *slog.Logger, ev domain.Event) {
	if err := client.Send(ev); err != nil {
		log.Warn("Failed to reply on websocket", "user_id", client.UserID(), "connection_id", client.ID(), "error", err)
	}
}
