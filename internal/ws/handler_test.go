package ws_test

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmchat/internal/domain"
	"dmchat/internal/security"
	"dmchat/internal/service"
	"dmchat/internal/store/memory"
	"dmchat/internal/ws"
)

type testServer struct {
	url    string
	tokens *security.TokenService
	hub    *ws.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	hub := ws.NewHub(log)
	tokens := security.NewTokenService("test-secret", time.Hour)
	svc := service.NewMessageService(memory.NewMessageRepo(), hub, log)

	srv := httptest.NewServer(ws.MakeHandler(hub, tokens, svc, ws.HandlerConfig{
		AllowedOrigins: []string{"http://localhost:5173"},
		SendBuffer:     16,
	}, log))
	t.Cleanup(srv.Close)

	return &testServer{
		url:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		tokens: tokens,
		hub:    hub,
	}
}

func (s *testServer) dial(t *testing.T, userID int64) *websocket.Conn {
	t.Helper()
	token, err := s.tokens.CreateForUser(userID)
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial(s.url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// next reads frames until one of the given kind arrives.
func next(t *testing.T, conn *websocket.Conn, kind domain.EventKind) domain.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var ev domain.Event
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == kind {
			return ev
		}
	}
}

func waitOnline(t *testing.T, hub *ws.Hub, ids ...int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		online := hub.OnlineUsers()
		for _, id := range ids {
			if !lo.Contains(online, id) {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_RejectsMissingOrBadToken(t *testing.T) {
	s := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(s.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{}
	header.Set("Authorization", "Bearer not-a-jwt")
	_, resp, err = websocket.DefaultDialer.Dial(s.url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	s := newTestServer(t)
	token, err := s.tokens.CreateForUser(1)
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(s.url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandler_TokenInSubprotocolAndQuery(t *testing.T) {
	s := newTestServer(t)
	token, err := s.tokens.CreateForUser(5)
	require.NoError(t, err)

	dialer := websocket.Dialer{Subprotocols: []string{"bearer", token}}
	conn, _, err := dialer.Dial(s.url, nil)
	require.NoError(t, err)
	assert.Equal(t, "bearer", conn.Subprotocol())
	_ = conn.Close()

	conn, _, err = websocket.DefaultDialer.Dial(s.url+"?token="+token, nil)
	require.NoError(t, err)
	_ = conn.Close()
}

func TestHandler_MessageLifecycleOverSocket(t *testing.T) {
	s := newTestServer(t)
	alice := s.dial(t, 1)
	bob := s.dial(t, 2)
	waitOnline(t, s.hub, 1, 2)

	// send
	require.NoError(t, alice.WriteJSON(map[string]any{"type": "send_message", "receiverId": 2, "text": "hi"}))
	ack := next(t, alice, domain.EventAck)
	require.NotNil(t, ack.Message)
	assert.Equal(t, "send_message", ack.Request)

	created := next(t, bob, domain.EventMessageCreated)
	require.NotNil(t, created.Message)
	assert.Equal(t, ack.Message.ID, created.Message.ID)
	assert.Equal(t, int64(1), created.Message.SenderID)
	assert.Equal(t, int64(2), created.Message.ReceiverID)
	assert.Equal(t, "hi", created.Message.TextValue())
	assert.False(t, created.Message.Edited)

	// edit
	require.NoError(t, alice.WriteJSON(map[string]any{"type": "edit_message", "messageId": ack.Message.ID, "text": "hi there"}))
	next(t, alice, domain.EventAck)
	updated := next(t, bob, domain.EventMessageUpdated)
	assert.True(t, updated.Message.Edited)
	assert.Equal(t, "hi there", updated.Message.TextValue())

	// bob may not edit alice's message
	require.NoError(t, bob.WriteJSON(map[string]any{"type": "edit_message", "messageId": ack.Message.ID, "text": "nope"}))
	failed := next(t, bob, domain.EventError)
	assert.Equal(t, "edit_message", failed.Request)
	assert.Contains(t, failed.Error, domain.ErrForbidden.Error())

	// delete
	require.NoError(t, alice.WriteJSON(map[string]any{"type": "delete_message", "messageId": ack.Message.ID}))
	next(t, alice, domain.EventAck)
	deleted := next(t, bob, domain.EventMessageDeleted)
	assert.Equal(t, ack.Message.ID, deleted.MessageID)
}

func TestHandler_BadFramesKeepSessionOpen(t *testing.T) {
	s := newTestServer(t)
	conn := s.dial(t, 1)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, "malformed frame", next(t, conn, domain.EventError).Error)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "typing"}))
	next(t, conn, domain.EventError)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "send_message", "receiverId": 1, "text": "me"}))
	ev := next(t, conn, domain.EventError)
	assert.Contains(t, ev.Error, domain.ErrValidation.Error())
}

func TestHandler_DisconnectGoesOffline(t *testing.T) {
	s := newTestServer(t)
	alice := s.dial(t, 1)
	bob := s.dial(t, 2)
	waitOnline(t, s.hub, 1, 2)

	// alice first learns that bob is online
	for !lo.Contains(next(t, alice, domain.EventPresence).OnlineUsers, 2) {
	}

	require.NoError(t, bob.Close())

	require.Eventually(t, func() bool {
		return !lo.Contains(s.hub.OnlineUsers(), 2)
	}, 2*time.Second, 10*time.Millisecond)

	// then that he left
	ev := next(t, alice, domain.EventPresence)
	assert.Equal(t, []int64{1}, ev.OnlineUsers)
}
