package httpserver_test

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmchat/internal/config"
	"dmchat/internal/domain"
	"dmchat/internal/httpserver"
	"dmchat/internal/security"
	"dmchat/internal/service"
	"dmchat/internal/store/memory"
	"dmchat/internal/ws"
)

type apiFixture struct {
	handler http.Handler
	tokens  *security.TokenService
	store   *memory.MessageRepo
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	cfg := &config.Config{
		AppName:          "dmchat",
		UploadDir:        t.TempDir(),
		MaxUploadBytes:   1 << 20,
		MaxMessageLength: 20,
		WSSendBuffer:     16,
		CORSOrigins:      []string{"http://localhost:5173"},
	}
	store := memory.NewMessageRepo()
	hub := ws.NewHub(log)
	tokens := security.NewTokenService("test-secret", time.Hour)
	msgs := service.NewMessageService(store, hub, log, service.WithMaxLength(cfg.MaxMessageLength))

	return &apiFixture{
		handler: httpserver.NewRouter(httpserver.Deps{
			Config:   cfg,
			Hub:      hub,
			Tokens:   tokens,
			Messages: msgs,
			Users:    service.NewUserService(hub),
			Store:    store,
			Log:      log,
		}),
		tokens: tokens,
		store:  store,
	}
}

func (a *apiFixture) do(t *testing.T, userID int64, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID > 0 {
		token, err := a.tokens.CreateForUser(userID)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	api := newAPI(t)

	rec := api.do(t, 0, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestAuthRequired(t *testing.T) {
	api := newAPI(t)

	rec := api.do(t, 0, http.MethodGet, "/api/messages/2", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/messages/2", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMessageEndpoints(t *testing.T) {
	api := newAPI(t)

	// send
	rec := api.do(t, 1, http.MethodPost, "/api/messages/send/2", map[string]string{"text": "hi"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sent := decode[domain.Message](t, rec)
	assert.NotEmpty(t, sent.ID)
	assert.Equal(t, int64(1), sent.SenderID)
	assert.Equal(t, int64(2), sent.ReceiverID)
	assert.False(t, sent.Edited)

	// the receiver sees it
	rec = api.do(t, 2, http.MethodGet, "/api/messages/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]domain.Message](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, "hi", history[0].TextValue())

	// receiver may not edit
	rec = api.do(t, 2, http.MethodPut, "/api/messages/"+sent.ID, map[string]string{"text": "mine now"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// blank edit
	rec = api.do(t, 1, http.MethodPut, "/api/messages/"+sent.ID, map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// sender edits
	rec = api.do(t, 1, http.MethodPut, "/api/messages/"+sent.ID, map[string]string{"text": "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	edited := decode[domain.Message](t, rec)
	assert.Equal(t, "hello", edited.TextValue())
	assert.True(t, edited.Edited)

	// conversations
	rec = api.do(t, 2, http.MethodGet, "/api/messages/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	convs := decode[[]domain.ConversationSummary](t, rec)
	require.Len(t, convs, 1)
	assert.Equal(t, int64(1), convs[0].PeerID)
	assert.Equal(t, 1, convs[0].MessageCount)

	// delete, then it is gone
	rec = api.do(t, 1, http.MethodDelete, "/api/messages/"+sent.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(t, 1, http.MethodDelete, "/api/messages/"+sent.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = api.do(t, 1, http.MethodPut, "/api/messages/"+sent.ID, map[string]string{"text": "again"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, 1, http.MethodGet, "/api/messages/2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestSendValidation(t *testing.T) {
	api := newAPI(t)

	cases := []struct {
		name string
		path string
		body any
	}{
		{"empty body", "/api/messages/send/2", map[string]string{}},
		{"self", "/api/messages/send/1", map[string]string{"text": "me"}},
		{"bad id", "/api/messages/send/abc", map[string]string{"text": "x"}},
		{"zero id", "/api/messages/send/0", map[string]string{"text": "x"}},
		{"too long", "/api/messages/send/2", map[string]string{"text": strings.Repeat("x", 21)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := api.do(t, 1, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/messages/send/2", strings.NewReader("{"))
	token, err := api.tokens.CreateForUser(1)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOnlineUsersEmpty(t *testing.T) {
	api := newAPI(t)

	rec := api.do(t, 1, http.MethodGet, "/api/users/online", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"onlineUsers":[]}`, rec.Body.String())
}

func multipartFile(t *testing.T, name string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestUploadImageThenSend(t *testing.T) {
	api := newAPI(t)
	token, err := api.tokens.CreateForUser(1)
	require.NoError(t, err)

	// upload
	body, contentType := multipartFile(t, "cat.txt", pngBytes(t))
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	uploaded := decode[map[string]any](t, rec)
	imageRef, _ := uploaded["imageRef"].(string)
	require.True(t, strings.HasPrefix(imageRef, "/api/uploads/"))
	assert.True(t, strings.HasSuffix(imageRef, ".png"))
	assert.Equal(t, "image/png", uploaded["mimeType"])

	// served back without auth
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, imageRef, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pngBytes(t), rec.Body.Bytes())

	// image-only message
	rec = api.do(t, 1, http.MethodPost, "/api/messages/send/2", map[string]string{"imageRef": imageRef})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	msg := decode[domain.Message](t, rec)
	assert.Nil(t, msg.Text)
	assert.Equal(t, imageRef, msg.ImageRefValue())
}

func TestUploadRejectsNonImage(t *testing.T) {
	api := newAPI(t)
	token, err := api.tokens.CreateForUser(1)
	require.NoError(t, err)

	body, contentType := multipartFile(t, "fake.png", []byte("#!/bin/sh\necho hi\n"))
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestServeUploadRejectsTraversal(t *testing.T) {
	api := newAPI(t)

	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/uploads/..%2Fsecret", nil))
	assert.NotEqual(t, http.StatusOK, rec.Code)
}
