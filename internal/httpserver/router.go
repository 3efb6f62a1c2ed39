package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"dmchat/internal/config"
	"dmchat/internal/domain"
	"dmchat/internal/security"
	"dmchat/internal/service"
	"dmchat/internal/ws"
)

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Config   *config.Config
	Hub      *ws.Hub
	Tokens   *security.TokenService
	Messages *service.MessageService
	Users    *service.UserService
	Store    domain.Pinger
	Log      *slog.Logger
}

// NewRouter constructs the main HTTP router and wires routes, services, and middleware.
func NewRouter(d Deps) http.Handler {
	cfg := d.Config
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": cfg.AppName + " API", "version": "1.0.0"})
	})

	r.Get("/health", handleHealth(d.Store, d.Log))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		// Uploaded files are served without auth; names are random UUIDs.
		r.Get("/uploads/{filename}", handleServeUpload(cfg))

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(d.Tokens, d.Log))

			// Users
			r.Get("/users/online", handleListOnlineUsers(d.Users))

			// Messages
			r.Route("/messages", func(r chi.Router) {
				r.Get("/conversations", handleListConversations(d.Messages, d.Log))
				r.Get("/{userID}", handleFetchHistory(d.Messages, d.Log))
				r.Post("/send/{userID}", handleSendMessage(d.Messages, d.Log))
				r.Put("/{messageID}", handleEditMessage(d.Messages, d.Log))
				r.Delete("/{messageID}", handleDeleteMessage(d.Messages, d.Log))
			})

			r.Post("/uploads", handleUpload(cfg, d.Log))
		})
	})

	// WebSocket endpoint, outside the request timeout
	r.Get("/ws", ws.MakeHandler(d.Hub, d.Tokens, d.Messages, ws.HandlerConfig{
		AllowedOrigins: cfg.CORSOrigins,
		SendBuffer:     cfg.WSSendBuffer,
	}, d.Log))

	return r
}

func handleHealth(store domain.Pinger, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if store != nil {
			if err := store.Ping(ctx); err != nil {
				log.Error("Store health check failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
