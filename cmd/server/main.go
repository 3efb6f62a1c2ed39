package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mama165/sdk-go/logs"

	"dmchat/internal/config"
	"dmchat/internal/httpserver"
	"dmchat/internal/security"
	"dmchat/internal/service"
	"dmchat/internal/store"
	"dmchat/internal/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logs.GetLoggerFromString(cfg.LoggerLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	st, err := store.Open(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to open message store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("Failed to close message store", "error", err)
		}
	}()

	// Security components
	tokenSvc := security.NewTokenService(cfg.JWTSecret, time.Duration(cfg.AccessTokenMinutes)*time.Minute)

	opts := []service.Option{service.WithMaxLength(cfg.MaxMessageLength)}
	if cfg.EncryptKey != "" {
		encryptor, err := security.NewEncryptor([]byte(cfg.EncryptKey), cfg.LegacyKeys())
		if err != nil {
			log.Error("Failed to initialize encryptor", "error", err)
			os.Exit(1)
		}
		opts = append(opts, service.WithCipher(encryptor))
	}

	// Real-time delivery and services
	hub := ws.NewHub(log)
	msgSvc := service.NewMessageService(st.Messages, hub, log, opts...)
	userSvc := service.NewUserService(hub)

	// Build HTTP router
	router := httpserver.NewRouter(httpserver.Deps{
		Config:   cfg,
		Hub:      hub,
		Tokens:   tokenSvc,
		Messages: msgSvc,
		Users:    userSvc,
		Store:    st.Messages,
		Log:      log,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting server", "app", cfg.AppName, "env", cfg.Env, "addr", cfg.HTTPAddr(), "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error("Server error", "error", err)
	}

	log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", "error", err)
	}
}
