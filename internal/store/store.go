// Package store opens the message store selected by configuration.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"dmchat/internal/config"
	"dmchat/internal/domain"
	"dmchat/internal/store/badger"
	"dmchat/internal/store/memory"
	"dmchat/internal/store/mongodb"
	"dmchat/internal/store/postgres"
	"dmchat/internal/store/sqlite"
)

// Messages is a MessageStore that can also report its health.
type Messages interface {
	domain.MessageStore
	domain.Pinger
}

// Handle owns an opened store and whatever must be released with it.
type Handle struct {
	Messages Messages
	closers  []func() error
}

func (h *Handle) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open connects to the driver named by cfg.StoreDriver and prepares its schema.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Handle, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.SQLiteDSN)
		if err != nil {
			return nil, err
		}
		if err := sqlite.Migrate(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return &Handle{Messages: sqlite.NewMessageRepo(db), closers: []func() error{db.Close}}, nil

	case config.DriverPostgres:
		db, err := postgres.Open(cfg.PostgresURL())
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return &Handle{Messages: postgres.NewMessageRepo(db), closers: []func() error{db.Close}}, nil

	case config.DriverBadger:
		db, err := badger.Open(cfg.BadgerPath)
		if err != nil {
			return nil, err
		}
		repo, err := badger.NewMessageRepo(db, log)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return &Handle{Messages: repo, closers: []func() error{db.Close, repo.Close}}, nil

	case config.DriverMongo:
		client, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		repo := mongodb.NewMessageRepo(client.Database)
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = client.Close(context.Background())
			return nil, err
		}
		return &Handle{Messages: repo, closers: []func() error{
			func() error { return client.Close(context.Background()) },
		}}, nil

	case config.DriverMemory:
		log.Warn("Using the in-memory store; messages are lost on restart")
		return &Handle{Messages: memory.NewMessageRepo()}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
