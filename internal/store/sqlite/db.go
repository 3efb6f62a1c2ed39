package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens a SQLite database with the given DSN.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers anyway; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	pragmas := []string{
		`PRAGMA foreign_keys = ON;`,
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA busy_timeout = 5000;`,
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return db, nil
}

// Migrate creates the schema. Every statement is idempotent.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			id          TEXT    NOT NULL UNIQUE,
			sender_id   INTEGER NOT NULL,
			receiver_id INTEGER NOT NULL,
			pair_low    INTEGER NOT NULL,
			pair_high   INTEGER NOT NULL,
			text        TEXT    DEFAULT NULL,
			image_ref   TEXT    DEFAULT NULL,
			edited      BOOLEAN NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL,
			CHECK (sender_id <> receiver_id),
			CHECK (text IS NOT NULL OR image_ref IS NOT NULL)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(pair_low, pair_high, created_at, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *MessageRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
