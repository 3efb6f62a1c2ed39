package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations for the message schema on PostgreSQL.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			seq         BIGSERIAL   PRIMARY KEY,
			id          UUID        NOT NULL UNIQUE,
			sender_id   BIGINT      NOT NULL,
			receiver_id BIGINT      NOT NULL,
			pair_low    BIGINT      NOT NULL,
			pair_high   BIGINT      NOT NULL,
			text        TEXT,
			image_ref   TEXT,
			edited      BOOLEAN     NOT NULL DEFAULT FALSE,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT messages_distinct_parties CHECK (sender_id <> receiver_id),
			CONSTRAINT messages_has_content CHECK (text IS NOT NULL OR image_ref IS NOT NULL)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(pair_low, pair_high, created_at, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver_id)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}

func (r *MessageRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
