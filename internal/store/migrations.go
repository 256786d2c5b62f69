package store

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id               TEXT PRIMARY KEY,
		role             TEXT NOT NULL DEFAULT 'client',
		balance          BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		pending_earnings BIGINT NOT NULL DEFAULT 0 CHECK (pending_earnings >= 0),
		earnings         BIGINT NOT NULL DEFAULT 0 CHECK (earnings >= 0),
		chat_rate        BIGINT NOT NULL DEFAULT 0,
		voice_rate       BIGINT NOT NULL DEFAULT 0,
		video_rate       BIGINT NOT NULL DEFAULT 0,
		version          BIGINT NOT NULL DEFAULT 1,
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		room_id      TEXT PRIMARY KEY,
		reader_id    TEXT NOT NULL REFERENCES users(id),
		client_id    TEXT NOT NULL REFERENCES users(id),
		session_type TEXT NOT NULL,
		rate         BIGINT NOT NULL CHECK (rate > 0),
		state        TEXT NOT NULL,
		minutes      BIGINT NOT NULL DEFAULT 0,
		accumulated  BIGINT NOT NULL DEFAULT 0,
		created_at   TIMESTAMPTZ NOT NULL,
		connected_at TIMESTAMPTZ,
		last_tick_at TIMESTAMPTZ,
		ended_at     TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_live ON sessions (state)
		WHERE state IN ('pending', 'connecting', 'active')`,
	`CREATE TABLE IF NOT EXISTS session_logs (
		room_id         TEXT PRIMARY KEY REFERENCES sessions(room_id),
		reader_id       TEXT NOT NULL,
		client_id       TEXT NOT NULL,
		session_type    TEXT NOT NULL,
		duration        BIGINT NOT NULL,
		total_amount    BIGINT NOT NULL,
		reader_earned   BIGINT NOT NULL,
		platform_earned BIGINT NOT NULL,
		status          TEXT NOT NULL,
		end_reason      TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL,
		CHECK (reader_earned + platform_earned = total_amount)
	)`,
	`CREATE TABLE IF NOT EXISTS livestreams (
		id               TEXT PRIMARY KEY,
		reader_id        TEXT NOT NULL REFERENCES users(id),
		status           TEXT NOT NULL,
		started_at       TIMESTAMPTZ NOT NULL,
		scheduled_end_at TIMESTAMPTZ NOT NULL,
		ended_at         TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS gifts (
		id              TEXT PRIMARY KEY,
		sender_id       TEXT NOT NULL REFERENCES users(id),
		recipient_id    TEXT NOT NULL REFERENCES users(id),
		livestream_id   TEXT NOT NULL REFERENCES livestreams(id),
		amount          BIGINT NOT NULL CHECK (amount > 0),
		reader_amount   BIGINT NOT NULL DEFAULT 0,
		platform_amount BIGINT NOT NULL DEFAULT 0,
		processed       BOOLEAN NOT NULL DEFAULT FALSE,
		created_at      TIMESTAMPTZ NOT NULL,
		processed_at    TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_gifts_unprocessed ON gifts (created_at) WHERE processed = FALSE`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id            TEXT PRIMARY KEY,
		reference_id  TEXT NOT NULL,
		user_id       TEXT NOT NULL REFERENCES users(id),
		account       TEXT NOT NULL,
		entry_type    TEXT NOT NULL,
		amount        BIGINT NOT NULL,
		balance_after BIGINT NOT NULL,
		reason        TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_user ON ledger_entries (user_id, created_at DESC)`,
}

// Migrate applies the schema. Every statement is idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
