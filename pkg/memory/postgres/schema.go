// Package postgres provides a PostgreSQL-backed implementation of the Parley
// persistence interfaces: one transcript record per session (segments and
// chat log as JSONB) plus the session access policies.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	agg, _ := store.LoadTranscript(ctx, sessionID)
//	_ = store.AppendChat(ctx, sessionID, msg)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS session_transcripts (
    session_id      TEXT              PRIMARY KEY,
    segments        JSONB             NOT NULL DEFAULT '[]',
    full_text       TEXT              NOT NULL DEFAULT '',
    total_words     INTEGER           NOT NULL DEFAULT 0,
    speaker_count   INTEGER           NOT NULL DEFAULT 0,
    avg_confidence  DOUBLE PRECISION  NOT NULL DEFAULT 0,
    chat_messages   JSONB             NOT NULL DEFAULT '[]',
    updated_at      TIMESTAMPTZ       NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_session_transcripts_fts
    ON session_transcripts USING GIN (to_tsvector('english', full_text));
`

const ddlPolicies = `
CREATE TABLE IF NOT EXISTS session_policies (
    session_id  TEXT         PRIMARY KEY,
    host_id     TEXT         NOT NULL DEFAULT '',
    public      BOOLEAN      NOT NULL DEFAULT false,
    invited     TEXT[]       NOT NULL DEFAULT '{}',
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Migrate creates all required tables and indexes. It is idempotent and safe
// to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlTranscripts, ddlPolicies} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
