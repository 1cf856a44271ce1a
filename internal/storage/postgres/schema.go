// Package postgres provides the PostgreSQL storage used by replica: a turn
// log and a pgvector index over FAQ questions.
//
// Both share a single [pgxpool.Pool]. The pgvector extension must be
// available in the target database; [NewStore] installs it with CREATE
// EXTENSION IF NOT EXISTS before the pool is opened.
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Turns().Record(ctx, rec)
//	_ = store.FAQ().Load(ctx, "test_bot", entries, provider)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTurns = `
CREATE TABLE IF NOT EXISTS turns (
    id           TEXT         PRIMARY KEY,
    persona_id   TEXT         NOT NULL,
    user_id      TEXT         NOT NULL,
    text         TEXT         NOT NULL,
    anchor       TEXT         NOT NULL DEFAULT '',
    stage        TEXT         NOT NULL,
    replies      TEXT[]       NOT NULL DEFAULT '{}',
    at           TIMESTAMPTZ  NOT NULL DEFAULT now(),
    duration_ns  BIGINT       NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_turns_user_at
    ON turns (user_id, at DESC);
`

// ddlFAQ returns the FAQ DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at schema creation time.
func ddlFAQ(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS faq_entries (
    id          BIGSERIAL    PRIMARY KEY,
    persona_id  TEXT         NOT NULL,
    position    INTEGER      NOT NULL,
    question    TEXT         NOT NULL,
    answer      TEXT         NOT NULL,
    embedding   vector(%d)   NOT NULL,
    UNIQUE (persona_id, position)
);

CREATE INDEX IF NOT EXISTS idx_faq_entries_embedding
    ON faq_entries USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates all required tables and indexes. It is idempotent and safe
// to call on every start. The vector extension must already exist.
//
// embeddingDimensions must match the embedding model. Changing it after the
// first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	for _, stmt := range []string{ddlTurns, ddlFAQ(embeddingDimensions)} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
