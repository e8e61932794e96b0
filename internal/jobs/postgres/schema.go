// Package postgres provides a PostgreSQL-backed [jobs.Store] and a step
// library that keeps every accepted step with its embedding for
// nearest-neighbour search across finished jobs.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536, postgres.WithEmbedder(emb))
//	if err != nil { … }
//	defer store.Close()
//
//	mgr := jobs.NewManager(store, factory, base)
//	orch := pipeline.New(cfg, gen, pipeline.WithFinalizers(store))
//	hits, _ := store.SearchSteps(ctx, "create a storage account", 5)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Jobs DDL
// ─────────────────────────────────────────────────────────────────────────────

const ddlJobs = `
CREATE TABLE IF NOT EXISTS jobs (
    id           TEXT         PRIMARY KEY,
    status       TEXT         NOT NULL,
    progress     JSONB        NOT NULL DEFAULT '{}',
    error        TEXT         NOT NULL DEFAULT '',
    result       JSONB,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    finished_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs (created_at);
`

// ─────────────────────────────────────────────────────────────────────────────
// Step library DDL
// ─────────────────────────────────────────────────────────────────────────────

// ddlSteps returns the step library DDL with the embedding dimension
// substituted. The dimension is fixed at schema creation time.
func ddlSteps(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS job_steps (
    job_id       TEXT              NOT NULL,
    step_index   INTEGER           NOT NULL,
    title        TEXT              NOT NULL,
    text         TEXT              NOT NULL,
    excerpt      TEXT              NOT NULL DEFAULT '',
    sentence_id  INTEGER           NOT NULL DEFAULT -1,
    confidence   DOUBLE PRECISION  NOT NULL,
    label        TEXT              NOT NULL DEFAULT '',
    embedding    vector(%d),
    created_at   TIMESTAMPTZ       NOT NULL DEFAULT now(),
    PRIMARY KEY (job_id, step_index)
);

CREATE INDEX IF NOT EXISTS idx_job_steps_embedding
    ON job_steps USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates the jobs and job_steps tables if they do not exist. It is
// idempotent and safe to call on every start.
//
// embeddingDimensions must match the embeddings provider. Changing it after
// the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres migrate: embedding dimensions must be positive, got %d", embeddingDimensions)
	}
	for _, stmt := range []string{ddlJobs, ddlSteps(embeddingDimensions)} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
