package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/stepforge/internal/jobs"
	"github.com/MrWong99/stepforge/internal/pipeline"
)

// ErrNoEmbedder is returned by [Store.SearchSteps] when the store has no
// embeddings provider.
var ErrNoEmbedder = errors.New("postgres store: no embeddings provider configured")

// Finalize implements [pipeline.Finalizer]. It upserts the accepted steps of
// res into the step library. Steps are embedded in one batch; if embedding
// fails or the vector length does not match the column, they are stored
// without embeddings and stay invisible to search.
func (s *Store) Finalize(ctx context.Context, res *pipeline.Result) error {
	if len(res.Steps) == 0 {
		return nil
	}

	vecs := s.embedSteps(ctx, res)

	const q = `
		INSERT INTO job_steps
		    (job_id, step_index, title, text, excerpt, sentence_id, confidence, label, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (job_id, step_index) DO UPDATE SET
		    title       = EXCLUDED.title,
		    text        = EXCLUDED.text,
		    excerpt     = EXCLUDED.excerpt,
		    sentence_id = EXCLUDED.sentence_id,
		    confidence  = EXCLUDED.confidence,
		    label       = EXCLUDED.label,
		    embedding   = EXCLUDED.embedding`

	batch := &pgx.Batch{}
	for i, st := range res.Steps {
		var emb *pgvector.Vector
		if vecs != nil {
			v := pgvector.NewVector(vecs[i])
			emb = &v
		}
		batch.Queue(q,
			res.JobID, st.StepIndex, st.Step.Title, st.Step.Text,
			st.Source.Excerpt, st.Source.SentenceID, st.Source.Confidence, st.Label, emb,
		)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: finalize %q: begin: %w", res.JobID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres store: finalize %q: insert steps: %w", res.JobID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: finalize %q: commit: %w", res.JobID, err)
	}

	slog.Debug("step library updated", "job_id", res.JobID, "steps", len(res.Steps), "embedded", vecs != nil)
	return nil
}

// embedSteps returns one vector per accepted step, or nil when the steps
// cannot be embedded.
func (s *Store) embedSteps(ctx context.Context, res *pipeline.Result) [][]float32 {
	if s.embedder == nil {
		return nil
	}
	texts := make([]string, len(res.Steps))
	for i, st := range res.Steps {
		texts[i] = st.Step.Text
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		slog.Warn("step library: embedding failed, storing steps without vectors", "job_id", res.JobID, "err", err)
		return nil
	}
	for _, v := range vecs {
		if len(v) != s.dims {
			slog.Warn("step library: embedding dimension mismatch, storing steps without vectors",
				"job_id", res.JobID, "got", len(v), "want", s.dims)
			return nil
		}
	}
	return vecs
}

// SearchSteps implements [jobs.StepSearcher]. It embeds query and returns the
// k nearest accepted steps.
func (s *Store) SearchSteps(ctx context.Context, query string, k int) ([]jobs.StepHit, error) {
	if s.embedder == nil {
		return nil, ErrNoEmbedder
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search: embed query: %w", err)
	}
	return s.NearestSteps(ctx, vec, k)
}

// NearestSteps returns the k accepted steps whose embeddings are closest to
// vec by cosine distance, most similar first.
func (s *Store) NearestSteps(ctx context.Context, vec []float32, k int) ([]jobs.StepHit, error) {
	const q = `
		SELECT job_id, step_index, title, text, excerpt, confidence,
		       embedding <=> $1 AS distance
		FROM   job_steps
		WHERE  embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("postgres store: nearest steps: %w", err)
	}
	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (jobs.StepHit, error) {
		var h jobs.StepHit
		err := row.Scan(&h.JobID, &h.StepIndex, &h.Title, &h.Text, &h.Excerpt, &h.Confidence, &h.Distance)
		return h, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: nearest steps: scan rows: %w", err)
	}
	if hits == nil {
		hits = []jobs.StepHit{}
	}
	return hits, nil
}
