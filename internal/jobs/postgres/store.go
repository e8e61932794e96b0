package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/stepforge/internal/jobs"
	"github.com/MrWong99/stepforge/internal/pipeline"
	"github.com/MrWong99/stepforge/pkg/provider/embeddings"
)

var (
	_ jobs.Store         = (*Store)(nil)
	_ jobs.StepSearcher  = (*Store)(nil)
	_ pipeline.Finalizer = (*Store)(nil)
)

// Option is a functional option for [NewStore].
type Option func(*Store)

// WithEmbedder sets the provider used to embed accepted steps and search
// queries. Without one, steps are stored without embeddings and
// [Store.SearchSteps] returns [ErrNoEmbedder].
func WithEmbedder(p embeddings.Provider) Option {
	return func(s *Store) { s.embedder = p }
}

// Store persists jobs and accepted steps in PostgreSQL. All methods are safe
// for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	dims     int
	embedder embeddings.Provider
}

// NewStore connects to the database at dsn, registers pgvector types on every
// connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string, embeddingDimensions int, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	s := &Store{pool: pool, dims: embeddingDimensions}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping implements [jobs.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// Create implements [jobs.Store].
func (s *Store) Create(ctx context.Context, job jobs.Job) error {
	progress, result, err := encodeJob(job)
	if err != nil {
		return fmt.Errorf("postgres store: create %q: %w", job.ID, err)
	}
	const q = `
		INSERT INTO jobs (id, status, progress, error, result, created_at, updated_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := s.pool.Exec(ctx, q,
		job.ID, string(job.Status), progress, job.Error, result,
		job.CreatedAt, job.UpdatedAt, job.FinishedAt,
	); err != nil {
		return fmt.Errorf("postgres store: create %q: %w", job.ID, err)
	}
	return nil
}

// Update implements [jobs.Store].
func (s *Store) Update(ctx context.Context, job jobs.Job) error {
	progress, result, err := encodeJob(job)
	if err != nil {
		return fmt.Errorf("postgres store: update %q: %w", job.ID, err)
	}
	const q = `
		UPDATE jobs SET
		    status      = $2,
		    progress    = $3,
		    error       = $4,
		    result      = $5,
		    updated_at  = $6,
		    finished_at = $7
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q,
		job.ID, string(job.Status), progress, job.Error, result, job.UpdatedAt, job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: update %q: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: update %q: %w", job.ID, jobs.ErrNotFound)
	}
	return nil
}

// Get implements [jobs.Store].
func (s *Store) Get(ctx context.Context, id string) (jobs.Job, error) {
	const q = `
		SELECT id, status, progress, error, result, created_at, updated_at, finished_at
		FROM   jobs
		WHERE  id = $1`

	var (
		job              jobs.Job
		status           string
		progress, result []byte
		finishedAt       *time.Time
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&job.ID, &status, &progress, &job.Error, &result,
		&job.CreatedAt, &job.UpdatedAt, &finishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return jobs.Job{}, fmt.Errorf("postgres store: get %q: %w", id, jobs.ErrNotFound)
	}
	if err != nil {
		return jobs.Job{}, fmt.Errorf("postgres store: get %q: %w", id, err)
	}

	job.Status = jobs.Status(status)
	job.FinishedAt = finishedAt
	if err := json.Unmarshal(progress, &job.Progress); err != nil {
		return jobs.Job{}, fmt.Errorf("postgres store: get %q: decode progress: %w", id, err)
	}
	if len(result) > 0 {
		job.Result = new(pipeline.Result)
		if err := json.Unmarshal(result, job.Result); err != nil {
			return jobs.Job{}, fmt.Errorf("postgres store: get %q: decode result: %w", id, err)
		}
	}
	return job, nil
}

// encodeJob serialises the JSONB columns of job. A nil result encodes as
// SQL NULL.
func encodeJob(job jobs.Job) (progress, result []byte, err error) {
	progress, err = json.Marshal(job.Progress)
	if err != nil {
		return nil, nil, fmt.Errorf("encode progress: %w", err)
	}
	if job.Result != nil {
		result, err = json.Marshal(job.Result)
		if err != nil {
			return nil, nil, fmt.Errorf("encode result: %w", err)
		}
	}
	return progress, result, nil
}
