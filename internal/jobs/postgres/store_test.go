package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/stepforge/internal/jobs"
	"github.com/MrWong99/stepforge/internal/jobs/postgres"
	"github.com/MrWong99/stepforge/internal/pipeline"
	"github.com/MrWong99/stepforge/internal/sourceref"
	"github.com/MrWong99/stepforge/internal/stepgen"
	"github.com/MrWong99/stepforge/internal/validate"
	"github.com/MrWong99/stepforge/pkg/provider/embeddings/mock"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if STEPFORGE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("STEPFORGE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("STEPFORGE_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a Store on a freshly dropped schema and closes it when
// the test finishes.
func newTestStore(t *testing.T, opts ...postgres.Option) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS job_steps CASCADE",
		"DROP TABLE IF EXISTS jobs CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema: %v", err)
		}
	}
	pool.Close()

	store, err := postgres.NewStore(ctx, dsn, testEmbeddingDim, opts...)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func step(idx int, title string, conf float64) validate.ValidatedStep {
	return validate.ValidatedStep{
		StepIndex: idx,
		Step:      stepgen.CandidateStep{ChunkIndex: idx, Title: title, Text: title},
		Source:    sourceref.SourceReference{StepIndex: idx, SentenceID: idx, Excerpt: title + ".", Confidence: conf, Scope: sourceref.ScopeChunk},
		Accepted:  true,
		Label:     sourceref.Label(conf),
		Quality:   sourceref.Quality(conf),
	}
}

func TestStore_JobLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	job := jobs.Job{ID: "job-1", Status: jobs.StatusQueued, CreatedAt: now, UpdatedAt: now}
	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, job); err == nil {
		t.Error("expected duplicate Create to fail")
	}

	got, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != jobs.StatusQueued || got.Result != nil || got.FinishedAt != nil {
		t.Errorf("queued job = %+v", got)
	}

	finished := now.Add(time.Second)
	job.Status = jobs.StatusCompleted
	job.Progress = pipeline.Progress{Stage: pipeline.StageComplete, Fraction: 1, Detail: "done"}
	job.Result = &pipeline.Result{JobID: "job-1", Steps: []validate.ValidatedStep{step(0, "Open the portal", 0.8)}}
	job.UpdatedAt, job.FinishedAt = finished, &finished
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err = store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != jobs.StatusCompleted || got.Progress.Fraction != 1 || got.Progress.Detail != "done" {
		t.Errorf("completed job = %+v", got)
	}
	if got.Result == nil || len(got.Result.Steps) != 1 || got.Result.Steps[0].Step.Title != "Open the portal" {
		t.Errorf("result = %+v", got.Result)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, finished)
	}
}

func TestStore_NotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, jobs.ErrNotFound) {
		t.Errorf("Get: got %v, want ErrNotFound", err)
	}
	if err := store.Update(ctx, jobs.Job{ID: "missing"}); !errors.Is(err, jobs.ErrNotFound) {
		t.Errorf("Update: got %v, want ErrNotFound", err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestStore_FinalizeAndSearch(t *testing.T) {
	emb := &mock.Provider{
		Vectors: map[string][]float32{
			"Open the portal":          {1, 0, 0, 0},
			"Create a storage account": {0, 1, 0, 0},
			"Deploy the account":       {0, 0, 1, 0},
			"open portal":              {0.9, 0.1, 0, 0},
		},
		DimensionsValue: testEmbeddingDim,
	}
	store := newTestStore(t, postgres.WithEmbedder(emb))
	ctx := context.Background()

	res := &pipeline.Result{
		JobID: "job-2",
		Steps: []validate.ValidatedStep{
			step(0, "Open the portal", 0.9),
			step(1, "Create a storage account", 0.6),
			step(2, "Deploy the account", 0.4),
		},
	}
	if err := store.Finalize(ctx, res); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	// Re-finalizing the same job replaces rows instead of failing.
	if err := store.Finalize(ctx, res); err != nil {
		t.Fatalf("second Finalize: %v", err)
	}

	hits, err := store.SearchSteps(ctx, "open portal", 2)
	if err != nil {
		t.Fatalf("SearchSteps: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].Title != "Open the portal" || hits[0].JobID != "job-2" || hits[0].StepIndex != 0 {
		t.Errorf("nearest hit = %+v", hits[0])
	}
	if hits[0].Distance > hits[1].Distance {
		t.Errorf("hits not ordered by distance: %v, %v", hits[0].Distance, hits[1].Distance)
	}
	if hits[0].Excerpt != "Open the portal." || hits[0].Confidence != 0.9 {
		t.Errorf("hit fields = %+v", hits[0])
	}
}

func TestStore_FinalizeWithoutEmbedder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	res := &pipeline.Result{JobID: "job-3", Steps: []validate.ValidatedStep{step(0, "Open the portal", 0.9)}}
	if err := store.Finalize(ctx, res); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if _, err := store.SearchSteps(ctx, "portal", 3); !errors.Is(err, postgres.ErrNoEmbedder) {
		t.Errorf("SearchSteps: got %v, want ErrNoEmbedder", err)
	}
	hits, err := store.NearestSteps(ctx, []float32{1, 0, 0, 0}, 3)
	if err != nil {
		t.Fatalf("NearestSteps: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("unembedded steps are searchable: %+v", hits)
	}
}

func TestStore_FinalizeDimensionMismatch(t *testing.T) {
	emb := &mock.Provider{EmbedResult: []float32{1, 2}, DimensionsValue: 2}
	store := newTestStore(t, postgres.WithEmbedder(emb))
	ctx := context.Background()

	res := &pipeline.Result{JobID: "job-4", Steps: []validate.ValidatedStep{step(0, "Open the portal", 0.9)}}
	if err := store.Finalize(ctx, res); err != nil {
		t.Fatalf("Finalize with mismatching vectors must not fail: %v", err)
	}
}

func TestMigrate_RejectsBadDimensions(t *testing.T) {
	t.Parallel()
	if err := postgres.Migrate(context.Background(), nil, 0); err == nil {
		t.Fatal("expected error for zero dimensions")
	}
}
