// Package jobs runs pipeline executions in the background and exposes them
// over HTTP.
//
// A [Manager] owns the lifecycle of every job: it stores a snapshot in a
// [Store], runs the pipeline on its own goroutine under a concurrency limit,
// receives the pipeline's progress updates, and publishes them on an
// [EventBus] so clients can poll for sequenced events.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/stepforge/internal/pipeline"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ReasonCancelled is the failure reason recorded for cancelled jobs.
const ReasonCancelled = "cancelled"

var (
	// ErrNotFound is returned when no job has the requested ID.
	ErrNotFound = errors.New("jobs: job not found")

	// ErrJobFinished is returned when cancelling a job that already ended.
	ErrJobFinished = errors.New("jobs: job already finished")

	// ErrShuttingDown is returned by Submit after Shutdown was called.
	ErrShuttingDown = errors.New("jobs: manager is shutting down")
)

// Job is a snapshot of one pipeline execution.
type Job struct {
	ID       string            `json:"id"`
	Status   Status            `json:"status"`
	Progress pipeline.Progress `json:"progress"`

	// Error is the human-readable failure reason of a failed job.
	Error string `json:"error,omitempty"`

	// Result is set for completed jobs, and for jobs that failed because
	// no step was accepted.
	Result *pipeline.Result `json:"result,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Store persists job snapshots. Update overwrites the stored snapshot; the
// last write wins. Implementations must be safe for concurrent use.
type Store interface {
	Create(ctx context.Context, job Job) error
	Update(ctx context.Context, job Job) error

	// Get returns [ErrNotFound] for unknown IDs.
	Get(ctx context.Context, id string) (Job, error)

	Ping(ctx context.Context) error
}
