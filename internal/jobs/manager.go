package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/stepforge/internal/observe"
	"github.com/MrWong99/stepforge/internal/pipeline"
	"github.com/MrWong99/stepforge/internal/validate"
)

// persistTimeout bounds store writes made after a job context ended.
const persistTimeout = 5 * time.Second

// Runner executes one pipeline run. [*pipeline.Orchestrator] is the
// production implementation.
type Runner interface {
	Run(ctx context.Context, in pipeline.Input, sink pipeline.ProgressSink) (*pipeline.Result, error)
}

var _ Runner = (*pipeline.Orchestrator)(nil)

// RunnerFactory builds the runner for one job from that job's validated
// configuration.
type RunnerFactory func(cfg pipeline.Config) (Runner, error)

// Request is a job submission. Nil fields keep the manager's base
// configuration.
type Request struct {
	Transcript  string  `json:"transcript"`
	Tone        *string `json:"tone,omitempty"`
	Audience    *string `json:"audience,omitempty"`
	MinSteps    *int    `json:"min_steps,omitempty"`
	TargetSteps *int    `json:"target_steps,omitempty"`
	MaxSteps    *int    `json:"max_steps,omitempty"`
}

func (r Request) apply(o *pipeline.Options) {
	if r.Tone != nil {
		o.Tone = pipeline.Tone(*r.Tone)
	}
	if r.Audience != nil {
		o.Audience = *r.Audience
	}
	if r.MinSteps != nil {
		o.MinSteps = *r.MinSteps
	}
	if r.TargetSteps != nil {
		o.TargetSteps = *r.TargetSteps
	}
	if r.MaxSteps != nil {
		o.MaxSteps = *r.MaxSteps
	}
}

// ManagerOption is a functional option for [Manager].
type ManagerOption func(*Manager)

// WithMaxConcurrent limits the number of jobs running at once. Further jobs
// stay queued. Default: 2.
func WithMaxConcurrent(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxConcurrent = n
		}
	}
}

// WithEventBus sets the bus events are published on.
// Default: NewEventBus(DefaultEventHistory).
func WithEventBus(b *EventBus) ManagerOption {
	return func(m *Manager) { m.bus = b }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = met }
}

// WithIDGenerator replaces the job ID source. Default: random UUIDs.
func WithIDGenerator(fn func() string) ManagerOption {
	return func(m *Manager) { m.newID = fn }
}

// Manager runs jobs in the background. All methods are safe for concurrent
// use.
type Manager struct {
	store         Store
	bus           *EventBus
	factory       RunnerFactory
	metrics       *observe.Metrics
	maxConcurrent int
	newID         func() string

	base atomic.Pointer[pipeline.Config]
	sem  chan struct{}

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu     sync.Mutex
	live   map[string]*liveJob
	closed bool
}

// liveJob is a job that has not reached a terminal state in this process.
type liveJob struct {
	mu     sync.Mutex
	job    Job
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager returns a manager that persists jobs in store, builds runners
// with factory and derives every job's configuration from base.
func NewManager(store Store, factory RunnerFactory, base pipeline.Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:         store,
		factory:       factory,
		maxConcurrent: 2,
		newID:         uuid.NewString,
		live:          make(map[string]*liveJob),
	}
	for _, o := range opts {
		o(m)
	}
	if m.bus == nil {
		m.bus = NewEventBus(DefaultEventHistory)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	m.sem = make(chan struct{}, m.maxConcurrent)
	m.ctx, m.stop = context.WithCancel(context.Background())
	m.base.Store(&base)
	return m
}

// SetBaseConfig replaces the configuration new jobs start from. Jobs that
// were already submitted keep their own copy.
func (m *Manager) SetBaseConfig(cfg pipeline.Config) {
	m.base.Store(&cfg)
}

// BaseConfig returns the configuration new jobs start from.
func (m *Manager) BaseConfig() pipeline.Config {
	return *m.base.Load()
}

// Bus returns the event bus of the manager.
func (m *Manager) Bus() *EventBus { return m.bus }

// Submit validates req, records a queued job and starts it in the
// background. Configuration errors wrap [pipeline.ErrInvalidConfig]; an
// empty transcript wraps [pipeline.ErrEmptyTranscript].
func (m *Manager) Submit(ctx context.Context, req Request) (Job, error) {
	if strings.TrimSpace(req.Transcript) == "" {
		return Job{}, fmt.Errorf("jobs: submit: %w", pipeline.ErrEmptyTranscript)
	}

	opts := m.BaseConfig().Options()
	req.apply(&opts)
	cfg, err := pipeline.NewConfig(opts)
	if err != nil {
		return Job{}, fmt.Errorf("jobs: submit: %w", err)
	}
	runner, err := m.factory(cfg)
	if err != nil {
		return Job{}, fmt.Errorf("jobs: submit: build runner: %w", err)
	}

	now := time.Now().UTC()
	job := Job{
		ID:        m.newID(),
		Status:    StatusQueued,
		Progress:  pipeline.Progress{Detail: "Waiting for a free worker"},
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Job{}, ErrShuttingDown
	}
	if err := m.store.Create(ctx, job); err != nil {
		m.mu.Unlock()
		return Job{}, fmt.Errorf("jobs: submit: %w", err)
	}
	jobCtx, cancel := context.WithCancel(m.ctx)
	lj := &liveJob{job: job, cancel: cancel, done: make(chan struct{})}
	m.live[job.ID] = lj
	m.wg.Add(1)
	m.mu.Unlock()

	m.bus.Publish(Event{JobID: job.ID, Type: EventStatus, Status: StatusQueued})
	slog.Info("job submitted", "job_id", job.ID, "tone", opts.Tone, "target_steps", opts.TargetSteps)

	go m.execute(jobCtx, lj, runner, req.Transcript)
	return job, nil
}

// execute runs one job to completion. It owns lj until it is removed from
// the live set.
func (m *Manager) execute(ctx context.Context, lj *liveJob, runner Runner, transcript string) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		delete(m.live, lj.job.ID)
		m.mu.Unlock()
		lj.cancel()
		close(lj.done)
	}()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job panicked", "job_id", lj.job.ID, "panic", r)
			m.finish(ctx, lj, nil, fmt.Errorf("internal error: %v", r))
		}
	}()

	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		m.finish(ctx, lj, nil, ctx.Err())
		return
	}
	defer func() { <-m.sem }()

	m.transition(ctx, lj, StatusRunning)
	m.metrics.ActiveJobs.Add(ctx, 1)
	defer m.metrics.ActiveJobs.Add(context.WithoutCancel(ctx), -1)

	res, err := runner.Run(ctx, pipeline.Input{JobID: lj.job.ID, Transcript: transcript}, jobSink{m: m, lj: lj})
	m.finish(ctx, lj, res, err)
}

// transition moves lj to a non-terminal status.
func (m *Manager) transition(ctx context.Context, lj *liveJob, status Status) {
	lj.mu.Lock()
	lj.job.Status = status
	lj.job.UpdatedAt = time.Now().UTC()
	m.persist(ctx, lj.job)
	lj.mu.Unlock()

	m.bus.Publish(Event{JobID: lj.job.ID, Type: EventStatus, Status: status})
}

// finish records the terminal state of lj. Calls after the first are
// ignored.
func (m *Manager) finish(ctx context.Context, lj *liveJob, res *pipeline.Result, runErr error) {
	lj.mu.Lock()
	if lj.job.Status.Terminal() {
		lj.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	lj.job.UpdatedAt = now
	lj.job.FinishedAt = &now
	lj.job.Result = res

	switch {
	case runErr == nil:
		lj.job.Status = StatusCompleted
	case ctx.Err() != nil:
		lj.job.Status = StatusFailed
		lj.job.Error = ReasonCancelled
	default:
		lj.job.Status = StatusFailed
		lj.job.Error = failureReason(runErr)
	}
	job := lj.job
	m.persist(ctx, job)
	lj.mu.Unlock()

	m.bus.Publish(Event{JobID: job.ID, Type: EventStatus, Status: job.Status, Message: job.Error})
	m.metrics.RecordJobFinished(context.WithoutCancel(ctx), string(job.Status))

	if job.Status == StatusCompleted {
		slog.Info("job completed", "job_id", job.ID, "steps", len(res.Steps), "rejected", len(res.Rejected))
	} else {
		slog.Warn("job failed", "job_id", job.ID, "reason", job.Error)
	}
}

// failureReason maps pipeline errors to a single human-readable sentence.
func failureReason(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrEmptyTranscript):
		return "transcript is empty"
	case errors.Is(err, pipeline.ErrNoCandidates):
		return "no candidate steps could be generated"
	case errors.Is(err, validate.ErrNoAcceptedSteps):
		return "no step reached the minimum confidence threshold"
	default:
		return err.Error()
	}
}

// persist writes job to the store. Writes outlive a cancelled job context so
// the terminal state is never lost.
func (m *Manager) persist(ctx context.Context, job Job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := m.store.Update(ctx, job); err != nil {
		slog.Warn("failed to persist job", "job_id", job.ID, "status", job.Status, "err", err)
	}
}

// jobSink receives the progress of one job.
type jobSink struct {
	m  *Manager
	lj *liveJob
}

// Update implements [pipeline.ProgressSink].
func (s jobSink) Update(ctx context.Context, p pipeline.Progress) error {
	s.lj.mu.Lock()
	if s.lj.job.Status.Terminal() {
		s.lj.mu.Unlock()
		return nil
	}
	s.lj.job.Progress = p
	s.lj.job.UpdatedAt = time.Now().UTC()
	job := s.lj.job
	err := s.m.store.Update(ctx, job)
	s.lj.mu.Unlock()

	s.m.bus.Publish(Event{JobID: job.ID, Type: EventProgress, Status: job.Status, Progress: &p})
	if err != nil {
		return fmt.Errorf("jobs: progress %q: %w", job.ID, err)
	}
	return nil
}

// Get returns the current snapshot of job id.
func (m *Manager) Get(ctx context.Context, id string) (Job, error) {
	m.mu.Lock()
	lj, ok := m.live[id]
	m.mu.Unlock()
	if ok {
		lj.mu.Lock()
		defer lj.mu.Unlock()
		return lj.job, nil
	}
	return m.store.Get(ctx, id)
}

// Events returns the retained events of job id newer than since.
func (m *Manager) Events(ctx context.Context, id string, since uint64) ([]Event, error) {
	if _, err := m.Get(ctx, id); err != nil {
		return nil, err
	}
	return m.bus.Since(id, since), nil
}

// Cancel stops job id. The job ends failed with reason [ReasonCancelled]
// once its run has unwound. Cancelling a finished job returns
// [ErrJobFinished].
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	lj, ok := m.live[id]
	m.mu.Unlock()
	if ok {
		slog.Info("cancelling job", "job_id", id)
		lj.cancel()
		return nil
	}

	job, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("jobs: cancel %q: %w", id, ErrJobFinished)
	}

	// Not terminal yet unknown to this process: left behind by a previous
	// instance sharing the store.
	now := time.Now().UTC()
	job.Status = StatusFailed
	job.Error = ReasonCancelled
	job.UpdatedAt = now
	job.FinishedAt = &now
	if err := m.store.Update(ctx, job); err != nil {
		return fmt.Errorf("jobs: cancel %q: %w", id, err)
	}
	m.bus.Publish(Event{JobID: id, Type: EventStatus, Status: StatusFailed, Message: ReasonCancelled})
	return nil
}

// Wait blocks until job id is terminal or ctx ends, and returns its final
// snapshot.
func (m *Manager) Wait(ctx context.Context, id string) (Job, error) {
	m.mu.Lock()
	lj, ok := m.live[id]
	m.mu.Unlock()
	if ok {
		select {
		case <-lj.done:
		case <-ctx.Done():
			return Job{}, ctx.Err()
		}
	}
	return m.store.Get(ctx, id)
}

// Running returns the number of jobs that have not finished yet.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Shutdown rejects new submissions, cancels every unfinished job and waits
// for them to record their terminal state or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("jobs: shutdown: %w", ctx.Err())
	}
}
