package pipeline

import (
	"context"
	"log/slog"
	"sync"
)

// Stage is a named phase of a run.
type Stage string

// Stages in execution order.
const (
	StageLoad             Stage = "load"
	StageClean            Stage = "clean"
	StageAnalyzeStructure Stage = "analyze_structure"
	StagePlan             Stage = "plan"
	StageGenerateSteps    Stage = "generate_steps"
	StageBuildSources     Stage = "build_sources"
	StageValidate         Stage = "validate"
	StageFinalize         Stage = "finalize"
	StageComplete         Stage = "complete"
)

var stageRanges = map[Stage][2]float64{
	StageLoad:             {0.00, 0.05},
	StageClean:            {0.05, 0.15},
	StageAnalyzeStructure: {0.15, 0.35},
	StagePlan:             {0.35, 0.42},
	StageGenerateSteps:    {0.42, 0.62},
	StageBuildSources:     {0.62, 0.78},
	StageValidate:         {0.78, 0.87},
	StageFinalize:         {0.87, 1.00},
	StageComplete:         {1.00, 1.00},
}

// Range returns the progress sub-range of s. Unknown stages return (0, 0).
func (s Stage) Range() (low, high float64) {
	r := stageRanges[s]
	return r[0], r[1]
}

// Progress is one status update of a run.
type Progress struct {
	Stage    Stage   `json:"stage"`
	Fraction float64 `json:"fraction"`

	// CurrentItem and TotalItems are set by stages that process items
	// one by one, and zero otherwise.
	CurrentItem int `json:"current_item,omitempty"`
	TotalItems  int `json:"total_items,omitempty"`

	Detail string `json:"detail"`
}

// ProgressSink receives progress updates. Each update overwrites the
// previous one. Errors are logged by the pipeline and never fail a run.
type ProgressSink interface {
	Update(ctx context.Context, p Progress) error
}

// SinkFunc adapts a function to [ProgressSink].
type SinkFunc func(ctx context.Context, p Progress) error

// Update implements [ProgressSink].
func (f SinkFunc) Update(ctx context.Context, p Progress) error { return f(ctx, p) }

// progressTracker forwards updates to a sink and keeps the fraction from
// ever decreasing. Safe for concurrent use; updates reach the sink in the
// order their fractions were fixed.
type progressTracker struct {
	sink   ProgressSink
	logger *slog.Logger

	mu   sync.Mutex
	last float64
}

func newProgressTracker(sink ProgressSink, logger *slog.Logger) *progressTracker {
	return &progressTracker{sink: sink, logger: logger}
}

// enter reports the start of a stage at its low bound.
func (t *progressTracker) enter(ctx context.Context, stage Stage, detail string) {
	low, _ := stage.Range()
	t.emit(ctx, Progress{Stage: stage, Fraction: low, Detail: detail})
}

// item reports that done of total items of stage are finished.
func (t *progressTracker) item(ctx context.Context, stage Stage, done, total int, detail string) {
	low, high := stage.Range()
	frac := high
	if total > 0 {
		frac = low + (high-low)*float64(done)/float64(total)
	}
	t.emit(ctx, Progress{Stage: stage, Fraction: frac, CurrentItem: done, TotalItems: total, Detail: detail})
}

func (t *progressTracker) emit(ctx context.Context, p Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p.Fraction = min(max(p.Fraction, t.last), 1)
	t.last = p.Fraction
	if t.sink == nil {
		return
	}
	if err := t.sink.Update(ctx, p); err != nil {
		t.logger.Warn("progress update failed", "stage", p.Stage, "fraction", p.Fraction, "err", err)
	}
}

// fraction returns the furthest fraction reported so far.
func (t *progressTracker) fraction() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
