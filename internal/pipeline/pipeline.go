// Package pipeline runs a transcript through the full step-generation
// process: load, clean, analyze_structure, plan, generate_steps,
// build_sources, validate and finalize.
//
// Each stage owns a fixed slice of the progress range and reports through a
// [ProgressSink]. The reported fraction never decreases, even while chunks
// are generated in parallel. Failures before generation end the run;
// individual chunk failures are skipped and counted. Semantic similarity
// degrades to lexical-only scoring instead of failing the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/stepforge/internal/observe"
	"github.com/MrWong99/stepforge/internal/similarity"
	"github.com/MrWong99/stepforge/internal/sourceref"
	"github.com/MrWong99/stepforge/internal/stepgen"
	"github.com/MrWong99/stepforge/internal/transcript"
	"github.com/MrWong99/stepforge/internal/transcript/chunk"
	"github.com/MrWong99/stepforge/internal/transcript/structure"
	"github.com/MrWong99/stepforge/internal/validate"
	"github.com/MrWong99/stepforge/pkg/provider/llm"
)

var (
	// ErrEmptyTranscript is returned when the transcript, or what is left
	// of it after cleaning, has no sentences.
	ErrEmptyTranscript = errors.New("pipeline: transcript is empty")

	// ErrNoCandidates is returned when every chunk failed to produce a step.
	ErrNoCandidates = errors.New("pipeline: no candidate steps were generated")
)

// StepGenerator produces at most one candidate step per chunk.
// [*stepgen.Generator] is the production implementation.
type StepGenerator interface {
	Generate(ctx context.Context, c chunk.Chunk, total int, tone, audience string) (stepgen.CandidateStep, error)
}

// StructureAnalyzer derives topic hints used for chunking. [structure.Heuristic]
// is the default and [structure.LLM] the model-backed implementation.
type StructureAnalyzer = structure.Analyzer

// Finalizer receives the result of a successful run during the finalize
// stage. A Finalizer error fails the run.
type Finalizer interface {
	Finalize(ctx context.Context, res *Result) error
}

var (
	_ StepGenerator     = (*stepgen.Generator)(nil)
	_ StructureAnalyzer = structure.Heuristic{}
)

// Input is one transcript to process.
type Input struct {
	// JobID identifies the run in logs, spans and finalizer output.
	JobID      string
	Transcript string
}

// RunStats are bookkeeping figures of a run.
type RunStats struct {
	Sentences         int           `json:"sentences"`
	Words             int           `json:"words"`
	Chunks            int           `json:"chunks"`
	Candidates        int           `json:"candidates"`
	SkippedChunks     int           `json:"skipped_chunks"`
	Usage             llm.Usage     `json:"usage"`
	Duration          time.Duration `json:"duration"`
	SemanticAvailable bool          `json:"semantic_available"`
}

// Result is the output of a run.
type Result struct {
	JobID string `json:"job_id"`

	// Steps are the accepted steps in transcript order.
	Steps    []validate.ValidatedStep `json:"steps"`
	Rejected []validate.ValidatedStep `json:"rejected"`
	Metrics  validate.Metrics         `json:"metrics"`
	Stats    RunStats                 `json:"stats"`

	// Sentences is the sentence index the source references point into.
	Sentences []transcript.Sentence `json:"sentences"`

	// Notes are informational remarks such as semantic degradation.
	Notes []string `json:"notes,omitempty"`
}

// Option is a functional option for [Orchestrator].
type Option func(*Orchestrator)

// WithSemantic sets the semantic-similarity capability. Without it, or when
// the config disables semantic scoring, runs are lexical-only.
func WithSemantic(sem similarity.Semantic) Option {
	return func(o *Orchestrator) { o.semantic = sem }
}

// WithStructureAnalyzer sets the analyzer of the analyze_structure stage.
// Nil skips structure analysis. Default: [structure.Heuristic].
func WithStructureAnalyzer(a StructureAnalyzer) Option {
	return func(o *Orchestrator) { o.analyzer = a }
}

// WithFinalizers appends finalizers run in order during finalize.
func WithFinalizers(f ...Finalizer) Option {
	return func(o *Orchestrator) { o.finalizers = append(o.finalizers, f...) }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator runs transcripts through the pipeline with one immutable
// [Config]. It keeps no per-run state and is safe for concurrent use.
type Orchestrator struct {
	cfg        Config
	gen        StepGenerator
	semantic   similarity.Semantic
	analyzer   StructureAnalyzer
	finalizers []Finalizer
	metrics    *observe.Metrics
	cleaner    *transcript.Cleaner
	chunker    *chunk.Chunker
}

// New returns an orchestrator for cfg that generates steps with gen.
func New(cfg Config, gen StepGenerator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		gen:      gen,
		semantic: similarity.Unavailable("no embeddings provider configured"),
		analyzer: structure.Heuristic{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if !cfg.opts.UseSemantic {
		o.semantic = similarity.Unavailable("disabled by configuration")
	}
	o.cleaner = transcript.NewCleaner(
		transcript.WithFillerWords(cfg.opts.Cleaning.FillerWords...),
		transcript.WithDuplicateRemoval(cfg.opts.Cleaning.RemoveDuplicates),
	)
	ch := cfg.opts.Chunking
	o.chunker = chunk.New(
		chunk.WithOverlap(ch.OverlapSentences),
		chunk.WithSentenceBounds(ch.MinSentencesPerChunk, ch.MaxSentencesPerChunk),
		chunk.WithGroupPreference(ch.PreferParagraphs),
	)
	return o
}

// Config returns the orchestrator's configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// run is the state of one execution of [Orchestrator.Run].
type run struct {
	o       *Orchestrator
	in      Input
	log     *slog.Logger
	tracker *progressTracker
	started time.Time

	text      string
	sentences []transcript.Sentence
	groups    [][]int
	chunks    []chunk.Chunk
	steps     []stepgen.CandidateStep
	scored    []validate.Scored
	res       *Result
}

// Run processes in and reports progress to sink, which may be nil.
//
// When validation accepts no step, Run returns the partial result together
// with [validate.ErrNoAcceptedSteps] so callers can inspect the rejections.
// Every other error returns a nil result.
func (o *Orchestrator) Run(ctx context.Context, in Input, sink ProgressSink) (*Result, error) {
	ctx, span := observe.StartJobSpan(ctx, "pipeline.run", in.JobID)
	defer span.End()

	logger := observe.Logger(ctx)
	r := &run{
		o:       o,
		in:      in,
		log:     logger,
		tracker: newProgressTracker(sink, logger),
		started: time.Now(),
		res: &Result{
			JobID:    in.JobID,
			Steps:    []validate.ValidatedStep{},
			Rejected: []validate.ValidatedStep{},
		},
	}

	stages := []struct {
		stage  Stage
		detail string
		fn     func(context.Context) error
	}{
		{StageLoad, "Loading transcript", r.load},
		{StageClean, "Cleaning transcript", r.clean},
		{StageAnalyzeStructure, "Analyzing transcript structure", r.analyzeStructure},
		{StagePlan, "Planning steps", r.plan},
		{StageGenerateSteps, "Generating steps", r.generateSteps},
		{StageBuildSources, "Matching steps to transcript sources", r.buildSources},
		{StageValidate, "Validating steps", r.validate},
		{StageFinalize, "Finalizing results", r.finalize},
	}
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if err := r.stage(ctx, s.stage, s.detail, s.fn); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if errors.Is(err, validate.ErrNoAcceptedSteps) {
				return r.res, err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
	}

	r.tracker.enter(ctx, StageComplete, "Complete")
	logger.Info("pipeline complete",
		"steps", len(r.res.Steps),
		"rejected", len(r.res.Rejected),
		"skipped_chunks", r.res.Stats.SkippedChunks,
		"avg_confidence", r.res.Metrics.AverageConfidence,
		"duration", r.res.Stats.Duration,
	)
	return r.res, nil
}

// stage runs fn inside a span after reporting the stage's start.
func (r *run) stage(ctx context.Context, st Stage, detail string, fn func(context.Context) error) error {
	ctx, span := observe.StartSpan(ctx, "pipeline."+string(st),
		trace.WithAttributes(attribute.String("pipeline.stage", string(st))))
	defer span.End()

	start := time.Now()
	r.tracker.enter(ctx, st, detail)
	r.log.Debug("stage started", "stage", st)

	err := fn(ctx)
	r.o.metrics.RecordStage(ctx, string(st), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.log.Warn("stage failed", "stage", st, "err", err)
		return err
	}
	return nil
}

// note records an informational remark on the result and logs it.
func (r *run) note(msg string) {
	r.res.Notes = append(r.res.Notes, msg)
	r.log.Info("pipeline note", "note", msg)
}

// ── Stages ─────────────────────────────────────────────────────────────────

func (r *run) load(ctx context.Context) error {
	if strings.TrimSpace(r.in.Transcript) == "" {
		return ErrEmptyTranscript
	}
	r.res.Stats.Words = transcript.WordCount(r.in.Transcript)
	r.tracker.item(ctx, StageLoad, 1, 1, fmt.Sprintf("Loaded %d words", r.res.Stats.Words))
	return nil
}

func (r *run) clean(ctx context.Context) error {
	r.text = r.o.cleaner.Clean(r.in.Transcript)
	r.sentences = transcript.BuildIndex(r.text)
	if len(r.sentences) == 0 {
		return fmt.Errorf("%w after cleaning", ErrEmptyTranscript)
	}
	r.res.Sentences = r.sentences
	r.res.Stats.Sentences = len(r.sentences)
	r.tracker.item(ctx, StageClean, 1, 1, fmt.Sprintf("Indexed %d sentences", len(r.sentences)))
	return nil
}

func (r *run) analyzeStructure(ctx context.Context) error {
	if r.o.analyzer == nil || !r.o.cfg.opts.Chunking.PreferParagraphs {
		return nil
	}
	hints, err := r.o.analyzer.Analyze(ctx, r.text, r.sentences)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.Warn("structure analysis failed, chunking by sentence count", "err", err)
		return nil
	}
	r.groups = hints.Groups
	r.tracker.item(ctx, StageAnalyzeStructure, 1, 1, fmt.Sprintf("Found %d topic sections", hints.Len()))
	return nil
}

func (r *run) plan(ctx context.Context) error {
	target := r.o.cfg.TargetChunks()
	r.chunks = r.o.chunker.Chunk(r.sentences, target, r.groups)
	r.res.Stats.Chunks = len(r.chunks)
	r.log.Info("planned chunks", "chunks", len(r.chunks), "target", target, "sentences", len(r.sentences))
	r.tracker.item(ctx, StagePlan, 1, 1, fmt.Sprintf("Planned %d steps", len(r.chunks)))
	return nil
}

func (r *run) generateSteps(ctx context.Context) error {
	opts := r.o.cfg.opts
	total := len(r.chunks)
	results := make([]*stepgen.CandidateStep, total)

	var (
		mu      sync.Mutex
		done    int
		skipped int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Generation.Concurrency)
	for i, c := range r.chunks {
		g.Go(func() error {
			start := time.Now()
			step, err := r.o.gen.Generate(gctx, c, total, string(opts.Tone), opts.Audience)
			r.o.metrics.LLMDuration.Record(gctx, time.Since(start).Seconds())
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				skipped++
				r.o.metrics.StepsSkipped.Add(gctx, 1)
				r.o.metrics.RecordProviderRequest(gctx, "llm", "generate", "error")
				r.log.Warn("chunk generation failed, skipping", "chunk", c.Index, "err", err)
			} else {
				results[i] = &step
				r.o.metrics.StepsGenerated.Add(gctx, 1)
				r.o.metrics.RecordProviderRequest(gctx, "llm", "generate", "ok")
			}
			done++
			r.tracker.item(ctx, StageGenerateSteps, done, total, fmt.Sprintf("Generating step %d of %d", done, total))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, s := range results {
		if s == nil {
			continue
		}
		r.steps = append(r.steps, *s)
		r.res.Stats.Usage = r.res.Stats.Usage.Add(s.Usage)
	}
	r.res.Stats.Candidates = len(r.steps)
	r.res.Stats.SkippedChunks = skipped
	if len(r.steps) == 0 {
		return ErrNoCandidates
	}
	return nil
}

func (r *run) buildSources(ctx context.Context) error {
	opts := r.o.cfg.opts
	scorer := r.newScorer(ctx)
	r.res.Stats.SemanticAvailable = scorer.SemanticAvailable()

	mgr := r.newManager(scorer)
	total := len(r.steps)
	r.scored = make([]validate.Scored, 0, total)
	for i, step := range r.steps {
		c := r.chunks[step.ChunkIndex]
		ref, err := mgr.Reference(ctx, i, step, c)
		if err != nil && ctx.Err() == nil && scorer.SemanticAvailable() {
			r.note(fmt.Sprintf("semantic similarity failed mid-run, continuing with lexical scoring: %v", err))
			scorer = similarity.NewScorer(opts.Weights, similarity.Unavailable(err.Error()), nil)
			r.res.Stats.SemanticAvailable = false
			mgr = r.newManager(scorer)
			ref, err = mgr.Reference(ctx, i, step, c)
		}
		if err != nil {
			return fmt.Errorf("pipeline: build sources: %w", err)
		}
		r.o.metrics.Confidence.Record(ctx, ref.Confidence)
		r.scored = append(r.scored, validate.Scored{StepIndex: i, Step: step, Source: ref})
		r.tracker.item(ctx, StageBuildSources, i+1, total, fmt.Sprintf("Matching sources for step %d of %d", i+1, total))
	}
	return nil
}

// newScorer builds the run's scorer. With semantic scoring available, every
// sentence and step is embedded in one batch up front; if that fails the run
// falls back to lexical scoring.
func (r *run) newScorer(ctx context.Context) *similarity.Scorer {
	w := r.o.cfg.opts.Weights
	sem := r.o.semantic
	if !sem.IsAvailable() {
		if r.o.cfg.opts.UseSemantic {
			r.note("semantic similarity unavailable (" + sem.Reason() + "), using lexical scoring")
		}
		return similarity.NewScorer(w, sem, nil)
	}

	cache := similarity.NewCache(sem.Provider())
	texts := make([]string, 0, len(r.sentences)+len(r.steps))
	for _, s := range r.sentences {
		texts = append(texts, s.Text)
	}
	for _, s := range r.steps {
		texts = append(texts, s.Text)
	}

	start := time.Now()
	err := cache.Warm(ctx, texts)
	r.o.metrics.EmbeddingDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		r.o.metrics.RecordProviderError(ctx, sem.Provider().ModelID(), "embeddings")
		if ctx.Err() == nil {
			r.note(fmt.Sprintf("semantic similarity unavailable for this run (%v), using lexical scoring", err))
		}
		return similarity.NewScorer(w, similarity.Unavailable(err.Error()), nil)
	}
	r.o.metrics.RecordProviderRequest(ctx, sem.Provider().ModelID(), "embeddings", "ok")
	return similarity.NewScorer(w, sem, cache)
}

func (r *run) newManager(scorer *similarity.Scorer) *sourceref.Manager {
	opts := r.o.cfg.opts
	return sourceref.New(scorer, r.sentences,
		sourceref.WithFallbackSearch(opts.FullTranscriptFallback),
		sourceref.WithAcceptThreshold(opts.MinConfidence),
	)
}

func (r *run) validate(ctx context.Context) error {
	opts := r.o.cfg.opts
	gate, err := validate.New(opts.MinConfidence, opts.HighConfidence)
	if err != nil {
		return err
	}
	out, err := gate.Evaluate(r.scored)
	r.res.Steps = out.Accepted
	r.res.Rejected = out.Rejected
	r.res.Metrics = out.Metrics
	r.res.Stats.Duration = time.Since(r.started)
	r.o.metrics.StepsAccepted.Add(ctx, int64(out.Metrics.TotalSteps))
	r.o.metrics.StepsRejected.Add(ctx, int64(out.Metrics.RejectedCount))
	r.tracker.item(ctx, StageValidate, 1, 1,
		fmt.Sprintf("Accepted %d of %d steps", out.Metrics.TotalSteps, out.Metrics.Candidates))
	return err
}

func (r *run) finalize(ctx context.Context) error {
	total := len(r.o.finalizers)
	for i, f := range r.o.finalizers {
		if err := f.Finalize(ctx, r.res); err != nil {
			return fmt.Errorf("pipeline: finalize: %w", err)
		}
		r.tracker.item(ctx, StageFinalize, i+1, total, "Saving results")
	}
	r.res.Stats.Duration = time.Since(r.started)
	return nil
}
