// Package app wires the stepforge subsystems into a running service.
//
// New builds every subsystem from the config: the semantic capability, the
// job store and step library, the run archive, the job manager, health checks
// and the HTTP routes. Serve runs the HTTP API until the context ends, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithJobStore,
// WithMetrics, ...). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/stepforge/internal/archive"
	"github.com/MrWong99/stepforge/internal/config"
	"github.com/MrWong99/stepforge/internal/health"
	"github.com/MrWong99/stepforge/internal/jobs"
	"github.com/MrWong99/stepforge/internal/jobs/postgres"
	"github.com/MrWong99/stepforge/internal/observe"
	"github.com/MrWong99/stepforge/internal/pipeline"
	"github.com/MrWong99/stepforge/internal/similarity"
	"github.com/MrWong99/stepforge/internal/stepgen"
	"github.com/MrWong99/stepforge/internal/transcript/structure"
	"github.com/MrWong99/stepforge/pkg/provider/embeddings"
	"github.com/MrWong99/stepforge/pkg/provider/llm"
)

// readHeaderTimeout bounds how long a client may take to send request headers.
const readHeaderTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	// LLM generates the candidate steps. Required.
	LLM llm.Provider

	// Embeddings enables semantic scoring and the step library search.
	Embeddings embeddings.Provider

	// Structure segments transcripts before chunking. Nil keeps the
	// paragraph heuristic.
	Structure llm.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	semantic   similarity.Semantic
	store      jobs.Store
	library    *postgres.Store
	archive    *archive.FileArchive
	finalizers []pipeline.Finalizer
	manager    *jobs.Manager
	health     *health.Handler
	handler    http.Handler

	serverMu sync.Mutex
	server   *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithJobStore injects a job store instead of creating one from config.
func WithJobStore(s jobs.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithFinalizer adds a finalizer that runs after the configured ones.
func WithFinalizer(f pipeline.Finalizer) Option {
	return func(a *App) { a.finalizers = append(a.finalizers, f) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an llm provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	base, err := cfg.PipelineConfig()
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	// ── 1. Semantic capability ───────────────────────────────────────────
	// Resolved once for the process. Per-job configs may still turn it off.
	a.semantic = similarity.Resolve(ctx, providers.Embeddings, true)
	slog.Info("semantic similarity", "capability", a.semantic.String())

	// ── 2. Job store and step library ────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. Finalizers ────────────────────────────────────────────────────
	a.initFinalizers()

	// ── 4. Job manager ───────────────────────────────────────────────────
	a.manager = jobs.NewManager(a.store, a.newRunner, base,
		jobs.WithMaxConcurrent(cfg.Jobs.MaxConcurrent),
		jobs.WithEventBus(jobs.NewEventBus(cfg.Jobs.EventHistory)),
		jobs.WithMetrics(a.metrics),
	)

	// ── 5. Health and routes ─────────────────────────────────────────────
	a.health = health.New(a.checkers()...)
	a.handler = a.routes()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore sets up the PostgreSQL store or falls back to memory.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		a.store = jobs.NewMemoryStore()
		slog.Info("job store", "backend", "memory")
		return nil
	}

	var opts []postgres.Option
	if a.providers.Embeddings != nil {
		opts = append(opts, postgres.WithEmbedder(a.providers.Embeddings))
	}
	store, err := postgres.NewStore(ctx, dsn, a.cfg.Store.EmbeddingDimensions, opts...)
	if err != nil {
		return err
	}
	a.store = store
	a.library = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	slog.Info("job store", "backend", "postgres", "embedding_dimensions", a.cfg.Store.EmbeddingDimensions)
	return nil
}

// initFinalizers orders the finalize stage: archive, step library, then
// injected finalizers.
func (a *App) initFinalizers() {
	var fs []pipeline.Finalizer
	if path := a.cfg.Store.ArchivePath; path != "" {
		a.archive = archive.NewFileArchive(path)
		fs = append(fs, a.archive)
		slog.Info("run archive enabled", "path", path)
	}
	if a.library != nil {
		fs = append(fs, a.library)
	}
	a.finalizers = append(fs, a.finalizers...)
}

// newRunner is the [jobs.RunnerFactory] of the manager. Each job gets its
// own generator so per-job generation settings apply.
func (a *App) newRunner(cfg pipeline.Config) (jobs.Runner, error) {
	g := cfg.Options().Generation
	gen := stepgen.New(a.providers.LLM,
		stepgen.WithTemperature(g.Temperature),
		stepgen.WithMaxTokens(g.MaxTokens),
		stepgen.WithTimeout(g.Timeout),
		stepgen.WithRateLimit(g.RequestsPerSecond),
	)
	opts := []pipeline.Option{
		pipeline.WithSemantic(a.semantic),
		pipeline.WithFinalizers(a.finalizers...),
		pipeline.WithMetrics(a.metrics),
	}
	if a.providers.Structure != nil {
		opts = append(opts, pipeline.WithStructureAnalyzer(structure.NewLLM(a.providers.Structure)))
	}
	return pipeline.New(cfg, gen, opts...), nil
}

// readiness is implemented by providers that know whether they can serve,
// such as the failover group.
type readiness interface {
	Ready(ctx context.Context) error
}

func (a *App) checkers() []health.Checker {
	cs := []health.Checker{
		{Name: "store", Check: a.store.Ping},
		{Name: "llm", Check: func(ctx context.Context) error {
			if r, ok := a.providers.LLM.(readiness); ok {
				return r.Ready(ctx)
			}
			return nil
		}},
	}
	if a.cfg.Pipeline.UseSemanticSimilarity {
		sem := a.semantic
		cs = append(cs, health.Checker{
			Name:     "embeddings",
			Optional: true,
			Check: func(context.Context) error {
				if !sem.IsAvailable() {
					return errors.New(sem.Reason())
				}
				return nil
			},
		})
	}
	return cs
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)

	var hopts []jobs.HandlerOption
	if a.library != nil && a.providers.Embeddings != nil {
		hopts = append(hopts, jobs.WithStepSearcher(a.library))
	}
	jobs.NewHandler(a.manager, hopts...).Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())

	return observe.Middleware(a.metrics)(mux)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving the API, health and metrics.
func (a *App) Handler() http.Handler { return a.handler }

// Manager returns the job manager.
func (a *App) Manager() *jobs.Manager { return a.manager }

// Semantic returns the resolved semantic capability.
func (a *App) Semantic() similarity.Semantic { return a.semantic }

// ─── Run ─────────────────────────────────────────────────────────────────────

// RunOnce processes one transcript synchronously with the current base
// config, outside the job manager. sink may be nil.
func (a *App) RunOnce(ctx context.Context, jobID, text string, sink pipeline.ProgressSink) (*pipeline.Result, error) {
	runner, err := a.newRunner(a.manager.BaseConfig())
	if err != nil {
		return nil, fmt.Errorf("app: build runner: %w", err)
	}
	if sink == nil {
		sink = pipeline.SinkFunc(func(context.Context, pipeline.Progress) error { return nil })
	}
	return runner.Run(ctx, pipeline.Input{JobID: jobID, Transcript: text}, sink)
}

// ApplyConfig applies the hot-reloadable parts of a changed config. New jobs
// use the new pipeline settings; running jobs keep theirs.
func (a *App) ApplyConfig(newCfg *config.Config, d config.ConfigDiff) error {
	if !d.PipelineChanged {
		return nil
	}
	pc, err := newCfg.PipelineConfig()
	if err != nil {
		return fmt.Errorf("app: apply config: %w", err)
	}
	a.manager.SetBaseConfig(pc)
	slog.Info("pipeline config reloaded", "tone", pc.Options().Tone, "target_steps", pc.Options().TargetSteps)
	return nil
}

// Serve runs the HTTP server until ctx is cancelled or the server fails. It
// returns ctx.Err() after a cancellation.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	a.serverMu.Lock()
	a.server = srv
	a.serverMu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()
	slog.Info("http server listening", "addr", srv.Addr, "tls", a.cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops accepting requests, cancels and drains running jobs, then
// runs the closers in order. It respects the context deadline: if ctx
// expires, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "running_jobs", a.manager.Running(), "closers", len(a.closers))

		a.serverMu.Lock()
		srv := a.server
		a.serverMu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				slog.Warn("http server shutdown error", "err", err)
			}
		}

		if err := a.manager.Shutdown(ctx); err != nil {
			slog.Warn("job manager shutdown incomplete", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
