// Command stepforge turns instructional transcripts into validated,
// source-grounded training steps. It serves an HTTP job API, or processes a
// single transcript file and exits when -transcript is given.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/stepforge/internal/app"
	"github.com/MrWong99/stepforge/internal/config"
	"github.com/MrWong99/stepforge/internal/observe"
	"github.com/MrWong99/stepforge/internal/pipeline"
	"github.com/MrWong99/stepforge/internal/resilience"
	"github.com/MrWong99/stepforge/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/stepforge/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/stepforge/pkg/provider/embeddings/openai"
	"github.com/MrWong99/stepforge/pkg/provider/llm"
	"github.com/MrWong99/stepforge/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/stepforge/pkg/provider/llm/openai"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	transcriptPath := flag.String("transcript", "", "process this transcript file once and exit instead of serving")
	outPath := flag.String("out", "", "with -transcript: write the JSON result here instead of stdout")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "stepforge: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "stepforge: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, level := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("stepforge starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		SampleRatio:    cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, providers, app.WithMetrics(metrics))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if *transcriptPath != "" {
		code := runOnce(ctx, application, *transcriptPath, *outPath)
		shutdown(application)
		return code
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, application)

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, newCfg *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if err := application.ApplyConfig(newCfg, d); err != nil {
			slog.Error("config reload failed", "err", err)
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("serve error", "err", err)
		shutdown(application)
		return 1
	}

	slog.Info("shutdown signal received, stopping…")
	if err := shutdown(application); err != nil {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// shutdown gives the application 15 seconds to drain.
func shutdown(a *app.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
		return err
	}
	return nil
}

// ── One-shot mode ─────────────────────────────────────────────────────────────

// runOnce processes the transcript at path, writes the JSON result to outPath
// (stdout when empty) and prints a summary to stderr.
func runOnce(ctx context.Context, a *app.App, path, outPath string) int {
	text, err := os.ReadFile(path)
	if err != nil {
		slog.Error("failed to read transcript", "path", path, "err", err)
		return 1
	}

	sink := pipeline.SinkFunc(func(_ context.Context, p pipeline.Progress) error {
		slog.Info("progress", "stage", p.Stage, "fraction", fmt.Sprintf("%.2f", p.Fraction), "detail", p.Detail)
		return nil
	})
	res, runErr := a.RunOnce(ctx, "cli-"+time.Now().UTC().Format("20060102T150405"), string(text), sink)
	if res != nil {
		printRunSummary(os.Stderr, res)
		if err := writeResult(res, outPath); err != nil {
			slog.Error("failed to write result", "err", err)
			return 1
		}
	}
	if runErr != nil {
		slog.Error("run failed", "err", runErr)
		return 1
	}
	return 0
}

func writeResult(res *pipeline.Result, outPath string) error {
	var w io.Writer = os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func printRunSummary(w io.Writer, res *pipeline.Result) {
	m := res.Metrics
	fmt.Fprintf(w, "\nGenerated %d steps (%d rejected) in %s\n", len(res.Steps), len(res.Rejected), res.Stats.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Average confidence %.2f, %d high-confidence, %d candidates\n", m.AverageConfidence, m.HighConfidenceCount, m.Candidates)
	for _, st := range res.Steps {
		fmt.Fprintf(w, "  %2d. %-50s %.2f %s\n", st.StepIndex+1, truncate(st.Step.Title, 50), st.Source.Confidence, st.Label)
	}
	for _, n := range res.Notes {
		fmt.Fprintf(w, "note: %s\n", n)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmProviders are the generation backends served through any-llm-go.
// They share the same pattern: optional APIKey plus optional BaseURL.
var anyllmProviders = []string{"anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range anyllmProviders {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── Embeddings ────────────────────────────────────────────────────────────
	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if n := optInt(entry.Options, "dimensions"); n > 0 {
			opts = append(opts, oaembed.WithDimensions(n))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if n := optInt(entry.Options, "dimensions"); n > 0 {
			opts = append(opts, ollamaembed.WithDimensions(n))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	slog.Debug("registered providers", "llm", reg.LLMNames(), "embeddings", reg.EmbeddingsNames())
}

// buildProviders instantiates the providers named in cfg. The generation
// backend is always wrapped in a failover group so its readiness and
// per-backend metrics are tracked, even without fallbacks.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{}

	primary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "model", primary.ModelID())

	fb := resilience.NewLLMFallback(cfg.Providers.LLM.Name, primary, resilience.CircuitBreakerConfig{}, resilience.WithMetrics(metrics))
	for i, entry := range cfg.Providers.LLMFallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %d %q: %w", i, entry.Name, err)
		}
		fb.AddFallback(fmt.Sprintf("%s#%d", entry.Name, i+1), p)
		slog.Info("provider created", "kind", "llm_fallback", "name", entry.Name, "model", p.ModelID())
	}
	ps.LLM = fb

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		ps.Embeddings = p
		slog.Info("provider created", "kind", "embeddings", "name", name, "model", p.ModelID(), "dimensions", p.Dimensions())
	}

	if name := cfg.Providers.Structure.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.Structure)
		if err != nil {
			return nil, fmt.Errorf("create structure provider %q: %w", name, err)
		}
		ps.Structure = p
		slog.Info("provider created", "kind", "structure", "name", name, "model", p.ModelID())
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, a *app.App) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Stepforge, startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	fmt.Printf("║  Fallbacks       : %-19d ║\n", len(cfg.Providers.LLMFallbacks))
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	printProvider("Structure", cfg.Providers.Structure.Name, cfg.Providers.Structure.Model)
	semantic := "lexical only"
	if a.Semantic().IsAvailable() {
		semantic = "enabled"
	}
	fmt.Printf("║  Semantic        : %-19s ║\n", semantic)
	store := "memory"
	if cfg.Store.PostgresDSN != "" {
		store = "postgres"
	}
	fmt.Printf("║  Job store       : %-19s ║\n", store)
	fmt.Printf("║  Max jobs        : %-19d ║\n", cfg.Jobs.MaxConcurrent)
	fmt.Printf("║  Tone            : %-19s ║\n", cfg.Pipeline.Tone)
	fmt.Printf("║  Target steps    : %-19d ║\n", cfg.Pipeline.TargetSteps)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger returns a text logger whose level can be changed at runtime
// through the returned LevelVar.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})), lv
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value from a provider Options map. YAML decodes
// plain numbers as int; floats are truncated.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
