package config_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/stepforge/internal/config"
	"github.com/MrWong99/stepforge/internal/pipeline"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name: "minimal valid",
			yaml: "providers: {llm: {name: openai}}\n",
		},
		{
			name:    "missing llm",
			yaml:    "server: {log_level: info}\n",
			wantErr: []string{"providers.llm.name is required"},
		},
		{
			name:    "bad log level",
			yaml:    "server: {log_level: loud}\nproviders: {llm: {name: openai}}\n",
			wantErr: []string{"server.log_level"},
		},
		{
			name:    "tls incomplete",
			yaml:    "server: {tls: {cert_file: a.pem}}\nproviders: {llm: {name: openai}}\n",
			wantErr: []string{"server.tls"},
		},
		{
			name:    "sample ratio",
			yaml:    "server: {trace_sample_ratio: 1.5}\nproviders: {llm: {name: openai}}\n",
			wantErr: []string{"server.trace_sample_ratio"},
		},
		{
			name:    "fallback without name",
			yaml:    "providers: {llm: {name: openai}, llm_fallbacks: [{model: x}]}\n",
			wantErr: []string{"llm_fallbacks[0].name"},
		},
		{
			name:    "pipeline bounds",
			yaml:    "providers: {llm: {name: openai}}\npipeline: {min_steps: 9, target_steps: 4}\n",
			wantErr: []string{"pipeline:"},
		},
		{
			name:    "weights do not sum to one",
			yaml:    "providers: {llm: {name: openai}}\npipeline: {weights: {word: 0.3}}\n",
			wantErr: []string{"pipeline:"},
		},
		{
			name:    "store dimensions",
			yaml:    "providers: {llm: {name: openai}}\nstore: {postgres_dsn: postgres://x, embedding_dimensions: 0}\n",
			wantErr: []string{"store.embedding_dimensions"},
		},
		{
			name:    "jobs",
			yaml:    "providers: {llm: {name: openai}}\njobs: {max_concurrent: 0, event_history: 0}\n",
			wantErr: []string{"jobs.max_concurrent", "jobs.event_history"},
		},
		{
			name:    "errors are collected",
			yaml:    "server: {log_level: loud}\njobs: {max_concurrent: 0}\n",
			wantErr: []string{"server.log_level", "providers.llm.name", "jobs.max_concurrent"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if len(tc.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			for _, want := range tc.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error should mention %q, got: %v", want, err)
				}
			}
		})
	}
}

func TestValidate_PipelineErrorIsInvalidConfig(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Providers.LLM.Name = "openai"
	cfg.Pipeline.Tone = "Pirate"

	err := config.Validate(cfg)
	if !errors.Is(err, pipeline.ErrInvalidConfig) {
		t.Errorf("got %v, want wrapped pipeline.ErrInvalidConfig", err)
	}
}

func TestValidate_UnknownProviderNameIsOnlyAWarning(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Providers.LLM.Name = "my-custom-llm"
	cfg.Providers.Embeddings.Name = "my-custom-embedder"
	if err := config.Validate(cfg); err != nil {
		t.Errorf("unknown provider names must not fail validation: %v", err)
	}
}
