package pipeline_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/stepforge/internal/pipeline"
	"github.com/MrWong99/stepforge/internal/similarity"
)

func TestNewConfig_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := pipeline.NewConfig(pipeline.DefaultOptions())
	if err != nil {
		t.Fatalf("NewConfig(defaults): %v", err)
	}
	if got := cfg.TargetChunks(); got != 8 {
		t.Errorf("TargetChunks = %d, want 8", got)
	}
	if w := cfg.Options().Weights; w.Word != 0.5 || w.Semantic != 0.5 {
		t.Errorf("default weights = %+v", w)
	}
}

func TestNewConfig_CollectsEveryError(t *testing.T) {
	t.Parallel()

	o := pipeline.DefaultOptions()
	o.Tone = "Sarcastic"
	o.MinSteps = 5
	o.TargetSteps = 2
	o.MinConfidence = 1.5
	o.Weights = similarity.Weights{Word: 0.5, Semantic: 0.4}
	o.Generation.Concurrency = 0

	_, err := pipeline.NewConfig(o)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, pipeline.ErrInvalidConfig) {
		t.Errorf("error does not wrap ErrInvalidConfig: %v", err)
	}
	if !errors.Is(err, similarity.ErrWeightSum) {
		t.Errorf("error does not wrap ErrWeightSum: %v", err)
	}
	for _, want := range []string{"tone", "min <= target <= max", "min_confidence", "concurrency"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestNewConfig_Table(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*pipeline.Options)
		ok     bool
	}{
		{"all tones", func(o *pipeline.Options) { o.Tone = pipeline.ToneFormal }, true},
		{"weights within tolerance", func(o *pipeline.Options) {
			o.Weights = similarity.Weights{Word: 0.3, Keyword: 0.2, Semantic: 0.5 + 1e-7}
		}, true},
		{"negative weight", func(o *pipeline.Options) { o.Weights = similarity.Weights{Word: 1.2, Char: -0.2} }, false},
		{"max below min", func(o *pipeline.Options) { o.MaxSteps = 2 }, false},
		{"zero min steps", func(o *pipeline.Options) { o.MinSteps = 0 }, false},
		{"negative overlap", func(o *pipeline.Options) { o.Chunking.OverlapSentences = -1 }, false},
		{"inverted chunk bounds", func(o *pipeline.Options) { o.Chunking.MaxSentencesPerChunk = 1 }, false},
		{"negative rate", func(o *pipeline.Options) { o.Generation.RequestsPerSecond = -1 }, false},
		{"zero max tokens", func(o *pipeline.Options) { o.Generation.MaxTokens = 0 }, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			o := pipeline.DefaultOptions()
			tc.mutate(&o)
			_, err := pipeline.NewConfig(o)
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestConfig_OptionsIsACopy(t *testing.T) {
	t.Parallel()
	o := pipeline.DefaultOptions()
	o.Cleaning.FillerWords = []string{"so yeah"}
	cfg, err := pipeline.NewConfig(o)
	if err != nil {
		t.Fatal(err)
	}
	o.Cleaning.FillerWords[0] = "mutated"

	got := cfg.Options()
	if got.Cleaning.FillerWords[0] != "so yeah" {
		t.Errorf("config shares filler slice with caller: %q", got.Cleaning.FillerWords)
	}
	got.Cleaning.FillerWords[0] = "mutated again"
	if cfg.Options().Cleaning.FillerWords[0] != "so yeah" {
		t.Error("Options() exposes internal slice")
	}
}

func TestStageRanges(t *testing.T) {
	t.Parallel()
	stages := []pipeline.Stage{
		pipeline.StageLoad, pipeline.StageClean, pipeline.StageAnalyzeStructure, pipeline.StagePlan,
		pipeline.StageGenerateSteps, pipeline.StageBuildSources, pipeline.StageValidate,
		pipeline.StageFinalize, pipeline.StageComplete,
	}
	prevHigh := 0.0
	for _, s := range stages {
		low, high := s.Range()
		if low != prevHigh {
			t.Errorf("%s starts at %v, previous stage ended at %v", s, low, prevHigh)
		}
		if high < low {
			t.Errorf("%s has inverted range [%v, %v)", s, low, high)
		}
		prevHigh = high
	}
	if prevHigh != 1 {
		t.Errorf("ranges end at %v, want 1", prevHigh)
	}
}
