package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MrWong99/stepforge/internal/similarity"
)

// ErrInvalidConfig wraps every error returned by [NewConfig].
var ErrInvalidConfig = errors.New("pipeline: invalid config")

// Tone is the writing style requested from the step generator.
type Tone string

// Supported tones.
const (
	ToneProfessional Tone = "Professional"
	ToneCasual       Tone = "Casual"
	ToneTechnical    Tone = "Technical"
	ToneFormal       Tone = "Formal"
)

// Tones lists every valid [Tone].
var Tones = []Tone{ToneProfessional, ToneCasual, ToneTechnical, ToneFormal}

// IsValid reports whether t is one of [Tones].
func (t Tone) IsValid() bool { return slices.Contains(Tones, t) }

// Chunking controls how sentences are grouped for generation.
type Chunking struct {
	OverlapSentences     int  `json:"overlap_sentences"`
	MinSentencesPerChunk int  `json:"min_sentences_per_chunk"`
	MaxSentencesPerChunk int  `json:"max_sentences_per_chunk"`
	PreferParagraphs     bool `json:"prefer_paragraphs"`
}

// Generation controls the model calls of the generate_steps stage.
type Generation struct {
	// Concurrency is the number of chunks generated in parallel.
	Concurrency int           `json:"concurrency"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Timeout     time.Duration `json:"timeout"`

	// RequestsPerSecond caps the model call rate. Zero means unlimited.
	RequestsPerSecond float64 `json:"requests_per_second"`
}

// Cleaning controls the clean stage.
type Cleaning struct {
	// FillerWords are added to the built-in filler list.
	FillerWords      []string `json:"filler_words"`
	RemoveDuplicates bool     `json:"remove_duplicates"`
}

// Options is the mutable input to [NewConfig]. Start from [DefaultOptions].
type Options struct {
	Tone     Tone   `json:"tone"`
	Audience string `json:"audience"`

	MinSteps    int `json:"min_steps"`
	TargetSteps int `json:"target_steps"`
	MaxSteps    int `json:"max_steps"`

	MinConfidence  float64 `json:"min_confidence"`
	HighConfidence float64 `json:"high_confidence"`

	UseSemantic            bool               `json:"use_semantic"`
	FullTranscriptFallback bool               `json:"full_transcript_fallback"`
	Weights                similarity.Weights `json:"weights"`

	Chunking   Chunking   `json:"chunking"`
	Generation Generation `json:"generation"`
	Cleaning   Cleaning   `json:"cleaning"`
}

// DefaultOptions returns the default pipeline settings.
func DefaultOptions() Options {
	return Options{
		Tone:                   ToneProfessional,
		Audience:               "Technical Users",
		MinSteps:               3,
		TargetSteps:            8,
		MaxSteps:               15,
		MinConfidence:          0.25,
		HighConfidence:         0.7,
		UseSemantic:            true,
		FullTranscriptFallback: true,
		Weights:                similarity.DefaultWeights(),
		Chunking: Chunking{
			OverlapSentences:     1,
			MinSentencesPerChunk: 2,
			MaxSentencesPerChunk: 20,
			PreferParagraphs:     true,
		},
		Generation: Generation{
			Concurrency: 4,
			Temperature: 0.2,
			MaxTokens:   1000,
			Timeout:     60 * time.Second,
		},
		Cleaning: Cleaning{RemoveDuplicates: true},
	}
}

// Config is a validated, immutable pipeline configuration. The zero value is
// not usable; build one with [NewConfig].
type Config struct {
	opts Options
}

// NewConfig validates o and returns the resulting Config. Every violation is
// reported, joined, and wrapped in [ErrInvalidConfig].
func NewConfig(o Options) (Config, error) {
	var errs []error

	if !o.Tone.IsValid() {
		errs = append(errs, fmt.Errorf("tone %q is not one of %v", o.Tone, Tones))
	}
	if o.MinSteps < 1 {
		errs = append(errs, fmt.Errorf("min_steps must be at least 1, got %d", o.MinSteps))
	}
	if o.TargetSteps < o.MinSteps || o.TargetSteps > o.MaxSteps {
		errs = append(errs, fmt.Errorf("steps must satisfy min <= target <= max, got %d <= %d <= %d", o.MinSteps, o.TargetSteps, o.MaxSteps))
	}
	if o.MinConfidence < 0 || o.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("min_confidence must be in [0,1], got %v", o.MinConfidence))
	}
	if o.HighConfidence < 0 || o.HighConfidence > 1 {
		errs = append(errs, fmt.Errorf("high_confidence must be in [0,1], got %v", o.HighConfidence))
	}
	if err := o.Weights.Validate(); err != nil {
		errs = append(errs, err)
	}

	ch := o.Chunking
	if ch.OverlapSentences < 0 {
		errs = append(errs, fmt.Errorf("chunking.overlap_sentences must not be negative, got %d", ch.OverlapSentences))
	}
	if ch.MinSentencesPerChunk < 1 || ch.MaxSentencesPerChunk < ch.MinSentencesPerChunk {
		errs = append(errs, fmt.Errorf("chunking sentence bounds must satisfy 1 <= min <= max, got %d..%d", ch.MinSentencesPerChunk, ch.MaxSentencesPerChunk))
	}

	g := o.Generation
	if g.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("generation.concurrency must be at least 1, got %d", g.Concurrency))
	}
	if g.Temperature < 0 || g.Temperature > 2 {
		errs = append(errs, fmt.Errorf("generation.temperature must be in [0,2], got %v", g.Temperature))
	}
	if g.MaxTokens < 1 {
		errs = append(errs, fmt.Errorf("generation.max_tokens must be at least 1, got %d", g.MaxTokens))
	}
	if g.Timeout < 0 {
		errs = append(errs, fmt.Errorf("generation.timeout must not be negative, got %s", g.Timeout))
	}
	if g.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("generation.requests_per_second must not be negative, got %v", g.RequestsPerSecond))
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	o.Cleaning.FillerWords = slices.Clone(o.Cleaning.FillerWords)
	return Config{opts: o}, nil
}

// DefaultConfig returns the validated [DefaultOptions].
func DefaultConfig() Config {
	cfg, err := NewConfig(DefaultOptions())
	if err != nil {
		panic("pipeline: default options invalid: " + err.Error())
	}
	return cfg
}

// Options returns a copy of the settings behind c, suitable for deriving a
// modified Config.
func (c Config) Options() Options {
	o := c.opts
	o.Cleaning.FillerWords = slices.Clone(o.Cleaning.FillerWords)
	return o
}

// TargetChunks returns the target step count clamped to [MinSteps, MaxSteps].
func (c Config) TargetChunks() int {
	return min(max(c.opts.TargetSteps, c.opts.MinSteps), c.opts.MaxSteps)
}
