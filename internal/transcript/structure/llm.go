package structure

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/MrWong99/stepforge/internal/transcript"
	"github.com/MrWong99/stepforge/pkg/provider/llm"
)

const (
	defaultTemperature  = 0.1
	defaultMaxTokens    = 400
	defaultMaxSentences = 500
)

const llmSystemPrompt = `You segment instructional transcripts into procedural sections.

Each input line is one sentence in the form "[id] text". A section is a run of consecutive sentences that together describe one task a trainee performs.

Rules:
- Start a new section only where the speaker moves on to a different task.
- Do NOT split a single task across sections; keep setup and confirmation sentences with their task.
- Sentence 0 always starts the first section.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"topic_starts": [<sentence ids that open a section, ascending>]}`

type llmResponse struct {
	TopicStarts []int `json:"topic_starts"`
}

// Analyzer derives topic hints for chunking. The pipeline's
// analyze_structure stage runs one per job.
type Analyzer interface {
	Analyze(ctx context.Context, text string, sentences []transcript.Sentence) (Hints, error)
}

var (
	_ Analyzer = Heuristic{}
	_ Analyzer = (*LLM)(nil)
)

// LLMOption is a functional option for [NewLLM].
type LLMOption func(*LLM)

// WithTemperature sets the sampling temperature. Default: 0.1.
func WithTemperature(temp float64) LLMOption {
	return func(a *LLM) { a.temperature = temp }
}

// WithMaxSentences sets the largest transcript, in sentences, that is sent to
// the model. Longer transcripts go straight to the fallback. Default: 500.
func WithMaxSentences(n int) LLMOption {
	return func(a *LLM) { a.maxSentences = n }
}

// WithFallback sets the analyzer used when the model cannot be asked or its
// reply is unusable. Default: [Heuristic].
func WithFallback(f Analyzer) LLMOption {
	return func(a *LLM) { a.fallback = f }
}

// LLM asks a language model where the sections of a transcript begin. It is
// safe for concurrent use.
//
// To use a dedicated model for segmentation, construct the provider with
// that model rather than sharing the generation provider.
type LLM struct {
	llm          llm.Provider
	temperature  float64
	maxSentences int
	fallback     Analyzer
}

// NewLLM returns an [LLM] analyzer backed by provider.
func NewLLM(provider llm.Provider, opts ...LLMOption) *LLM {
	a := &LLM{
		llm:          provider,
		temperature:  defaultTemperature,
		maxSentences: defaultMaxSentences,
		fallback:     Heuristic{},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Analyze implements the structure-analysis capability. Backend errors and
// unusable replies fall back to the configured fallback analyzer; only
// context cancellation is returned as an error.
func (a *LLM) Analyze(ctx context.Context, text string, sentences []transcript.Sentence) (Hints, error) {
	if len(sentences) == 0 {
		return Hints{}, ctx.Err()
	}
	if len(sentences) > a.maxSentences {
		slog.Debug("structure: transcript too long for model segmentation", "sentences", len(sentences), "max", a.maxSentences)
		return a.fallback.Analyze(ctx, text, sentences)
	}

	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: llmSystemPrompt,
		Temperature:  a.temperature,
		MaxTokens:    defaultMaxTokens,
		JSONMode:     true,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: numberSentences(sentences)}},
	})
	if err == nil && resp == nil {
		err = fmt.Errorf("empty response")
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Hints{}, ctxErr
		}
		slog.Warn("structure: model segmentation failed, using fallback", "err", err)
		return a.fallback.Analyze(ctx, text, sentences)
	}

	starts, err := parseStarts(resp.Content, sentences)
	if err != nil {
		slog.Warn("structure: unusable segmentation reply, using fallback", "err", err)
		return a.fallback.Analyze(ctx, text, sentences)
	}
	return fromStarts(sentences, starts), nil
}

// numberSentences renders one "[id] text" line per sentence.
func numberSentences(sentences []transcript.Sentence) string {
	var sb strings.Builder
	for _, s := range sentences {
		fmt.Fprintf(&sb, "[%d] %s\n", s.ID, s.Text)
	}
	return sb.String()
}

// parseStarts decodes the model reply and normalises the section starts:
// unknown IDs are dropped, duplicates removed, and the first sentence always
// opens a section.
func parseStarts(content string, sentences []transcript.Sentence) ([]int, error) {
	var r llmResponse
	if err := json.Unmarshal([]byte(llm.TrimCodeFence(content)), &r); err != nil {
		return nil, fmt.Errorf("parse reply: %w", err)
	}

	first, last := sentences[0].ID, sentences[len(sentences)-1].ID
	starts := []int{first}
	for _, id := range r.TopicStarts {
		if id > first && id <= last {
			starts = append(starts, id)
		}
	}
	slices.Sort(starts)
	starts = slices.Compact(starts)
	if len(starts) == 1 && len(r.TopicStarts) == 0 {
		return nil, fmt.Errorf("reply has no topic starts")
	}
	return starts, nil
}

// fromStarts groups sentences into runs that begin at each start ID. starts
// must be sorted and contain the first sentence's ID.
func fromStarts(sentences []transcript.Sentence, starts []int) Hints {
	h := Hints{TopicStarts: starts}
	var current []int
	next := 1
	for _, s := range sentences {
		if next < len(starts) && s.ID == starts[next] {
			h.Groups = append(h.Groups, current)
			current = nil
			next++
		}
		current = append(current, s.ID)
	}
	h.Groups = append(h.Groups, current)
	return h
}
