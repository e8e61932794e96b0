// Package stepgen turns one transcript chunk into at most one candidate
// training step by asking a language model for a structured JSON reply.
//
// The [Generator] makes exactly one [llm.Provider] call per chunk. The system
// prompt insists that the step is grounded in the chunk's own wording so
// that the later source-reference search can find the sentences it came
// from. Replies wrapped in markdown code fences are accepted.
package stepgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrWong99/stepforge/internal/transcript/chunk"
	"github.com/MrWong99/stepforge/pkg/provider/llm"
)

const (
	defaultTemperature = 0.2
	defaultMaxTokens   = 1000
)

var (
	// ErrMalformedOutput is returned when the model reply is not the
	// expected JSON object.
	ErrMalformedOutput = errors.New("stepgen: malformed model output")

	// ErrEmptyOutput is returned when the reply parses but carries neither
	// a title nor content.
	ErrEmptyOutput = errors.New("stepgen: empty step")
)

const systemPrompt = `You are an expert technical trainer and documentation specialist.
You turn excerpts of recorded training sessions into clear, step-by-step instructions.

Rules:
- Extract the step DIRECTLY from the transcript excerpt. Do not invent or generalise.
- Reuse the exact phrases, button names, URLs and terminology the speaker used.
- Ignore off-topic remarks, personal stories and tangents.
- Every action starts with a strong, specific verb such as Configure, Create, Add, Set, Run, Open, Click, Select, Enter, Verify, Deploy, Enable or Remove.
- Never start an action with Learn, Understand, Review, Read, Know, Remember, Consider, Try, Make sure, Check out or Look at.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "title": "<action-oriented title, 5-10 words>",
  "overview": "<1-2 sentences on what the reader will accomplish>",
  "content": "<2-4 short paragraphs using details from the excerpt>",
  "actions": ["<Verb>: <specific action>", "..."]
}`

const userPromptTemplate = `Create ONE training step from the transcript excerpt below.

This is step %d of %d.
Target audience: %s
Tone: %s

Excerpt:
%s`

// CandidateStep is an unvalidated step produced from one chunk.
type CandidateStep struct {
	// ChunkIndex is the index of the chunk the step was generated from.
	ChunkIndex int `json:"chunk_index"`

	Title    string   `json:"title"`
	Overview string   `json:"overview"`
	Content  string   `json:"content"`
	Actions  []string `json:"actions"`

	// Text is the span matched against transcript sentences: title,
	// overview, content and actions joined by spaces.
	Text string `json:"text"`

	// Usage is the token usage reported for the generation call.
	Usage llm.Usage `json:"usage"`
}

type stepResponse struct {
	Title    string   `json:"title"`
	Overview string   `json:"overview"`
	Content  string   `json:"content"`
	Actions  []string `json:"actions"`
}

// Option is a functional option for configuring a [Generator].
type Option func(*Generator)

// WithTemperature sets the sampling temperature. Default: 0.2.
func WithTemperature(temp float64) Option {
	return func(g *Generator) { g.temperature = temp }
}

// WithMaxTokens caps the reply length. Default: 1000.
func WithMaxTokens(n int) Option {
	return func(g *Generator) { g.maxTokens = n }
}

// WithTimeout bounds each generation call. Zero means no per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) { g.timeout = d }
}

// WithRateLimit limits calls to rps requests per second across all
// goroutines sharing the generator. Zero or negative disables the limit.
func WithRateLimit(rps float64) Option {
	return func(g *Generator) {
		if rps <= 0 {
			g.limiter = nil
			return
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// Generator produces candidate steps from chunks. It is safe for concurrent
// use.
type Generator struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
	timeout     time.Duration
	limiter     *rate.Limiter
}

// New returns a [Generator] backed by provider.
func New(provider llm.Provider, opts ...Option) *Generator {
	g := &Generator{
		llm:         provider,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate asks the model for one step from c. total is the number of
// chunks in the run and is shown to the model with the step number.
func (g *Generator) Generate(ctx context.Context, c chunk.Chunk, total int, tone, audience string) (CandidateStep, error) {
	if strings.TrimSpace(c.Text) == "" {
		return CandidateStep{}, fmt.Errorf("stepgen: chunk %d: %w", c.Index, ErrEmptyOutput)
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return CandidateStep{}, fmt.Errorf("stepgen: chunk %d: rate limit: %w", c.Index, err)
		}
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Temperature:  g.temperature,
		MaxTokens:    g.maxTokens,
		JSONMode:     true,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: fmt.Sprintf(userPromptTemplate, c.Index+1, total, audience, tone, c.Text)},
		},
	}

	resp, err := g.llm.Complete(ctx, req)
	if err != nil {
		return CandidateStep{}, fmt.Errorf("stepgen: chunk %d: complete: %w", c.Index, err)
	}
	if resp == nil {
		return CandidateStep{}, fmt.Errorf("stepgen: chunk %d: %w", c.Index, ErrEmptyOutput)
	}

	step, err := parseResponse(resp.Content)
	if err != nil {
		return CandidateStep{}, fmt.Errorf("stepgen: chunk %d: %w", c.Index, err)
	}
	step.ChunkIndex = c.Index
	step.Usage = resp.Usage

	for _, a := range step.Actions {
		if verb, weak := WeakVerb(a); weak {
			slog.Debug("stepgen: action starts with a weak verb", "chunk", c.Index, "verb", verb, "action", a)
		}
	}
	return step, nil
}

// parseResponse decodes the model reply into a step and fills in Text.
func parseResponse(content string) (CandidateStep, error) {
	cleaned := llm.TrimCodeFence(content)
	if cleaned == "" {
		return CandidateStep{}, ErrEmptyOutput
	}

	var r stepResponse
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return CandidateStep{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	step := CandidateStep{
		Title:    strings.TrimSpace(r.Title),
		Overview: strings.TrimSpace(r.Overview),
		Content:  strings.TrimSpace(r.Content),
	}
	if step.Title == "" && step.Content == "" {
		return CandidateStep{}, ErrEmptyOutput
	}
	for _, a := range r.Actions {
		if a = strings.TrimSpace(a); a != "" {
			step.Actions = append(step.Actions, a)
		}
	}

	parts := []string{step.Title, step.Overview, step.Content}
	parts = append(parts, step.Actions...)
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	step.Text = strings.Join(nonEmpty, " ")
	return step, nil
}
