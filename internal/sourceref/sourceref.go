// Package sourceref finds, for each generated step, the transcript sentence
// that best supports it and records the hybrid score as the step's
// confidence.
//
// The search first covers the home sentences of the step's own chunk;
// overlap sentences borrowed from neighbouring chunks are context for
// generation only and are never cited with [ScopeChunk]. When the best chunk
// score stays below the accept threshold and fallback search is enabled, the
// whole transcript is searched and the better match wins.
package sourceref

import (
	"context"
	"fmt"

	"github.com/MrWong99/stepforge/internal/similarity"
	"github.com/MrWong99/stepforge/internal/stepgen"
	"github.com/MrWong99/stepforge/internal/transcript"
	"github.com/MrWong99/stepforge/internal/transcript/chunk"
)

// Scope values of [SourceReference].
const (
	ScopeChunk      = "chunk"
	ScopeTranscript = "transcript"
)

// NoSentence is the SentenceID of a reference that found no sentence.
const NoSentence = -1

// Scorer computes the hybrid score of a step text against a sentence.
// [*similarity.Scorer] is the production implementation.
type Scorer interface {
	Score(ctx context.Context, step, sentence string) (float64, similarity.Components, error)
}

var _ Scorer = (*similarity.Scorer)(nil)

// SourceReference is the best-supporting sentence for one step.
type SourceReference struct {
	StepIndex  int                   `json:"step_index"`
	SentenceID int                   `json:"sentence_id"`
	Excerpt    string                `json:"excerpt"`
	Confidence float64               `json:"confidence"`
	Components similarity.Components `json:"components"`
	Scope      string                `json:"scope"`
}

// Option is a functional option for [Manager].
type Option func(*Manager)

// WithFallbackSearch enables or disables the full-transcript search for
// weak chunk matches. Default: enabled.
func WithFallbackSearch(enabled bool) Option {
	return func(m *Manager) { m.fallback = enabled }
}

// WithAcceptThreshold sets the score below which a chunk match triggers the
// fallback search. Default: 0.25.
func WithAcceptThreshold(threshold float64) Option {
	return func(m *Manager) { m.threshold = threshold }
}

// Manager looks up source references against one run's sentences.
// It is safe for concurrent use when the underlying scorer is.
type Manager struct {
	scorer    Scorer
	sentences []transcript.Sentence
	fallback  bool
	threshold float64
}

// New returns a manager over sentences. Sentence IDs must equal their index
// in the slice, which [transcript.BuildIndex] guarantees.
func New(scorer Scorer, sentences []transcript.Sentence, opts ...Option) *Manager {
	m := &Manager{
		scorer:    scorer,
		sentences: sentences,
		fallback:  true,
		threshold: 0.25,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Reference returns the best match for step, searching c's home sentences
// and, if needed, the whole transcript. Ties go to the lowest sentence ID.
func (m *Manager) Reference(ctx context.Context, stepIndex int, step stepgen.CandidateStep, c chunk.Chunk) (SourceReference, error) {
	ref := SourceReference{StepIndex: stepIndex, SentenceID: NoSentence, Scope: ScopeChunk}
	if len(m.sentences) == 0 {
		return ref, nil
	}

	best, err := m.search(ctx, step.Text, c.HomeIDs)
	if err != nil {
		return ref, fmt.Errorf("sourceref: step %d: %w", stepIndex, err)
	}
	best.scope = ScopeChunk

	if m.fallback && (best.id == NoSentence || best.score < m.threshold) {
		all := make([]int, len(m.sentences))
		for i := range all {
			all[i] = i
		}
		wide, err := m.search(ctx, step.Text, all)
		if err != nil {
			return ref, fmt.Errorf("sourceref: step %d: transcript search: %w", stepIndex, err)
		}
		if wide.id != NoSentence && (best.id == NoSentence || wide.score > best.score) {
			best = wide
			best.scope = ScopeTranscript
		}
	}

	if best.id == NoSentence {
		return ref, nil
	}
	ref.SentenceID = best.id
	ref.Excerpt = m.sentences[best.id].Text
	ref.Confidence = best.score
	ref.Components = best.comps
	ref.Scope = best.scope
	return ref, nil
}

type match struct {
	id    int
	score float64
	comps similarity.Components
	scope string
}

func (m *Manager) search(ctx context.Context, text string, ids []int) (match, error) {
	best := match{id: NoSentence}
	for _, id := range ids {
		if id < 0 || id >= len(m.sentences) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return best, err
		}
		score, comps, err := m.scorer.Score(ctx, text, m.sentences[id].Text)
		if err != nil {
			return best, err
		}
		if best.id == NoSentence || score > best.score || (score == best.score && id < best.id) {
			best = match{id: id, score: score, comps: comps}
		}
	}
	return best, nil
}
