package similarity

import (
	"context"
	"fmt"
)

// Scorer computes hybrid scores for one pipeline run. Construct a new Scorer
// (and so a new [Cache]) per run.
type Scorer struct {
	weights  Weights
	semantic Semantic
	cache    *Cache
}

// NewScorer returns a scorer using w. When sem is unavailable the semantic
// weight is redistributed with [Weights.WithoutSemantic]. A nil cache is
// replaced by a fresh one when semantic scoring is available.
func NewScorer(w Weights, sem Semantic, cache *Cache) *Scorer {
	s := &Scorer{weights: w, semantic: sem, cache: cache}
	if !sem.IsAvailable() {
		s.weights = w.WithoutSemantic()
		s.cache = nil
	} else if s.cache == nil {
		s.cache = NewCache(sem.Provider())
	}
	return s
}

// Weights returns the effective weights after any redistribution.
func (s *Scorer) Weights() Weights { return s.weights }

// SemanticAvailable reports whether the semantic component is in use.
func (s *Scorer) SemanticAvailable() bool { return s.semantic.IsAvailable() }

// Cache returns the run's embedding cache, or nil without semantic scoring.
func (s *Scorer) Cache() *Cache { return s.cache }

// Components computes every component with a nonzero weight.
func (s *Scorer) Components(ctx context.Context, step, sentence string) (Components, error) {
	var c Components
	w := s.weights
	if w.Word > 0 {
		c.Word = WordOverlap(step, sentence)
	}
	if w.Keyword > 0 {
		c.Keyword = KeywordOverlap(step, sentence)
	}
	if w.Phrase > 0 {
		c.Phrase = PhraseOverlap(step, sentence)
	}
	if w.Char > 0 {
		c.Char = CharSimilarity(step, sentence)
	}
	if w.Semantic > 0 && s.cache != nil {
		a, err := s.cache.GetOrCompute(ctx, step)
		if err != nil {
			return c, fmt.Errorf("similarity: embed step: %w", err)
		}
		b, err := s.cache.GetOrCompute(ctx, sentence)
		if err != nil {
			return c, fmt.Errorf("similarity: embed sentence: %w", err)
		}
		c.Semantic = Cosine(a, b)
	}
	return c, nil
}

// Score returns the hybrid score of step against sentence with its
// components.
func (s *Scorer) Score(ctx context.Context, step, sentence string) (float64, Components, error) {
	c, err := s.Components(ctx, step, sentence)
	if err != nil {
		return 0, c, err
	}
	return s.weights.Combine(c), c, nil
}
