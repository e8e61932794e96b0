// Package similarity scores how well a generated step is supported by a
// transcript sentence.
//
// Five components each yield a value in [0,1]: word overlap, keyword overlap,
// phrase overlap, character similarity and semantic (embedding) similarity.
// The hybrid score is their weighted sum under [Weights] that sum to 1.
// Lexical components are pure functions; the semantic component goes through
// a per-run [Cache] in front of an embeddings provider.
package similarity

import (
	"errors"
	"fmt"
	"math"
)

// WeightTolerance is the allowed deviation of the weight sum from 1.
const WeightTolerance = 1e-6

var (
	// ErrWeightSum is returned when the weights do not sum to 1 within
	// [WeightTolerance].
	ErrWeightSum = errors.New("similarity: weights must sum to 1")

	// ErrNegativeWeight is returned when any weight is negative or NaN.
	ErrNegativeWeight = errors.New("similarity: weights must be non-negative")
)

// Weights is the weight of each score component in the hybrid score.
type Weights struct {
	Word     float64 `json:"word" yaml:"word"`
	Keyword  float64 `json:"keyword" yaml:"keyword"`
	Phrase   float64 `json:"phrase" yaml:"phrase"`
	Semantic float64 `json:"semantic" yaml:"semantic"`
	Char     float64 `json:"char" yaml:"char"`
}

// DefaultWeights returns the default mix: half word overlap, half semantic.
func DefaultWeights() Weights {
	return Weights{Word: 0.5, Semantic: 0.5}
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Word + w.Keyword + w.Phrase + w.Semantic + w.Char
}

// Validate checks that every weight is non-negative and that they sum to 1.
func (w Weights) Validate() error {
	for _, v := range [...]float64{w.Word, w.Keyword, w.Phrase, w.Semantic, w.Char} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: got %+v", ErrNegativeWeight, w)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1) > WeightTolerance {
		return fmt.Errorf("%w: got %.6f", ErrWeightSum, sum)
	}
	return nil
}

// WithoutSemantic returns w with the semantic weight moved onto the lexical
// components in proportion to their current weights. If every lexical weight
// is zero the semantic share goes to word overlap. The total is preserved.
func (w Weights) WithoutSemantic() Weights {
	if w.Semantic == 0 {
		return w
	}
	lexical := w.Word + w.Keyword + w.Phrase + w.Char
	out := w
	out.Semantic = 0
	if lexical == 0 {
		out.Word += w.Semantic
		return out
	}
	scale := (lexical + w.Semantic) / lexical
	out.Word *= scale
	out.Keyword *= scale
	out.Phrase *= scale
	out.Char *= scale
	return out
}

// Components holds the individual component scores for one comparison.
// Components whose weight is zero are not computed and stay 0.
type Components struct {
	Word     float64 `json:"word"`
	Keyword  float64 `json:"keyword"`
	Phrase   float64 `json:"phrase"`
	Semantic float64 `json:"semantic"`
	Char     float64 `json:"char"`
}

// Combine returns the weighted sum of c, clamped to [0,1].
func (w Weights) Combine(c Components) float64 {
	return clamp01(w.Word*c.Word +
		w.Keyword*c.Keyword +
		w.Phrase*c.Phrase +
		w.Semantic*c.Semantic +
		w.Char*c.Char)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
