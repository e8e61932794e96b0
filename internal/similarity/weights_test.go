package similarity_test

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/stepforge/internal/similarity"
)

func TestWeights_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		w       similarity.Weights
		wantErr error
	}{
		{name: "default", w: similarity.DefaultWeights()},
		{name: "all five", w: similarity.Weights{Word: 0.2, Keyword: 0.2, Phrase: 0.2, Semantic: 0.2, Char: 0.2}},
		{name: "within tolerance", w: similarity.Weights{Word: 0.5 + 5e-7, Semantic: 0.5}},
		{name: "short", w: similarity.Weights{Word: 0.5, Semantic: 0.4}, wantErr: similarity.ErrWeightSum},
		{name: "over", w: similarity.Weights{Word: 0.6, Semantic: 0.5}, wantErr: similarity.ErrWeightSum},
		{name: "negative", w: similarity.Weights{Word: 1.5, Semantic: -0.5}, wantErr: similarity.ErrNegativeWeight},
		{name: "nan", w: similarity.Weights{Word: math.NaN(), Semantic: 1}, wantErr: similarity.ErrNegativeWeight},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.w.Validate()
			if tc.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestWeights_WithoutSemantic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   similarity.Weights
		want similarity.Weights
	}{
		{name: "default moves to word", in: similarity.DefaultWeights(), want: similarity.Weights{Word: 1}},
		{name: "proportional", in: similarity.Weights{Word: 0.3, Keyword: 0.2, Semantic: 0.5}, want: similarity.Weights{Word: 0.6, Keyword: 0.4}},
		{name: "semantic only", in: similarity.Weights{Semantic: 1}, want: similarity.Weights{Word: 1}},
		{name: "no semantic", in: similarity.Weights{Word: 0.5, Char: 0.5}, want: similarity.Weights{Word: 0.5, Char: 0.5}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := tc.in.WithoutSemantic()
			if got.Semantic != 0 {
				t.Errorf("semantic weight = %v, want 0", got.Semantic)
			}
			if err := got.Validate(); err != nil {
				t.Errorf("redistributed weights invalid: %v", err)
			}
			for _, pair := range [][2]float64{
				{got.Word, tc.want.Word}, {got.Keyword, tc.want.Keyword},
				{got.Phrase, tc.want.Phrase}, {got.Char, tc.want.Char},
			} {
				if math.Abs(pair[0]-pair[1]) > 1e-9 {
					t.Errorf("got %+v, want %+v", got, tc.want)
					break
				}
			}
		})
	}
}

func TestWeights_CombineClamped(t *testing.T) {
	t.Parallel()
	w := similarity.Weights{Word: 0.5, Semantic: 0.5 + 1e-7}
	got := w.Combine(similarity.Components{Word: 1, Semantic: 1})
	if got != 1 {
		t.Errorf("Combine = %v, want clamp to 1", got)
	}
}
