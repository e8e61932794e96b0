package similarity_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/stepforge/internal/similarity"
	"github.com/MrWong99/stepforge/pkg/provider/embeddings/mock"
)

func TestScorer_HybridScenarios(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		step, sentence   string
		cos              float64
		wantLow, wantHigh float64
	}{
		{
			name: "near paraphrase", step: "Click Create a resource", sentence: "Click Create resource",
			cos: 0.99, wantLow: 0.8, wantHigh: 0.9,
		},
		{
			name: "semantic match with little lexical overlap", step: "Go to portal.azure.com", sentence: "Navigate to the Azure portal",
			cos: 0.858, wantLow: 0.43, wantHigh: 0.55,
		},
		{
			name: "unrelated", step: "Navigate to portal", sentence: "Delete the database",
			cos: 0.106, wantLow: 0, wantHigh: 0.2,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			a, b := unitPair(tc.cos)
			p := &mock.Provider{Vectors: map[string][]float32{tc.step: a, tc.sentence: b}}
			s := similarity.NewScorer(similarity.DefaultWeights(), similarity.Available(p), nil)

			score, comps, err := s.Score(context.Background(), tc.step, tc.sentence)
			if err != nil {
				t.Fatalf("Score: %v", err)
			}
			if !approx(comps.Semantic, tc.cos) {
				t.Errorf("semantic = %v, want %v", comps.Semantic, tc.cos)
			}
			if score < tc.wantLow || score > tc.wantHigh {
				t.Errorf("score = %.4f, want within [%v, %v]", score, tc.wantLow, tc.wantHigh)
			}

			again, _, _ := s.Score(context.Background(), tc.step, tc.sentence)
			if again != score {
				t.Errorf("score not deterministic: %v then %v", score, again)
			}
		})
	}
}

func TestScorer_DegradesWithoutSemantic(t *testing.T) {
	t.Parallel()
	s := similarity.NewScorer(similarity.DefaultWeights(), similarity.Unavailable("offline"), nil)

	if s.SemanticAvailable() || s.Cache() != nil {
		t.Fatal("semantic scoring should be off")
	}
	if w := s.Weights(); w.Word != 1 || w.Semantic != 0 {
		t.Errorf("weights = %+v, want all on word", w)
	}
	score, comps, err := s.Score(context.Background(), "Click Create a resource", "Click Create resource")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if comps.Semantic != 0 || !approx(score, 0.75) {
		t.Errorf("score = %v (%+v), want 0.75 from word overlap alone", score, comps)
	}
}

func TestScorer_SkipsZeroWeightComponents(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{EmbedResult: []float32{1}}
	s := similarity.NewScorer(similarity.Weights{Word: 0.5, Char: 0.5}, similarity.Available(p), nil)

	_, comps, err := s.Score(context.Background(), "open the portal", "open the portal")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if comps.Keyword != 0 || comps.Phrase != 0 || comps.Semantic != 0 {
		t.Errorf("unweighted components computed: %+v", comps)
	}
	if p.EmbedCallCount() != 0 {
		t.Errorf("embedded with zero semantic weight")
	}
}

func TestScorer_EmbeddingErrorSurfaces(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{EmbedErr: errors.New("rate limited")}
	s := similarity.NewScorer(similarity.DefaultWeights(), similarity.Available(p), nil)
	if _, _, err := s.Score(context.Background(), "a", "b"); err == nil {
		t.Fatal("expected error")
	}
}

func TestScorer_AllComponentsBounded(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{EmbedResult: []float32{0.2, 0.9, 0.1}}
	w := similarity.Weights{Word: 0.2, Keyword: 0.2, Phrase: 0.2, Semantic: 0.2, Char: 0.2}
	s := similarity.NewScorer(w, similarity.Available(p), nil)

	pairs := [][2]string{
		{"Open the Azure portal", "First, open the Azure portal in your browser."},
		{"", "anything"},
		{"Restart the service", "Restart the service"},
	}
	for _, pr := range pairs {
		score, c, err := s.Score(context.Background(), pr[0], pr[1])
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		for _, v := range []float64{score, c.Word, c.Keyword, c.Phrase, c.Semantic, c.Char} {
			if v < 0 || v > 1 {
				t.Errorf("%q vs %q: value %v out of range (%+v)", pr[0], pr[1], v, c)
			}
		}
	}
}
