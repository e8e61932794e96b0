package similarity_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/MrWong99/stepforge/internal/similarity"
	"github.com/MrWong99/stepforge/pkg/provider/embeddings/mock"
)

// unitPair returns two unit vectors whose cosine is cos.
func unitPair(cos float64) ([]float32, []float32) {
	return []float32{1, 0}, []float32{float32(cos), float32(math.Sqrt(1 - cos*cos))}
}

func TestCosine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite clamps to zero", []float32{1, 0}, []float32{-1, 0}, 0},
		{"identical", []float32{1, 1}, []float32{1, 1}, 1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tc := range tests {
		if got := similarity.Cosine(tc.a, tc.b); !approx(got, tc.want) {
			t.Errorf("%s: Cosine = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	if s := similarity.Resolve(ctx, &mock.Provider{EmbedResult: []float32{1}}, false); s.IsAvailable() {
		t.Error("disabled capability reported available")
	}
	if s := similarity.Resolve(ctx, nil, true); s.IsAvailable() || s.Reason() == "" {
		t.Errorf("nil provider: got %v", s)
	}

	failing := &mock.Provider{EmbedErr: errors.New("connection refused")}
	s := similarity.Resolve(ctx, failing, true)
	if s.IsAvailable() {
		t.Fatal("failing provider reported available")
	}
	if !strings.Contains(s.Reason(), "connection refused") {
		t.Errorf("reason = %q", s.Reason())
	}

	if s := similarity.Resolve(ctx, &mock.Provider{}, true); s.IsAvailable() {
		t.Error("empty probe vector reported available")
	}

	ok := similarity.Resolve(ctx, &mock.Provider{EmbedResult: []float32{0.1, 0.2}, ModelIDValue: "m"}, true)
	if !ok.IsAvailable() || ok.Provider() == nil {
		t.Fatalf("expected available, got %v", ok)
	}

	var zero similarity.Semantic
	if zero.IsAvailable() {
		t.Error("zero value must be unavailable")
	}
}
