package similarity

import (
	"context"
	"fmt"
	"math"

	"github.com/MrWong99/stepforge/pkg/provider/embeddings"
)

// probeText is embedded once by [Resolve] to check that the backend works.
const probeText = "semantic capability probe"

// Semantic is the semantic-similarity capability, resolved once at startup.
// It is either available, carrying an embeddings provider, or unavailable,
// carrying the reason. The zero value is unavailable.
type Semantic struct {
	provider embeddings.Provider
	reason   string
}

// Available returns a capability backed by p. A nil p yields an unavailable
// capability.
func Available(p embeddings.Provider) Semantic {
	if p == nil {
		return Unavailable("no embeddings provider")
	}
	return Semantic{provider: p}
}

// Unavailable returns a capability that records why semantic scoring is off.
func Unavailable(reason string) Semantic {
	return Semantic{reason: reason}
}

// IsAvailable reports whether semantic scoring can be used.
func (s Semantic) IsAvailable() bool { return s.provider != nil }

// Provider returns the embeddings provider, or nil when unavailable.
func (s Semantic) Provider() embeddings.Provider { return s.provider }

// Reason returns why the capability is unavailable, or "" when available.
func (s Semantic) Reason() string { return s.reason }

// String implements fmt.Stringer.
func (s Semantic) String() string {
	if s.IsAvailable() {
		return "available (" + s.provider.ModelID() + ")"
	}
	return "unavailable: " + s.reason
}

// Resolve decides the capability once. It is unavailable when disabled, when
// p is nil, or when a probe embedding fails or comes back empty. Resolve never
// returns an error; the outcome is the value itself.
func Resolve(ctx context.Context, p embeddings.Provider, enabled bool) Semantic {
	switch {
	case !enabled:
		return Unavailable("disabled by configuration")
	case p == nil:
		return Unavailable("no embeddings provider configured")
	}
	vec, err := p.Embed(ctx, probeText)
	if err != nil {
		return Unavailable(fmt.Sprintf("probe failed: %v", err))
	}
	if len(vec) == 0 {
		return Unavailable("probe returned an empty vector")
	}
	return Available(p)
}

// Cosine returns the cosine similarity of a and b clamped to [0,1]. Vectors
// of different length, empty vectors and zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return clamp01(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
