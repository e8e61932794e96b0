package similarity_test

import (
	"math"
	"reflect"
	"testing"

	"github.com/MrWong99/stepforge/internal/similarity"
)

const eps = 1e-3

func approx(a, b float64) bool { return math.Abs(a-b) < eps }

func TestTokenize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "edge punctuation trimmed",
			in:   `Click "Create", then (quickly) go!`,
			want: []string{"click", "create", "then", "quickly", "go"},
		},
		{
			name: "inner punctuation kept",
			in:   "Go to portal.azure.com and follow the step-by-step guide.",
			want: []string{"go", "to", "portal.azure.com", "and", "follow", "the", "step-by-step", "guide"},
		},
		{
			name: "punctuation-only tokens dropped",
			in:   "Save -- then ... (Click)",
			want: []string{"save", "then", "click"},
		},
		{
			name: "empty",
			in:   "  ",
			want: []string{},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := similarity.Tokenize(tc.in)
			if len(got) == 0 && len(tc.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Tokenize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestWordOverlap_HostnameMatchesOnlyItself(t *testing.T) {
	t.Parallel()
	if got := similarity.WordOverlap("portal.azure.com", "portalazurecom"); got != 0 {
		t.Errorf("WordOverlap = %v, want 0", got)
	}
	if got := similarity.WordOverlap("Open portal.azure.com.", "open portal.azure.com"); !approx(got, 1) {
		t.Errorf("WordOverlap = %v, want 1", got)
	}
}

func TestWordOverlap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want float64
	}{
		{"Click Create a resource", "Click Create resource", 0.75},
		{"Open the portal.", "open the PORTAL", 1},
		{"", "", 0},
		{"Navigate to portal", "Delete the database", 0},
	}
	for _, tc := range tests {
		if got := similarity.WordOverlap(tc.a, tc.b); !approx(got, tc.want) {
			t.Errorf("WordOverlap(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestKeywordOverlap(t *testing.T) {
	t.Parallel()

	if got := similarity.Keywords("Navigate to the Azure portal dashboard"); !reflect.DeepEqual(got, []string{"navigate", "azure", "portal", "dashboard"}) {
		t.Errorf("Keywords = %q", got)
	}
	if got := similarity.KeywordOverlap("Navigate to the Azure portal dashboard", "Open the Azure portal"); !approx(got, 0.5) {
		t.Errorf("KeywordOverlap = %v, want 0.5", got)
	}
	if got := similarity.KeywordOverlap("Go to it", "anything"); got != 0 {
		t.Errorf("KeywordOverlap without keywords = %v, want 0", got)
	}
}

func TestPhraseOverlap(t *testing.T) {
	t.Parallel()

	if got := similarity.PhraseOverlap("click create a resource", "then click create a resource now"); got != 1 {
		t.Errorf("three shared bigrams = %v, want 1", got)
	}
	if got := similarity.PhraseOverlap("click create now", "please click create"); !approx(got, 1.0/3) {
		t.Errorf("one shared bigram = %v, want 1/3", got)
	}
	if got := similarity.PhraseOverlap("single", "single"); got != 0 {
		t.Errorf("no bigrams = %v, want 0", got)
	}
}

func TestCharSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want float64
	}{
		{"abc", "abd", 2.0 / 3},
		{"ABC", "abc", 1},
		{"open   the portal", "open the portal", 1},
		{"", "", 0},
		{"abc", "", 0},
	}
	for _, tc := range tests {
		if got := similarity.CharSimilarity(tc.a, tc.b); !approx(got, tc.want) {
			t.Errorf("CharSimilarity(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestLexicalBounds(t *testing.T) {
	t.Parallel()

	texts := []string{
		"", "a", "Open the Azure portal.", "Click Create a resource, then Review + create!",
		"¿Dónde está el botón?", "the the the the", "12345 67890", "Go to portal.azure.com",
	}
	for _, a := range texts {
		for _, b := range texts {
			for name, v := range map[string]float64{
				"word":    similarity.WordOverlap(a, b),
				"keyword": similarity.KeywordOverlap(a, b),
				"phrase":  similarity.PhraseOverlap(a, b),
				"char":    similarity.CharSimilarity(a, b),
			} {
				if v < 0 || v > 1 || math.IsNaN(v) {
					t.Errorf("%s(%q, %q) = %v out of [0,1]", name, a, b, v)
				}
			}
		}
	}
}
