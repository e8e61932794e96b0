package similarity

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// keywordMinRunes is the length a token must exceed to count as a keyword.
const keywordMinRunes = 4

// phraseSaturation is the number of shared bigrams that yields a full phrase
// score.
const phraseSaturation = 3

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {},
	"on": {}, "at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {},
	"have": {}, "has": {}, "had": {}, "do": {}, "does": {}, "did": {},
	"will": {}, "would": {}, "should": {}, "could": {},
}

// IsStopWord reports whether the lowercase token is on the stop-word list.
func IsStopWord(token string) bool {
	_, ok := stopWords[token]
	return ok
}

// Tokenize lowercases text, splits it on whitespace and trims punctuation
// from both ends of each token. Punctuation inside a token is kept, so
// "portal.azure.com" and "step-by-step" stay whole. Tokens made only of
// punctuation are dropped.
func Tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimFunc(f, unicode.IsPunct); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// WordOverlap is the Jaccard index of the two texts' token sets. It is 0
// when both texts have no tokens.
func WordOverlap(a, b string) float64 {
	sa, sb := tokenSet(Tokenize(a)), tokenSet(Tokenize(b))
	inter := 0
	for t := range sa {
		if _, ok := sb[t]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Keywords returns the distinct non-stop-word tokens of text longer than four
// runes, in first-occurrence order.
func Keywords(text string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, t := range Tokenize(text) {
		if IsStopWord(t) || len([]rune(t)) <= keywordMinRunes {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// KeywordOverlap is the fraction of step's keywords that occur in sentence.
// It is 0 when step has no keywords.
func KeywordOverlap(step, sentence string) float64 {
	kw := Keywords(step)
	if len(kw) == 0 {
		return 0
	}
	words := tokenSet(Tokenize(sentence))
	hits := 0
	for _, k := range kw {
		if _, ok := words[k]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(kw))
}

func bigrams(tokens []string) map[string]struct{} {
	set := make(map[string]struct{})
	for i := 0; i+1 < len(tokens); i++ {
		set[tokens[i]+" "+tokens[i+1]] = struct{}{}
	}
	return set
}

// PhraseOverlap scores shared word bigrams: each shared bigram adds a third,
// capped at 1.
func PhraseOverlap(a, b string) float64 {
	ba, bb := bigrams(Tokenize(a)), bigrams(Tokenize(b))
	shared := 0
	for p := range ba {
		if _, ok := bb[p]; ok {
			shared++
		}
	}
	return clamp01(float64(shared) / phraseSaturation)
}

// CharSimilarity is 1 minus the Levenshtein distance over the longer rune
// length, computed on lowercased whitespace-collapsed text. It is 0 when
// both texts are empty.
func CharSimilarity(a, b string) float64 {
	a = strings.Join(strings.Fields(strings.ToLower(a)), " ")
	b = strings.Join(strings.Fields(strings.ToLower(b)), " ")
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 0
	}
	return clamp01(1 - float64(matchr.Levenshtein(a, b))/float64(longest))
}
