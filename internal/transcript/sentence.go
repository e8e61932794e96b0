// Package transcript turns raw transcript text into the cleaned, indexed
// sentence list the step pipeline works on.
//
// [Cleaner] strips recording noise (timestamps, speaker labels, filler words,
// ...) and [BuildIndex] splits the result into [Sentence] values whose byte
// offsets point back into the cleaned text. Both are deterministic: the same
// input always yields the same output.
package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// minSentenceLen is the trimmed byte length a fragment must exceed to be
// kept as a sentence.
const minSentenceLen = 3

// Sentence is one indexed sentence of a cleaned transcript. It is immutable
// once built.
type Sentence struct {
	// ID is the dense zero-based position of the sentence in the index.
	ID int `json:"id"`

	// Text is the trimmed sentence text.
	Text string `json:"text"`

	// Start and End are byte offsets into the cleaned transcript such that
	// cleaned[Start:End] == Text.
	Start int `json:"start"`
	End   int `json:"end"`

	// Paragraph is the zero-based index of the paragraph (blank-line
	// separated block) the sentence belongs to.
	Paragraph int `json:"paragraph"`
}

// BuildIndex splits text into sentences.
//
// A boundary is a run of '.', '!' or '?' followed by whitespace and then an
// uppercase letter, a digit or an opening quote/bracket, or any blank line.
// Fragments of three bytes or fewer are dropped and IDs are renumbered so they
// stay dense. Empty or whitespace-only input yields an empty slice.
func BuildIndex(text string) []Sentence {
	sentences := []Sentence{}
	paragraph := 0
	paragraphHasSentence := false
	segStart := 0

	emit := func(end int) {
		start, stop := trimSpan(text, segStart, end)
		if stop-start > minSentenceLen {
			sentences = append(sentences, Sentence{
				ID:        len(sentences),
				Text:      text[start:stop],
				Start:     start,
				End:       stop,
				Paragraph: paragraph,
			})
			paragraphHasSentence = true
		}
	}

	i := 0
	for i < len(text) {
		c := text[i]

		if c == '\n' {
			if next, ok := blankLineEnd(text, i); ok {
				emit(i)
				if paragraphHasSentence {
					paragraph++
					paragraphHasSentence = false
				}
				segStart = next
				i = next
				continue
			}
		}

		if c == '.' || c == '!' || c == '?' {
			j := i
			for j < len(text) && (text[j] == '.' || text[j] == '!' || text[j] == '?') {
				j++
			}
			if startsNewSentence(text, j) {
				emit(j)
				segStart = j
			}
			i = j
			continue
		}
		i++
	}
	emit(len(text))
	return sentences
}

// blankLineEnd reports whether a blank line starts at the newline at i and,
// if so, returns the offset just past the run of blank lines.
func blankLineEnd(text string, i int) (int, bool) {
	j := i + 1
	for j < len(text) && (text[j] == ' ' || text[j] == '\t' || text[j] == '\r') {
		j++
	}
	if j >= len(text) || text[j] != '\n' {
		return 0, false
	}
	for j < len(text) && isSpace(text[j]) {
		j++
	}
	return j, true
}

// startsNewSentence reports whether the text at offset j is whitespace
// followed by a sentence opener.
func startsNewSentence(text string, j int) bool {
	if j >= len(text) || !isSpace(text[j]) {
		return false
	}
	for j < len(text) && isSpace(text[j]) {
		j++
	}
	if j >= len(text) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(text[j:])
	return unicode.IsUpper(r) || unicode.IsDigit(r) || strings.ContainsRune("\"'“‘([", r)
}

func trimSpan(text string, start, end int) (int, int) {
	for start < end && isSpace(text[start]) {
		start++
	}
	for end > start && isSpace(text[end-1]) {
		end--
	}
	return start, end
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

// WordCount returns the number of whitespace-separated words in text.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
