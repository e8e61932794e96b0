package transcript

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

// DefaultFillerWords are removed by every [Cleaner]. The list leaves out
// words such as "like", "right" and "okay" that also carry meaning in
// instructions ("right-click", "click OK").
var DefaultFillerWords = []string{
	"um", "uh", "umm", "uhh", "er", "ah", "mhm",
	"you know", "i mean", "basically", "literally", "yeah", "yep",
}

// DuplicateThreshold is the normalised edit-distance similarity at which two
// sentences count as near-duplicates.
const DuplicateThreshold = 0.9

var (
	vttHeaderRe = regexp.MustCompile(`(?im)^\s*WEBVTT[^\n]*\n?`)
	vttBlockRe  = regexp.MustCompile(`(?im)^\s*(?:NOTE|STYLE|REGION)\b[^\n]*\n?`)
	vttCueRe    = regexp.MustCompile(`(?m)^[ \t]*(?:\d+[ \t]*\n)?[ \t]*\d{1,2}:\d{2}(?::\d{2})?[.,]\d{3}[ \t]*-->[^\n]*\n?`)
	vttVoiceRe  = regexp.MustCompile(`</?v(?:\s+[^>]*)?>`)

	timestampRes = []*regexp.Regexp{
		regexp.MustCompile(`\[\d{1,2}:\d{2}(?::\d{2})?(?:\.\d{1,3})?\]`),
		regexp.MustCompile(`\(\d{1,2}:\d{2}(?::\d{2})?(?:\.\d{1,3})?\)`),
		regexp.MustCompile(`<\d{1,2}:\d{2}(?::\d{2})?(?:\.\d{1,3})?>`),
		regexp.MustCompile(`\d{1,2}:\d{2}:\d{2}(?:\.\d{1,3})?[ \t]*-[ \t]*`),
		regexp.MustCompile(`(?m)^[ \t]*\d{1,2}:\d{2}:\d{2}(?:\.\d{1,3})?[ \t]+`),
	}

	speakerRe = regexp.MustCompile(`(?m)^[ \t]*(?:>>[ \t]*)?(?:\*\*|\[)?(?:Speaker[ \t]*\d*|[A-Z][a-z]+)(?:\*\*|\])?[ \t]*:[ \t]*`)

	tagRe       = regexp.MustCompile(`\[[\w\s]+\]|\([\w\s]+\)`)
	visualTagRe = regexp.MustCompile(`(?i)^\[(?:screen shows|diagram|slide|demo|code|architecture|showing)`)

	templateRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)continuing in our hands[- ]on section`),
		regexp.MustCompile(`(?i)let's continue with (?:the|our) hands[- ]on`),
		regexp.MustCompile(`(?i)moving on to (?:the )?next (?:part|section|topic)`),
		regexp.MustCompile(`(?i)as (?:i|we) mentioned (?:before|earlier)`),
		regexp.MustCompile(`(?i)like (?:i|we) said`),
		regexp.MustCompile(`(?i)(?:so|now),? let's move on`),
		regexp.MustCompile(`(?i)(?:okay|alright),? (?:so|now)\b`),
		regexp.MustCompile(`(?i)and that's it for (?:this|that) (?:part|section)`),
		regexp.MustCompile(`(?i)we(?:'ll| will) get (?:back )?to (?:this|that) later`),
		regexp.MustCompile(`(?i)we(?:'ll| will) discuss (?:this|that) (?:more )?(?:later|soon)`),
	}

	spaceAfterSoftRe = regexp.MustCompile(`([,;!?])([A-Za-z])`)
	spaceAfterStopRe = regexp.MustCompile(`([.:])([A-Z][a-z])`)
	spaceBeforeRe    = regexp.MustCompile(`[ \t]+([.!?,;:])`)
	repeatedStopRe   = regexp.MustCompile(`([.!?])[.!?]+`)
	orphanCommaRe    = regexp.MustCompile(`(?m)^[ \t]*[,;][ \t]*`)
	doubleCommaRe    = regexp.MustCompile(`,[ \t]*,+`)
	inlineSpaceRe    = regexp.MustCompile(`[ \t\f\v]+`)
	manyNewlinesRe   = regexp.MustCompile(`\n{3,}`)
)

// CleanerOption is a functional option for [NewCleaner].
type CleanerOption func(*Cleaner)

// WithFillerWords adds words or phrases to the default filler list.
// Matching is case-insensitive and on word boundaries.
func WithFillerWords(words ...string) CleanerOption {
	return func(c *Cleaner) {
		c.fillers = append(c.fillers, words...)
	}
}

// WithDuplicateRemoval toggles near-duplicate sentence removal. Default: on.
func WithDuplicateRemoval(on bool) CleanerOption {
	return func(c *Cleaner) {
		c.removeDuplicates = on
	}
}

// Cleaner removes transcript noise. Stages run in a fixed order:
//
//  1. WEBVTT artifacts (header, NOTE/STYLE blocks, cue timings, voice tags)
//  2. timestamps
//  3. speaker labels
//  4. transcriber tags such as [inaudible], keeping visual markers like
//     [slide: architecture overview]
//  5. filler words
//  6. repetitive template phrases
//  7. near-duplicate sentences (optional)
//  8. punctuation spacing
//  9. whitespace, keeping paragraph breaks
//
// A Cleaner is immutable after construction and safe for concurrent use.
type Cleaner struct {
	fillers          []string
	fillerRe         *regexp.Regexp
	removeDuplicates bool
}

// NewCleaner returns a Cleaner with the default filler list plus any
// configured options.
func NewCleaner(opts ...CleanerOption) *Cleaner {
	c := &Cleaner{
		fillers:          append([]string(nil), DefaultFillerWords...),
		removeDuplicates: true,
	}
	for _, o := range opts {
		o(c)
	}
	c.fillerRe = buildFillerRe(c.fillers)
	return c
}

func buildFillerRe(words []string) *regexp.Regexp {
	seen := make(map[string]struct{}, len(words))
	alts := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		alts = append(alts, regexp.QuoteMeta(w))
	}
	if len(alts) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b[,]?`)
}

// Clean runs every stage over text and returns the normalised result.
func (c *Cleaner) Clean(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	text = removeWebVTT(text)
	for _, re := range timestampRes {
		text = re.ReplaceAllString(text, "")
	}
	text = speakerRe.ReplaceAllString(text, "")
	text = removeTranscriberTags(text)
	if c.fillerRe != nil {
		text = c.fillerRe.ReplaceAllString(text, "")
	}
	for _, re := range templateRes {
		text = re.ReplaceAllString(text, "")
	}
	if c.removeDuplicates {
		text = removeNearDuplicates(text)
	}
	text = fixPunctuation(text)
	return normalizeWhitespace(text)
}

func removeWebVTT(text string) string {
	text = vttHeaderRe.ReplaceAllString(text, "")
	text = vttBlockRe.ReplaceAllString(text, "")
	text = vttCueRe.ReplaceAllString(text, "")
	return vttVoiceRe.ReplaceAllString(text, "")
}

func removeTranscriberTags(text string) string {
	return tagRe.ReplaceAllStringFunc(text, func(tag string) string {
		if visualTagRe.MatchString(tag) {
			return tag
		}
		return ""
	})
}

func fixPunctuation(text string) string {
	text = spaceBeforeRe.ReplaceAllString(text, "$1")
	text = doubleCommaRe.ReplaceAllString(text, ",")
	text = orphanCommaRe.ReplaceAllString(text, "")
	text = repeatedStopRe.ReplaceAllString(text, "$1")
	text = spaceAfterSoftRe.ReplaceAllString(text, "$1 $2")
	return spaceAfterStopRe.ReplaceAllString(text, "$1 $2")
}

func normalizeWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(inlineSpaceRe.ReplaceAllString(l, " "))
	}
	text = strings.Join(lines, "\n")
	text = manyNewlinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// removeNearDuplicates drops every sentence whose lowercased text is at least
// [DuplicateThreshold] similar to a sentence kept earlier. Paragraph breaks
// survive; a paragraph left empty disappears.
func removeNearDuplicates(text string) string {
	sentences := BuildIndex(text)
	if len(sentences) < 2 {
		return text
	}

	var kept []string
	exact := make(map[string]struct{}, len(sentences))
	var b strings.Builder
	paragraph := sentences[0].Paragraph
	lineStarted := false

	for _, s := range sentences {
		lower := strings.ToLower(s.Text)
		if _, dup := exact[lower]; dup || nearDuplicate(lower, kept) {
			continue
		}
		exact[lower] = struct{}{}
		kept = append(kept, lower)

		if s.Paragraph != paragraph {
			b.WriteString("\n\n")
			paragraph = s.Paragraph
			lineStarted = false
		}
		if lineStarted {
			b.WriteByte(' ')
		}
		b.WriteString(s.Text)
		lineStarted = true
	}
	return b.String()
}

func nearDuplicate(s string, kept []string) bool {
	n := len([]rune(s))
	for _, k := range kept {
		m := len([]rune(k))
		longest := max(n, m)
		if longest == 0 {
			continue
		}
		// Edit distance is at least the length difference, so skip pairs that
		// cannot reach the threshold.
		diff := n - m
		if diff < 0 {
			diff = -diff
		}
		if 1-float64(diff)/float64(longest) < DuplicateThreshold {
			continue
		}
		if 1-float64(matchr.Levenshtein(s, k))/float64(longest) >= DuplicateThreshold {
			return true
		}
	}
	return false
}
