// Package chunk splits an indexed transcript into the spans sent to the step
// generator, one generation call per chunk.
//
// Every sentence has exactly one home chunk. With overlap enabled a chunk also
// carries a few neighbouring sentences as context, but those stay homed in the
// chunk they were assigned to.
package chunk

import (
	"strings"

	"github.com/MrWong99/stepforge/internal/transcript"
)

// Defaults used when the corresponding option is not given.
const (
	DefaultMinSentences = 2
	DefaultMaxSentences = 20
)

// Chunk is a contiguous span of transcript sentences.
type Chunk struct {
	// Index is the zero-based position of the chunk.
	Index int `json:"index"`

	// Text is the chunk's sentences, overlap included, joined by spaces.
	Text string `json:"text"`

	// SentenceIDs lists every sentence included in Text, in order.
	SentenceIDs []int `json:"sentence_ids"`

	// HomeIDs lists the sentences whose home is this chunk, in order. It is a
	// contiguous sub-range of SentenceIDs.
	HomeIDs []int `json:"home_ids"`
}

// Option configures a [Chunker].
type Option func(*Chunker)

// WithOverlap adds n sentences of context from each neighbouring chunk.
func WithOverlap(n int) Option {
	return func(c *Chunker) { c.overlap = max(n, 0) }
}

// WithSentenceBounds sets the minimum and maximum number of home sentences
// per chunk for sentence-count splitting.
func WithSentenceBounds(minSentences, maxSentences int) Option {
	return func(c *Chunker) {
		c.minPer = max(minSentences, 1)
		c.maxPer = max(maxSentences, c.minPer)
	}
}

// WithGroupPreference makes the chunker try topic groups before falling back
// to sentence-count splitting. Default: on.
func WithGroupPreference(on bool) Option {
	return func(c *Chunker) { c.preferGroups = on }
}

// Chunker assigns sentences to chunks. It holds no per-run state and is safe
// for concurrent use.
type Chunker struct {
	overlap      int
	minPer       int
	maxPer       int
	preferGroups bool
}

// New returns a Chunker with the given options.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		minPer:       DefaultMinSentences,
		maxPer:       DefaultMaxSentences,
		preferGroups: true,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Chunk splits sentences into roughly target chunks.
//
// When there are no more sentences than target, each sentence is its own
// chunk. Otherwise groups (consecutive sentence-ID runs from structure
// analysis, may be nil) are used if they can produce a chunk count within one
// of target; failing that, sentences are split into runs of
// ceil(n/target) clamped to the configured bounds.
func (c *Chunker) Chunk(sentences []transcript.Sentence, target int, groups [][]int) []Chunk {
	n := len(sentences)
	if n == 0 {
		return []Chunk{}
	}
	target = max(target, 1)

	var homes [][2]int // [start, end) ranges of sentence positions
	switch {
	case n <= target:
		for i := range n {
			homes = append(homes, [2]int{i, i + 1})
		}
	default:
		if c.preferGroups {
			homes = c.fromGroups(groups, n, target)
		}
		if homes == nil {
			homes = c.bySentenceCount(n, target)
		}
	}
	return c.build(sentences, homes)
}

// fromGroups returns home ranges built from groups, or nil when the groups
// are unusable for this target.
func (c *Chunker) fromGroups(groups [][]int, n, target int) [][2]int {
	if len(groups) == 0 {
		return nil
	}

	// Groups must be contiguous and cover 0..n-1 in order.
	ranges := make([][2]int, 0, len(groups))
	next := 0
	for _, g := range groups {
		if len(g) == 0 || g[0] != next {
			return nil
		}
		for k, id := range g {
			if id != next+k {
				return nil
			}
		}
		ranges = append(ranges, [2]int{next, next + len(g)})
		next += len(g)
	}
	if next != n {
		return nil
	}

	if len(ranges) > target+1 {
		per := ceilDiv(len(ranges), target)
		merged := make([][2]int, 0, ceilDiv(len(ranges), per))
		for i := 0; i < len(ranges); i += per {
			j := min(i+per, len(ranges))
			merged = append(merged, [2]int{ranges[i][0], ranges[j-1][1]})
		}
		ranges = merged
	}
	if abs(len(ranges)-target) > 1 {
		return nil
	}
	for _, r := range ranges {
		if r[1]-r[0] > c.maxPer {
			return nil
		}
	}
	return ranges
}

func (c *Chunker) bySentenceCount(n, target int) [][2]int {
	per := min(max(ceilDiv(n, target), c.minPer), c.maxPer)

	var homes [][2]int
	for i := 0; i < n; i += per {
		homes = append(homes, [2]int{i, min(i+per, n)})
	}
	// Fold a lone trailing sentence into the previous chunk when it fits.
	if k := len(homes); k > 1 && per > 1 && homes[k-1][1]-homes[k-1][0] == 1 && homes[k-2][1]-homes[k-2][0]+1 <= c.maxPer {
		homes[k-2][1] = homes[k-1][1]
		homes = homes[:k-1]
	}
	return homes
}

func (c *Chunker) build(sentences []transcript.Sentence, homes [][2]int) []Chunk {
	n := len(sentences)
	chunks := make([]Chunk, 0, len(homes))
	for idx, h := range homes {
		from := max(h[0]-c.overlap, 0)
		to := min(h[1]+c.overlap, n)

		ch := Chunk{Index: idx}
		texts := make([]string, 0, to-from)
		for i := from; i < to; i++ {
			ch.SentenceIDs = append(ch.SentenceIDs, sentences[i].ID)
			texts = append(texts, sentences[i].Text)
		}
		for i := h[0]; i < h[1]; i++ {
			ch.HomeIDs = append(ch.HomeIDs, sentences[i].ID)
		}
		ch.Text = strings.Join(texts, " ")
		chunks = append(chunks, ch)
	}
	return chunks
}

// Homes returns, for each of the n sentence IDs, the index of its home chunk,
// or -1 if no chunk claims it.
func Homes(chunks []Chunk, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = -1
	}
	for _, ch := range chunks {
		for _, id := range ch.HomeIDs {
			if id >= 0 && id < n {
				out[id] = ch.Index
			}
		}
	}
	return out
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
