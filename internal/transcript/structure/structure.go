// Package structure derives topic-boundary hints from an indexed transcript.
//
// Hints only steer chunking. A transcript without recognisable structure, or
// an analyzer failure, leaves the chunker on plain sentence-count splitting.
package structure

import (
	"context"
	"regexp"

	"github.com/MrWong99/stepforge/internal/transcript"
)

// Hints describes the topical layout of a transcript.
type Hints struct {
	// Groups are consecutive runs of sentence IDs, in order, that belong to
	// one topical unit. Together they cover every sentence exactly once.
	Groups [][]int

	// TopicStarts holds the sentence IDs that open a group.
	TopicStarts []int
}

// Len returns the number of groups.
func (h Hints) Len() int { return len(h.Groups) }

// transitionRe matches sentence openers that usually introduce a new
// procedural step in spoken instructions.
var transitionRe = regexp.MustCompile(`(?i)^(?:next|now,? let's|now we(?:'ll| will)|moving on|the next step|first(?:ly)?|second(?:ly)?|third(?:ly)?|finally|lastly|after that|once (?:that's|that is|this is) done|step \d+)\b`)

// Heuristic groups sentences at paragraph breaks and at transition phrases.
// The zero value is ready to use and safe for concurrent use.
type Heuristic struct{}

// Analyze implements the structure-analysis capability.
func (Heuristic) Analyze(ctx context.Context, _ string, sentences []transcript.Sentence) (Hints, error) {
	if err := ctx.Err(); err != nil {
		return Hints{}, err
	}

	var h Hints
	var current []int
	for i, s := range sentences {
		boundary := i > 0 && (s.Paragraph != sentences[i-1].Paragraph || transitionRe.MatchString(s.Text))
		if boundary && len(current) > 0 {
			h.Groups = append(h.Groups, current)
			current = nil
		}
		if len(current) == 0 {
			h.TopicStarts = append(h.TopicStarts, s.ID)
		}
		current = append(current, s.ID)
	}
	if len(current) > 0 {
		h.Groups = append(h.Groups, current)
	}
	return h, nil
}
