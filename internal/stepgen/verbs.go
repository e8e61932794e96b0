package stepgen

import "strings"

// weakVerbs are leading phrases that make an action vague or passive.
// Multi-word entries are matched as a prefix of the action.
var weakVerbs = []string{
	"learn", "understand", "know", "remember", "recall", "recognize",
	"comprehend", "grasp", "appreciate", "realize", "familiarize",
	"review", "read", "study", "examine", "consider", "explore",
	"look at", "check out", "be aware", "keep in mind", "note",
	"observe", "watch", "see", "view",
	"ensure", "make sure", "try", "attempt", "work on", "deal with",
	"handle", "manage", "take care of",
}

// WeakVerb reports whether action starts with a weak verb and returns it.
// A "Verb:" prefix is matched the same as a bare verb.
func WeakVerb(action string) (string, bool) {
	a := strings.ToLower(strings.TrimSpace(action))
	for _, v := range weakVerbs {
		rest, ok := strings.CutPrefix(a, v)
		if !ok {
			continue
		}
		if rest == "" || strings.IndexAny(rest[:1], " :,.") == 0 {
			return v, true
		}
	}
	return "", false
}
