package llm

import "strings"

// TrimCodeFence strips an optional markdown code fence (```json ... ```)
// that some models wrap around JSON replies, even in JSON mode.
func TrimCodeFence(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```JSON", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
