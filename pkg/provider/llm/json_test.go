package llm_test

import (
	"testing"

	"github.com/MrWong99/stepforge/pkg/provider/llm"
)

func TestTrimCodeFence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"upper fence", "```JSON\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding space", "  \n```json {\"a\":1} ```  ", `{"a":1}`},
		{"prose untouched", "Sure, here you go", "Sure, here you go"},
	}
	for _, tc := range tests {
		if got := llm.TrimCodeFence(tc.in); got != tc.want {
			t.Errorf("%s: TrimCodeFence(%q) = %q, want %q", tc.name, tc.in, got, tc.want)
		}
	}
}
