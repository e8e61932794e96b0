package structure_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/MrWong99/stepforge/internal/transcript"
	"github.com/MrWong99/stepforge/internal/transcript/structure"
)

func TestHeuristic_Groups(t *testing.T) {
	t.Parallel()

	text := "Open the Azure portal. Sign in with your account.\n\n" +
		"Next, click Create a resource. Search for storage. " +
		"Finally, press Review and create."
	sentences := transcript.BuildIndex(text)

	h, err := structure.Heuristic{}.Analyze(context.Background(), text, sentences)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	wantGroups := [][]int{{0, 1}, {2, 3}, {4}}
	if !reflect.DeepEqual(h.Groups, wantGroups) {
		t.Errorf("Groups = %v, want %v", h.Groups, wantGroups)
	}
	if !reflect.DeepEqual(h.TopicStarts, []int{0, 2, 4}) {
		t.Errorf("TopicStarts = %v", h.TopicStarts)
	}
	if h.Len() != 3 {
		t.Errorf("Len = %d", h.Len())
	}
}

func TestHeuristic_Empty(t *testing.T) {
	t.Parallel()
	h, err := structure.Heuristic{}.Analyze(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if h.Len() != 0 {
		t.Errorf("expected no groups, got %v", h.Groups)
	}
}

func TestHeuristic_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (structure.Heuristic{}).Analyze(ctx, "x", nil); err == nil {
		t.Fatal("expected context error")
	}
}
