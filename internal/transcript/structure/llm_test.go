package structure_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/MrWong99/stepforge/internal/transcript"
	"github.com/MrWong99/stepforge/internal/transcript/structure"
	"github.com/MrWong99/stepforge/pkg/provider/llm"
	"github.com/MrWong99/stepforge/pkg/provider/llm/mock"
)

const segText = "Open the Azure portal. Sign in with your account. " +
	"Click Create a resource. Search for storage. " +
	"Pick a region. Press Review and create."

func reply(content string) *mock.Provider {
	return &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: content}}
}

func TestLLM_SendsNumberedSentences(t *testing.T) {
	t.Parallel()
	p := reply(`{"topic_starts":[0,2]}`)
	sentences := transcript.BuildIndex(segText)

	if _, err := structure.NewLLM(p).Analyze(context.Background(), segText, sentences); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("got %d calls", len(calls))
	}
	req := calls[0].Req
	if !req.JSONMode || req.SystemPrompt == "" {
		t.Errorf("request = %+v", req)
	}
	msg := req.Messages[0].Content
	for _, want := range []string{"[0] Open the Azure portal.", "[5] Press Review and create."} {
		if !strings.Contains(msg, want) {
			t.Errorf("user message missing %q:\n%s", want, msg)
		}
	}
}

func TestLLM_Groups(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		content    string
		wantStarts []int
		wantGroups [][]int
	}{
		{
			name:       "plain",
			content:    `{"topic_starts":[0,2,4]}`,
			wantStarts: []int{0, 2, 4},
			wantGroups: [][]int{{0, 1}, {2, 3}, {4, 5}},
		},
		{
			name:       "fenced, unsorted, duplicates and out of range",
			content:    "```json\n{\"topic_starts\":[4,2,2,99,-1]}\n```",
			wantStarts: []int{0, 2, 4},
			wantGroups: [][]int{{0, 1}, {2, 3}, {4, 5}},
		},
		{
			name:       "single section",
			content:    `{"topic_starts":[0]}`,
			wantStarts: []int{0},
			wantGroups: [][]int{{0, 1, 2, 3, 4, 5}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sentences := transcript.BuildIndex(segText)
			h, err := structure.NewLLM(reply(tc.content)).Analyze(context.Background(), segText, sentences)
			if err != nil {
				t.Fatalf("Analyze: %v", err)
			}
			if !reflect.DeepEqual(h.TopicStarts, tc.wantStarts) {
				t.Errorf("starts = %v, want %v", h.TopicStarts, tc.wantStarts)
			}
			if !reflect.DeepEqual(h.Groups, tc.wantGroups) {
				t.Errorf("groups = %v, want %v", h.Groups, tc.wantGroups)
			}
		})
	}
}

// countingFallback records whether it was used.
type countingFallback struct{ calls int }

func (f *countingFallback) Analyze(_ context.Context, _ string, s []transcript.Sentence) (structure.Hints, error) {
	f.calls++
	return structure.Hints{Groups: [][]int{{0}}, TopicStarts: []int{0}}, nil
}

func TestLLM_FallsBack(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    *mock.Provider
		opts []structure.LLMOption
	}{
		{"backend error", &mock.Provider{CompleteErr: errors.New("503")}, nil},
		{"prose reply", reply("Sure! The sections start at 0 and 2."), nil},
		{"empty starts", reply(`{"topic_starts":[]}`), nil},
		{"too long", reply(`{"topic_starts":[0,2]}`), []structure.LLMOption{structure.WithMaxSentences(3)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fb := &countingFallback{}
			a := structure.NewLLM(tc.p, append(tc.opts, structure.WithFallback(fb))...)
			if _, err := a.Analyze(context.Background(), segText, transcript.BuildIndex(segText)); err != nil {
				t.Fatalf("Analyze: %v", err)
			}
			if fb.calls != 1 {
				t.Errorf("fallback calls = %d, want 1", fb.calls)
			}
		})
	}
}

func TestLLM_DefaultFallbackIsHeuristic(t *testing.T) {
	t.Parallel()
	text := "Open the portal. Sign in.\n\nNext, create a resource."
	sentences := transcript.BuildIndex(text)

	got, err := structure.NewLLM(reply("not json")).Analyze(context.Background(), text, sentences)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := structure.Heuristic{}.Analyze(context.Background(), text, sentences)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want heuristic %+v", got, want)
	}
}

func TestLLM_Cancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	p := &mock.Provider{CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		cancel()
		return nil, ctx.Err()
	}}
	fb := &countingFallback{}
	_, err := structure.NewLLM(p, structure.WithFallback(fb)).Analyze(ctx, segText, transcript.BuildIndex(segText))
	if !errors.Is(err, context.Canceled) || fb.calls != 0 {
		t.Errorf("err = %v, fallback calls = %d", err, fb.calls)
	}
}
