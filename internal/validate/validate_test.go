package validate_test

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/stepforge/internal/sourceref"
	"github.com/MrWong99/stepforge/internal/validate"
)

func scored(confs ...float64) []validate.Scored {
	out := make([]validate.Scored, len(confs))
	for i, c := range confs {
		out[i] = validate.Scored{StepIndex: i, Source: sourceref.SourceReference{StepIndex: i, Confidence: c}}
	}
	return out
}

func TestNew_RejectsBadThresholds(t *testing.T) {
	t.Parallel()
	if _, err := validate.New(-0.1, 1.2); err == nil {
		t.Fatal("expected error")
	}
	if _, err := validate.New(0.25, 0.7); err != nil {
		t.Fatalf("New: %v", err)
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	g, err := validate.New(0.25, 0.7)
	if err != nil {
		t.Fatal(err)
	}
	out, err := g.Evaluate(scored(0.8, 0.1, 0.25, 0.5, 0.24))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	m := out.Metrics
	if m.Candidates != 5 || m.TotalSteps != 3 || m.RejectedCount != 2 || m.HighConfidenceCount != 1 {
		t.Errorf("metrics = %+v", m)
	}
	if want := (0.8 + 0.25 + 0.5) / 3; math.Abs(m.AverageConfidence-want) > 1e-9 {
		t.Errorf("AverageConfidence = %v, want %v", m.AverageConfidence, want)
	}

	var idx []int
	for _, v := range out.Accepted {
		if !v.Accepted {
			t.Errorf("accepted step %d not marked", v.StepIndex)
		}
		idx = append(idx, v.StepIndex)
	}
	if len(idx) != 3 || idx[0] != 0 || idx[1] != 2 || idx[2] != 3 {
		t.Errorf("accepted order = %v, want [0 2 3]", idx)
	}
	if out.Accepted[0].Label != "Very High" || out.Accepted[0].Quality != "high" {
		t.Errorf("labels = %q/%q", out.Accepted[0].Label, out.Accepted[0].Quality)
	}
}

func TestEvaluate_NothingAccepted(t *testing.T) {
	t.Parallel()

	g, _ := validate.New(0.9, 0.95)
	out, err := g.Evaluate(scored(0.3, 0.5, 0.1))
	if !errors.Is(err, validate.ErrNoAcceptedSteps) {
		t.Fatalf("got %v, want ErrNoAcceptedSteps", err)
	}
	if out.Metrics.TotalSteps != 0 || out.Metrics.RejectedCount != 3 || out.Metrics.Candidates != 3 {
		t.Errorf("metrics = %+v", out.Metrics)
	}
	if out.Metrics.AverageConfidence != 0 {
		t.Errorf("AverageConfidence = %v, want 0", out.Metrics.AverageConfidence)
	}
}

func TestEvaluate_Empty(t *testing.T) {
	t.Parallel()
	g, _ := validate.New(0.25, 0.7)
	out, err := g.Evaluate(nil)
	if err != nil {
		t.Fatalf("Evaluate(nil): %v", err)
	}
	if out.Accepted == nil || out.Rejected == nil || out.Metrics.Candidates != 0 {
		t.Errorf("unexpected outcome %+v", out)
	}
}
