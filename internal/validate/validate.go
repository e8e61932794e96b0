// Package validate applies the confidence threshold to scored steps and
// computes the run's aggregate quality metrics.
package validate

import (
	"errors"
	"fmt"

	"github.com/MrWong99/stepforge/internal/sourceref"
	"github.com/MrWong99/stepforge/internal/stepgen"
)

// ErrNoAcceptedSteps is returned when candidates were evaluated but none
// reached the minimum confidence.
var ErrNoAcceptedSteps = errors.New("validate: no step reached the minimum confidence")

// Scored is a candidate step with its source reference, ready for gating.
type Scored struct {
	StepIndex int
	Step      stepgen.CandidateStep
	Source    sourceref.SourceReference
}

// ValidatedStep is the gate's verdict on one step.
type ValidatedStep struct {
	StepIndex int                       `json:"step_index"`
	Step      stepgen.CandidateStep     `json:"step"`
	Source    sourceref.SourceReference `json:"source"`
	Accepted  bool                      `json:"accepted"`
	Label     string                    `json:"label"`
	Quality   string                    `json:"quality"`
}

// Metrics summarises a gating pass.
type Metrics struct {
	TotalSteps          int     `json:"total_steps"`
	AverageConfidence   float64 `json:"average_confidence"`
	HighConfidenceCount int     `json:"high_confidence_count"`
	RejectedCount       int     `json:"rejected_count"`
	Candidates          int     `json:"candidates"`
}

// Outcome holds the accepted and rejected steps in input order.
type Outcome struct {
	Accepted []ValidatedStep `json:"accepted"`
	Rejected []ValidatedStep `json:"rejected"`
	Metrics  Metrics         `json:"metrics"`
}

// Gate accepts steps whose confidence is at least the minimum.
type Gate struct {
	min  float64
	high float64
}

// New returns a gate with the given minimum and high-confidence thresholds.
func New(minConf, highConf float64) (*Gate, error) {
	var errs []error
	if minConf < 0 || minConf > 1 {
		errs = append(errs, fmt.Errorf("validate: min threshold %v outside [0,1]", minConf))
	}
	if highConf < 0 || highConf > 1 {
		errs = append(errs, fmt.Errorf("validate: high threshold %v outside [0,1]", highConf))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &Gate{min: minConf, high: highConf}, nil
}

// Evaluate gates every scored step. When at least one candidate is given
// and none is accepted, the outcome is returned together with
// [ErrNoAcceptedSteps].
func (g *Gate) Evaluate(scored []Scored) (Outcome, error) {
	out := Outcome{
		Accepted: []ValidatedStep{},
		Rejected: []ValidatedStep{},
	}
	var sum float64
	for _, s := range scored {
		conf := s.Source.Confidence
		v := ValidatedStep{
			StepIndex: s.StepIndex,
			Step:      s.Step,
			Source:    s.Source,
			Accepted:  conf >= g.min,
			Label:     sourceref.Label(conf),
			Quality:   sourceref.Quality(conf),
		}
		if !v.Accepted {
			out.Rejected = append(out.Rejected, v)
			continue
		}
		out.Accepted = append(out.Accepted, v)
		sum += conf
		if conf >= g.high {
			out.Metrics.HighConfidenceCount++
		}
	}

	out.Metrics.Candidates = len(scored)
	out.Metrics.TotalSteps = len(out.Accepted)
	out.Metrics.RejectedCount = len(out.Rejected)
	if n := len(out.Accepted); n > 0 {
		out.Metrics.AverageConfidence = sum / float64(n)
	}

	if len(scored) > 0 && len(out.Accepted) == 0 {
		return out, ErrNoAcceptedSteps
	}
	return out, nil
}
