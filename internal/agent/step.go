package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rahul/autoreq/internal/governance"
	"github.com/rahul/autoreq/internal/observability"
)

// SkipReason explains why a step produced no artifact.
type SkipReason string

const (
	SkipNone             SkipReason = ""
	SkipRejected         SkipReason = "reviewer_did_not_approve"
	SkipRoundCapExceeded SkipReason = "round_cap_exceeded"
	SkipModelError       SkipReason = "model_error"
	SkipPanic            SkipReason = "panic"
)

// StepOutcome is what a step stage hands back to the scheduler.
type StepOutcome struct {
	Step     Step
	Artifact string
	Approved bool
	Skip     SkipReason
	Feedback Feedback
	Rounds   int
	Err      error
	// Warning is set when the approval policy flagged the decision.
	Warning string
}

// StepRunner runs a single step to completion.
type StepRunner interface {
	RunStep(ctx context.Context, step Step) StepOutcome
}

// StepStage runs the analyst/reviewer loop for one step.
type StepStage struct {
	Client    Completer
	Prompts   *Prompts
	MaxRounds int
	Policy    governance.PolicyEngine
	Recorder  TurnRecorder
	Logger    *observability.Logger
}

func (s *StepStage) RunStep(ctx context.Context, step Step) StepOutcome {
	out := StepOutcome{Step: step}

	// a fresh runner and roster per step; nothing is shared with siblings
	runner := &Runner{
		Name:     "step-" + step.ID,
		Client:   s.Client,
		Topology: StepTopology{},
		Roster:   s.Prompts.StepRoster(),
		Recorder: s.Recorder,
		Logger:   s.Logger,
	}
	res := runner.Run(ctx, StepSeed(step), s.MaxRounds)
	out.Rounds = res.Rounds

	switch res.Reason {
	case TerminationModelError:
		out.Skip = SkipModelError
		out.Err = res.Err
		return out
	case TerminationRoundCapExceeded:
		out.Skip = SkipRoundCapExceeded
		return out
	}

	artifact, fb, ok := approvedArtifact(res.Turns)
	out.Feedback = fb
	if !ok {
		out.Skip = SkipRejected
		return out
	}
	out.Approved = true
	out.Artifact = artifact
	out.Warning = s.checkPolicy(ctx, step, fb)
	return out
}

func (s *StepStage) checkPolicy(ctx context.Context, step Step, fb Feedback) string {
	if s.Policy == nil {
		return ""
	}
	res, err := s.Policy.Evaluate(ctx, governance.Review{
		StepID:   step.ID,
		Approved: fb.Approved(),
		Score:    fb.QualityScore,
	})
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warnf("approval policy failed for step %s: %v", step.ID, err)
		}
		return ""
	}
	if res.Effect != governance.EffectWarn {
		return ""
	}
	if s.Logger != nil && fb.QualityScore != nil {
		s.Logger.LogAnomaly(step.ID, res.Reason, *fb.QualityScore)
	}
	return res.Reason
}

// StepSeed renders the opening message of a step conversation.
func StepSeed(step Step) string {
	data, err := json.MarshalIndent(map[string]string{
		"Step":    step.ID,
		"Details": step.Details,
	}, "", "    ")
	if err != nil {
		return fmt.Sprintf("Step: %s\nDetails: %s\n\n", step.ID, step.Details)
	}
	return string(data)
}

// approvedArtifact returns the analyst turn immediately before the final
// approving reviewer turn.
func approvedArtifact(turns []Turn) (string, Feedback, bool) {
	n := len(turns)
	if n < 2 || turns[n-1].Speaker != Reviewer {
		return "", Feedback{Verdict: VerdictUnparseable}, false
	}
	fb, _ := ParseFeedback(turns[n-1].Content)
	if !fb.Approved() || turns[n-2].Speaker != Analyst {
		return "", fb, false
	}
	return strings.TrimSpace(turns[n-2].Content), fb, true
}
