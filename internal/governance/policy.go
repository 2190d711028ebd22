package governance

import (
	"context"
	"fmt"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	// EffectWarn honors the reviewer's decision but flags it for telemetry.
	EffectWarn Effect = "warn"
)

// Review is a reviewer decision to be evaluated.
type Review struct {
	StepID   string
	Approved bool
	Score    *float64
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// PolicyEngine evaluates reviewer decisions against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, review Review) (Result, error)
}

// ApprovalPolicy flags approvals whose overall score is below Floor.
// It never turns an approval into a rejection.
type ApprovalPolicy struct {
	Floor float64
}

func NewApprovalPolicy(floor float64) *ApprovalPolicy {
	return &ApprovalPolicy{Floor: floor}
}

func (p *ApprovalPolicy) Evaluate(ctx context.Context, review Review) (Result, error) {
	if !review.Approved || review.Score == nil {
		return Result{
			Effect: EffectAllow,
			Reason: "No score to check",
		}, nil
	}

	if *review.Score < p.Floor {
		return Result{
			Effect: EffectWarn,
			Reason: fmt.Sprintf("Reviewer approved step %s with overall score %g below floor %g", review.StepID, *review.Score, p.Floor),
		}, nil
	}

	return Result{
		Effect: EffectAllow,
		Reason: "Score meets approval floor",
	}, nil
}
