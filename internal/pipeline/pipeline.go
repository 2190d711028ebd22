// Package pipeline wires the plan stage, the step scheduler and the report
// aggregator into one run.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rahul/autoreq/internal/agent"
	"github.com/rahul/autoreq/internal/gateway"
	"github.com/rahul/autoreq/internal/governance"
	"github.com/rahul/autoreq/internal/observability"
	"github.com/rahul/autoreq/internal/report"
	"github.com/rahul/autoreq/pkg/config"
)

// Pipeline runs plan → steps → report.
type Pipeline struct {
	Client   agent.Completer
	Prompts  *agent.Prompts
	Run      config.RunConfig
	Sinks    []report.Sink
	Recorder agent.TurnRecorder
	Notifier gateway.Notifier
	Tracker  *observability.Tracker
	Logger   *observability.Logger
	// OutputDir is reported in the run summary.
	OutputDir string
	// RunID is generated when empty.
	RunID string
}

// Result is what a completed run produced.
type Result struct {
	RunID    string
	Steps    []agent.Step
	Report   report.Report
	Outcomes []agent.StepOutcome
	Warnings int
}

func (p *Pipeline) init() {
	if p.RunID == "" {
		p.RunID = uuid.NewString()
	}
	if p.Logger == nil {
		p.Logger = observability.NewNopLogger()
	}
	if p.Tracker == nil {
		p.Tracker = observability.NewTracker()
	}
}

// Plan runs only the plan stage and hands the steps to the sinks.
func (p *Pipeline) Plan(ctx context.Context, topic string) ([]agent.Step, error) {
	p.init()
	p.Tracker.SetStage(observability.StagePlanning)

	stage := &agent.PlanStage{
		Client:    p.Client,
		Prompts:   p.Prompts,
		MaxRounds: p.Run.PlanMaxRounds,
		Recorder:  p.Recorder,
		Logger:    p.Logger,
	}
	steps, err := stage.Run(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("plan stage: %w", err)
	}
	p.Logger.LogPlan(p.RunID, len(steps))

	if err := report.MultiSink(p.Sinks).WritePlan(ctx, steps); err != nil {
		return nil, fmt.Errorf("failed to persist plan: %w", err)
	}
	return steps, nil
}

// Execute runs the whole pipeline. Only plan failures and sink failures are
// returned as errors; step failures become skipped steps in the result.
func (p *Pipeline) Execute(ctx context.Context, topic string) (*Result, error) {
	p.init()
	p.Logger.LogRun(p.RunID, "run started", map[string]any{
		"max_concurrency": p.Run.MaxConcurrency,
		"step_max_rounds": p.Run.StepMaxRounds,
	})

	steps, err := p.Plan(ctx, topic)
	if err != nil {
		return nil, err
	}

	p.Tracker.SetStage(observability.StageStepping)
	stage := &agent.StepStage{
		Client:    p.Client,
		Prompts:   p.Prompts,
		MaxRounds: p.Run.StepMaxRounds,
		Policy:    governance.NewApprovalPolicy(p.Run.ApprovalFloor),
		Recorder:  p.Recorder,
		Logger:    p.Logger,
	}
	agg := report.NewAggregator(p.Logger)
	warnings := 0

	scheduler := agent.NewScheduler(stage, p.Run.MaxConcurrency, p.Tracker, p.Logger)
	outcomes := scheduler.Run(ctx, steps, func(out agent.StepOutcome) {
		if out.Warning != "" {
			warnings++
		}
		if !out.Approved {
			reason := string(out.Skip)
			if out.Err != nil {
				reason = fmt.Sprintf("%s: %v", reason, out.Err)
			}
			p.Logger.LogSkip(p.RunID, out.Step.ID, reason)
			agg.Skip(out.Step.ID)
			return
		}
		n := agg.Add(out.Step.ID, out.Artifact)
		if n == 0 {
			p.Logger.LogSkip(p.RunID, out.Step.ID, "approved artifact held no decodable records")
			agg.Skip(out.Step.ID)
			return
		}
		p.Logger.LogStep(p.RunID, out.Step.ID, fmt.Sprintf("approved (%d records)", n), out.Rounds)
	})

	p.Tracker.SetStage(observability.StageReporting)
	rep := agg.Report()
	// finished steps are persisted even when the run was interrupted
	persistCtx := context.WithoutCancel(ctx)
	if err := report.MultiSink(p.Sinks).WriteReport(persistCtx, rep); err != nil {
		return nil, fmt.Errorf("failed to persist report: %w", err)
	}

	res := &Result{
		RunID:    p.RunID,
		Steps:    steps,
		Report:   rep,
		Outcomes: outcomes,
		Warnings: warnings,
	}
	p.notify(persistCtx, res)
	p.Tracker.SetStage(observability.StageIdle)
	p.Logger.LogRun(p.RunID, "run finished", map[string]int{
		"records": len(rep.Records),
		"skipped": len(rep.Skipped),
	})
	return res, nil
}

func (p *Pipeline) notify(ctx context.Context, res *Result) {
	if p.Notifier == nil {
		return
	}
	err := p.Notifier.Notify(ctx, gateway.Summary{
		RunID:    res.RunID,
		Steps:    len(res.Steps),
		Records:  len(res.Report.Records),
		Skipped:  res.Report.Skipped,
		Warnings: res.Warnings,
		Output:   p.OutputDir,
	})
	if err != nil {
		p.Logger.Warnf("failed to send run summary: %v", err)
	}
}
