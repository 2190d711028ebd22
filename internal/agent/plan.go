package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rahul/autoreq/internal/observability"
)

var (
	ErrNoPlannerOutput = errors.New("no output from planner")
	ErrPlanDecode      = errors.New("failed to decode planner output")
	ErrPlanMissing     = errors.New("planner output has no plan")
)

// Step is a unit of work from the plan. Order in the plan is significant.
type Step struct {
	ID      string `json:"id"`
	Details string `json:"details"`
}

// UnmarshalJSON accepts the id under "id" or "step", as a string or a number.
func (s *Step) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID      json.RawMessage `json:"id"`
		Step    json.RawMessage `json:"step"`
		Details string          `json:"details"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	idRaw := raw.ID
	if len(idRaw) == 0 {
		idRaw = raw.Step
	}
	id, err := scalarString(idRaw)
	if err != nil {
		return fmt.Errorf("step id: %w", err)
	}
	s.ID = id
	s.Details = raw.Details
	return nil
}

func scalarString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return strings.TrimSpace(str), nil
	}
	var num json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&num); err != nil {
		return "", fmt.Errorf("expected string or number, got %s", raw)
	}
	return num.String(), nil
}

// PlanStage asks the planner for an ordered list of steps.
type PlanStage struct {
	Client    Completer
	Prompts   *Prompts
	MaxRounds int
	Recorder  TurnRecorder
	Logger    *observability.Logger
}

// Run seeds the plan conversation with seed (the configured example message
// when empty) and decodes the planner's answer. Every error is fatal to the run.
func (p *PlanStage) Run(ctx context.Context, seed string) ([]Step, error) {
	if seed == "" {
		seed = p.Prompts.ExampleMessage
	}

	runner := &Runner{
		Name:     "plan",
		Client:   p.Client,
		Topology: PlanTopology{},
		Roster:   p.Prompts.PlanRoster(),
		Recorder: p.Recorder,
		Logger:   p.Logger,
	}
	res := runner.Run(ctx, seed, p.MaxRounds)
	if res.Err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoPlannerOutput, res.Err)
	}

	output, ok := lastTurnBy(res.Turns, Planner)
	if !ok {
		return nil, ErrNoPlannerOutput
	}
	return DecodePlan(output)
}

// DecodePlan parses `{"plan": [...]}`. Ids must be present and unique.
func DecodePlan(text string) ([]Step, error) {
	var payload struct {
		Plan *[]Step `json:"plan"`
	}
	if err := json.Unmarshal([]byte(cleanModelJSON(text)), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanDecode, err)
	}
	if payload.Plan == nil {
		return nil, ErrPlanMissing
	}

	steps := *payload.Plan
	seen := make(map[string]bool, len(steps))
	for i, s := range steps {
		if s.ID == "" {
			return nil, fmt.Errorf("%w: step %d has no id", ErrPlanDecode, i+1)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("%w: duplicate step id %q", ErrPlanDecode, s.ID)
		}
		seen[s.ID] = true
	}
	return steps, nil
}

func lastTurnBy(turns []Turn, speaker Speaker) (string, bool) {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Speaker == speaker {
			return turns[i].Content, true
		}
	}
	return "", false
}
