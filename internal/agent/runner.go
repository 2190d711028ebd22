package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rahul/autoreq/internal/observability"
)

var tracer = otel.Tracer("github.com/rahul/autoreq/internal/agent")

// ErrMissingAgent is returned when the roster has no agent for a speaker the
// topology can select.
var ErrMissingAgent = errors.New("no agent for speaker")

// TerminationReason says why a conversation stopped.
type TerminationReason string

const (
	TerminationCompleted        TerminationReason = "completed"
	TerminationRoundCapExceeded TerminationReason = "round_cap_exceeded"
	TerminationModelError       TerminationReason = "model_error"
)

// ConversationResult is everything a finished conversation produced.
type ConversationResult struct {
	Turns  []Turn
	Rounds int
	Reason TerminationReason
	Err    error
}

// TurnRecorder receives every turn as it is appended.
type TurnRecorder interface {
	RecordTurn(ctx context.Context, conversation string, index int, turn Turn) error
}

// Runner drives one topology over a roster until the topology stops or the
// round cap is hit.
type Runner struct {
	Name     string
	Client   Completer
	Topology Topology
	Roster   Roster
	Recorder TurnRecorder
	Logger   *observability.Logger
}

// Run starts a fresh conversation seeded by the initializer. Rounds count
// model-produced turns; the seed is not a round.
func (r *Runner) Run(ctx context.Context, seed string, maxRounds int) ConversationResult {
	ctx, span := tracer.Start(ctx, "conversation."+r.Topology.Name(),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("conversation", r.Name),
			attribute.Int("max_rounds", maxRounds),
		),
	)
	defer span.End()

	// agents are copied on entry, nothing leaks between runs
	roster := r.Roster.Clone()
	res := ConversationResult{
		Turns: []Turn{{Speaker: Initializer, Content: seed}},
	}
	r.record(ctx, 0, res.Turns[0])

	for _, sp := range r.Topology.Speakers() {
		if _, ok := roster[sp]; !ok {
			res.Reason = TerminationModelError
			res.Err = fmt.Errorf("%w: %s", ErrMissingAgent, sp)
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
			return res
		}
	}

	last := Initializer
	for {
		next, ok := r.Topology.Next(last, res.Turns)
		if !ok {
			res.Reason = TerminationCompleted
			break
		}
		if res.Rounds >= maxRounds {
			res.Reason = TerminationRoundCapExceeded
			break
		}

		content, err := r.speak(ctx, roster[next], res.Turns)
		if err != nil {
			res.Reason = TerminationModelError
			res.Err = fmt.Errorf("%s turn %d: %w", next, res.Rounds+1, err)
			break
		}

		turn := Turn{Speaker: next, Content: content}
		res.Turns = append(res.Turns, turn)
		res.Rounds++
		last = next
		r.record(ctx, len(res.Turns)-1, turn)
		if r.Logger != nil {
			r.Logger.LogTurn(r.Name, next.String(), res.Rounds)
		}
	}

	span.SetAttributes(
		attribute.String("termination", string(res.Reason)),
		attribute.Int("rounds", res.Rounds),
	)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	return res
}

func (r *Runner) speak(ctx context.Context, agent Agent, history []Turn) (string, error) {
	ctx, span := tracer.Start(ctx, "turn."+agent.Speaker.String(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("conversation", r.Name)),
	)
	defer span.End()

	messages := agent.render(history)
	started := time.Now()
	content, err := r.Client.Complete(ctx, messages)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if r.Logger != nil {
		r.Logger.LogLLM(r.Name, agent.Speaker.String(), messages, content, time.Since(started))
	}
	return content, nil
}

func (r *Runner) record(ctx context.Context, index int, turn Turn) {
	if r.Recorder == nil {
		return
	}
	if err := r.Recorder.RecordTurn(ctx, r.Name, index, turn); err != nil && r.Logger != nil {
		r.Logger.Warnf("failed to record turn %d of %s: %v", index, r.Name, err)
	}
}
