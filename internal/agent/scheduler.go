package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/rahul/autoreq/internal/observability"
)

// Scheduler fans steps out to a StepRunner with at most Limit in flight.
type Scheduler struct {
	Runner  StepRunner
	Limit   int
	Tracker *observability.Tracker
	Logger  *observability.Logger
}

func NewScheduler(runner StepRunner, limit int, tracker *observability.Tracker, logger *observability.Logger) *Scheduler {
	if limit < 1 {
		limit = 1
	}
	if tracker == nil {
		tracker = observability.NewTracker()
	}
	return &Scheduler{
		Runner:  runner,
		Limit:   limit,
		Tracker: tracker,
		Logger:  logger,
	}
}

// Run executes every step and returns the outcomes in completion order.
// onDone, when set, is called once per step as it finishes; calls are
// serialized. A failing or panicking step never stops its siblings.
func (s *Scheduler) Run(ctx context.Context, steps []Step, onDone func(StepOutcome)) []StepOutcome {
	ctx, span := tracer.Start(ctx, "schedule.steps")
	span.SetAttributes(
		attribute.Int("steps", len(steps)),
		attribute.Int("limit", s.Limit),
	)
	defer span.End()

	var (
		mu       sync.Mutex
		outcomes = make([]StepOutcome, 0, len(steps))
	)

	// plain Group: no shared cancellation between steps
	var g errgroup.Group
	g.SetLimit(s.Limit)

	for _, step := range steps {
		g.Go(func() error {
			out := s.runOne(ctx, step)

			mu.Lock()
			defer mu.Unlock()
			outcomes = append(outcomes, out)
			if onDone != nil {
				onDone(out)
			}
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(attribute.Int("peak_in_flight", s.Tracker.Peak()))
	return outcomes
}

func (s *Scheduler) runOne(ctx context.Context, step Step) (out StepOutcome) {
	s.Tracker.Enter(step.ID)
	defer func() {
		if r := recover(); r != nil {
			out = StepOutcome{
				Step: step,
				Skip: SkipPanic,
				Err:  fmt.Errorf("step %s panicked: %v", step.ID, r),
			}
			if s.Logger != nil {
				s.Logger.Errorf("step %s panicked: %v\n%s", step.ID, r, debug.Stack())
			}
		}
		s.Tracker.Leave(step.ID, out.Approved)
	}()

	if s.Logger != nil {
		s.Logger.Debugf("step %s admitted", step.ID)
	}
	return s.Runner.RunStep(ctx, step)
}
