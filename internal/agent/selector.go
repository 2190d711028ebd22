package agent

// Topology picks the next speaker from the last speaker and the history so
// far. Returning false ends the conversation. Implementations are pure.
type Topology interface {
	Name() string
	Speakers() []Speaker
	Next(last Speaker, history []Turn) (Speaker, bool)
}

// PlanTopology: the initializer seeds, the planner answers once, done.
type PlanTopology struct{}

func (PlanTopology) Name() string { return "plan" }

func (PlanTopology) Speakers() []Speaker { return []Speaker{Planner} }

func (PlanTopology) Next(last Speaker, history []Turn) (Speaker, bool) {
	if last == Initializer {
		return Planner, true
	}
	return 0, false
}

// StepTopology alternates analyst drafts with reviewer critiques until the
// reviewer approves or returns something other than REVISE.
type StepTopology struct{}

func (StepTopology) Name() string { return "step" }

func (StepTopology) Speakers() []Speaker { return []Speaker{Analyst, Reviewer} }

func (StepTopology) Next(last Speaker, history []Turn) (Speaker, bool) {
	switch last {
	case Initializer:
		return Analyst, true
	case Analyst:
		return Reviewer, true
	case Reviewer:
		if len(history) == 0 {
			return 0, false
		}
		fb, _ := ParseFeedback(history[len(history)-1].Content)
		if fb.Verdict == VerdictRevise {
			return Analyst, true
		}
		return 0, false
	default:
		return 0, false
	}
}
