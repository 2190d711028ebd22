package agent

import "github.com/tmc/langchaingo/llms"

// Speaker tags who produced a turn. Speakers are compared by value.
type Speaker int

const (
	Initializer Speaker = iota
	Planner
	Analyst
	Reviewer
)

func (s Speaker) String() string {
	switch s {
	case Initializer:
		return "initializer"
	case Planner:
		return "planner"
	case Analyst:
		return "analyst"
	case Reviewer:
		return "reviewer"
	default:
		return "unknown"
	}
}

// Turn is one message in a conversation. Turns are never mutated once appended.
type Turn struct {
	Speaker Speaker `json:"speaker"`
	Content string  `json:"content"`
}

// Agent is a model-backed participant: a speaker tag and its system prompt.
type Agent struct {
	Speaker      Speaker
	SystemPrompt string
}

// Roster maps speakers to the agents that play them.
type Roster map[Speaker]Agent

// Clone returns an independent copy so concurrent conversations never share
// agent state.
func (r Roster) Clone() Roster {
	out := make(Roster, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// render builds the message list a speaker sees: its own system prompt, its
// own prior turns as AI messages and everyone else's as human messages.
func (a Agent) render(history []Turn) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(history)+1)
	if a.SystemPrompt != "" {
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(a.SystemPrompt)},
		})
	}
	for _, t := range history {
		role := llms.ChatMessageTypeHuman
		if t.Speaker == a.Speaker {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.MessageContent{
			Role:  role,
			Parts: []llms.ContentPart{llms.TextPart(t.Content)},
		})
	}
	return messages
}

// ParseSpeaker is the inverse of Speaker.String.
func ParseSpeaker(s string) (Speaker, bool) {
	for _, sp := range []Speaker{Initializer, Planner, Analyst, Reviewer} {
		if sp.String() == s {
			return sp, true
		}
	}
	return 0, false
}
