package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

const (
	testPlannerPrompt  = "you are the planner"
	testAnalystPrompt  = "you are the analyst"
	testReviewerPrompt = "you are the reviewer"
)

func testPrompts() *Prompts {
	return &Prompts{
		Planner:        testPlannerPrompt,
		Analyst:        testAnalystPrompt,
		Reviewer:       testReviewerPrompt,
		ExampleMessage: "Build a payments platform",
	}
}

// stubModel is an llms.Model whose answers come from respond.
type stubModel struct {
	mu      sync.Mutex
	calls   int
	options []llms.CallOptions
	respond func(ctx context.Context, messages []llms.MessageContent) (string, error)
}

func (m *stubModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	m.mu.Lock()
	m.calls++
	m.options = append(m.options, opts)
	m.mu.Unlock()

	text, err := m.respond(ctx, messages)
	if err != nil {
		return nil, err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}, nil
}

func (m *stubModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func (m *stubModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// completerFunc adapts a function to Completer.
type completerFunc func(ctx context.Context, messages []llms.MessageContent) (string, error)

func (f completerFunc) Complete(ctx context.Context, messages []llms.MessageContent) (string, error) {
	return f(ctx, messages)
}

func textOf(m llms.MessageContent) string {
	var b strings.Builder
	for _, p := range m.Parts {
		if t, ok := p.(llms.TextContent); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

func systemPromptOf(messages []llms.MessageContent) string {
	if len(messages) > 0 && messages[0].Role == llms.ChatMessageTypeSystem {
		return textOf(messages[0])
	}
	return ""
}

// stepIDOf reads the step id from the seed message of a step conversation.
func stepIDOf(messages []llms.MessageContent) string {
	for _, m := range messages {
		if m.Role != llms.ChatMessageTypeHuman {
			continue
		}
		var seed struct {
			Step string `json:"Step"`
		}
		if err := json.Unmarshal([]byte(textOf(m)), &seed); err == nil {
			return seed.Step
		}
		return ""
	}
	return ""
}

// countRole counts messages with the given role after the system prompt.
func countRole(messages []llms.MessageContent, role llms.ChatMessageType) int {
	n := 0
	for _, m := range messages {
		if m.Role == role {
			n++
		}
	}
	return n
}

const (
	approveJSON = `{"NEXTSTEP": "APPROVED", "FEEDBACK": {"OverallScore": 8}}`
	reviseJSON  = `{"NEXTSTEP": "REVISE", "FEEDBACK": {"OverallScore": 3, "Comments": "add detail"}}`
)
