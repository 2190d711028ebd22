package agent

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrMissingPrompt is returned when a required prompt key is absent or blank.
var ErrMissingPrompt = errors.New("missing required prompt")

type agentPrompt struct {
	SystemMessage string `yaml:"system_message"`
}

type promptFile struct {
	Planner        agentPrompt `yaml:"planningagent"`
	Analyst        agentPrompt `yaml:"analyst"`
	Reviewer       agentPrompt `yaml:"qamanager"`
	ExampleMessage string      `yaml:"example_message"`
}

// Prompts holds the system prompts for every agent plus the plan seed.
type Prompts struct {
	Planner        string
	Analyst        string
	Reviewer       string
	ExampleMessage string
}

// LoadPrompts reads a prompts YAML file. Every key is required.
func LoadPrompts(path string) (*Prompts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}
	return ParsePrompts(data)
}

func ParsePrompts(data []byte) (*Prompts, error) {
	var f promptFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode prompts: %w", err)
	}

	p := &Prompts{
		Planner:        f.Planner.SystemMessage,
		Analyst:        f.Analyst.SystemMessage,
		Reviewer:       f.Reviewer.SystemMessage,
		ExampleMessage: f.ExampleMessage,
	}

	var missing []string
	for key, v := range map[string]string{
		"planningagent.system_message": p.Planner,
		"analyst.system_message":       p.Analyst,
		"qamanager.system_message":     p.Reviewer,
		"example_message":              p.ExampleMessage,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %s", ErrMissingPrompt, strings.Join(missing, ", "))
	}
	return p, nil
}

// PlanRoster is the cast of the planning conversation.
func (p *Prompts) PlanRoster() Roster {
	return Roster{
		Planner: {Speaker: Planner, SystemPrompt: p.Planner},
	}
}

// StepRoster is the cast of a per-step draft/review conversation.
func (p *Prompts) StepRoster() Roster {
	return Roster{
		Analyst:  {Speaker: Analyst, SystemPrompt: p.Analyst},
		Reviewer: {Speaker: Reviewer, SystemPrompt: p.Reviewer},
	}
}
