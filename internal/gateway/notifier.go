package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Notifier announces finished runs on a chat channel.
type Notifier interface {
	Notify(ctx context.Context, s Summary) error
}

// Summary is the message body sent after a run.
type Summary struct {
	RunID    string
	Steps    int
	Records  int
	Skipped  []string
	Warnings int
	Output   string
}

// Text renders the summary as a short chat message.
func (s Summary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Requirements run %s finished\n", s.RunID)
	fmt.Fprintf(&b, "Steps: %d, records: %d\n", s.Steps, s.Records)
	if len(s.Skipped) > 0 {
		fmt.Fprintf(&b, "Skipped: %s\n", strings.Join(s.Skipped, ", "))
	}
	if s.Warnings > 0 {
		fmt.Fprintf(&b, "Policy warnings: %d\n", s.Warnings)
	}
	if s.Output != "" {
		fmt.Fprintf(&b, "Output: %s\n", s.Output)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Multi sends to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, s Summary) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
