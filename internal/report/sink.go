package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rahul/autoreq/internal/agent"
)

// File names written by FileSink.
const (
	PlanJSONFile   = "generated_plan.json"
	PlanTextFile   = "generated_plan.txt"
	ReportJSONFile = "consolidated_report.json"
	ReportTextFile = "consolidated_report.txt"
)

// Sink persists the two artifacts a run produces.
type Sink interface {
	WritePlan(ctx context.Context, steps []agent.Step) error
	WriteReport(ctx context.Context, report Report) error
}

// FileSink writes each artifact as indented JSON and as flattened text.
type FileSink struct {
	Dir string
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{Dir: dir}
}

func (s *FileSink) WritePlan(ctx context.Context, steps []agent.Step) error {
	data, err := PlanJSON(steps)
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	if err := s.write(PlanJSONFile, data); err != nil {
		return err
	}
	return s.write(PlanTextFile, []byte(PlanText(steps)))
}

func (s *FileSink) WriteReport(ctx context.Context, report Report) error {
	data, err := ReportJSON(report.Records)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := s.write(ReportJSONFile, data); err != nil {
		return err
	}
	return s.write(ReportTextFile, []byte(ReportText(report.Records)))
}

func (s *FileSink) write(name string, data []byte) error {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// MultiSink fans out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) WritePlan(ctx context.Context, steps []agent.Step) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.WritePlan(ctx, steps))
	}
	return errors.Join(errs...)
}

func (m MultiSink) WriteReport(ctx context.Context, report Report) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.WriteReport(ctx, report))
	}
	return errors.Join(errs...)
}
