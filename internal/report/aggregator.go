// Package report turns approved analyst drafts into report records and
// writes plans and reports out.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/rahul/autoreq/internal/observability"
)

// StepIDKey is the back-reference injected into every record.
const StepIDKey = "stepId"

const outputLabel = "OUTPUT:"

// Record is one structured requirement artifact.
type Record map[string]any

// StepID returns the injected back-reference.
func (r Record) StepID() string {
	id, _ := r[StepIDKey].(string)
	return id
}

// Diagnostic describes a segment that was dropped during recovery.
type Diagnostic struct {
	StepID  string `json:"step_id"`
	Segment string `json:"segment"`
	Err     string `json:"error"`
}

var blankLine = regexp.MustCompile(`\r?\n[ \t]*\r?\n`)

// Recover runs the repair pipeline over one approved draft and returns the
// decoded records tagged with stepID. Segments that are valid JSON are used
// unchanged; doubled braces are only collapsed when decoding fails.
// Undecodable segments become diagnostics.
func Recover(stepID, text string) ([]Record, []Diagnostic) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, outputLabel)
	text = strings.TrimSpace(text)

	var (
		records []Record
		diags   []Diagnostic
	)
	for _, segment := range blankLine.Split(text, -1) {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		recs, err := decodeSegment(segment)
		if err != nil && strings.Contains(segment, "{{") {
			if fixed, ferr := decodeSegment(undoubleBraces(segment)); ferr == nil {
				recs, err = fixed, nil
			}
		}
		if err != nil {
			diags = append(diags, Diagnostic{StepID: stepID, Segment: segment, Err: err.Error()})
		}
		for _, r := range recs {
			r[StepIDKey] = stepID
			records = append(records, r)
		}
	}
	return records, diags
}

// undoubleBraces collapses {{ and }} to single braces.
func undoubleBraces(segment string) string {
	segment = strings.ReplaceAll(segment, "{{", "{")
	return strings.ReplaceAll(segment, "}}", "}")
}

var errNotObject = errors.New("segment is not an object or a list of objects")

// decodeSegment accepts one object or an array of objects. Non-object array
// items are skipped and reported through the returned error while the valid
// items are still returned.
func decodeSegment(segment string) ([]Record, error) {
	var v any
	if err := json.Unmarshal([]byte(segment), &v); err != nil {
		return nil, err
	}

	switch t := v.(type) {
	case map[string]any:
		return []Record{t}, nil
	case []any:
		var (
			out []Record
			bad int
		)
		for _, item := range t {
			obj, ok := item.(map[string]any)
			if !ok {
				bad++
				continue
			}
			out = append(out, obj)
		}
		if bad > 0 {
			return out, fmt.Errorf("%w: %d list item(s) skipped", errNotObject, bad)
		}
		return out, nil
	default:
		return nil, errNotObject
	}
}

// Aggregator collects records from finished steps. Safe for concurrent use.
type Aggregator struct {
	mu      sync.Mutex
	records []Record
	diags   []Diagnostic
	skipped []string
	logger  *observability.Logger
}

func NewAggregator(logger *observability.Logger) *Aggregator {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Aggregator{logger: logger}
}

// Add recovers text for stepID and appends the result. It returns how many
// records were added.
func (a *Aggregator) Add(stepID, text string) int {
	records, diags := Recover(stepID, text)
	for _, d := range diags {
		a.logger.LogDiagnostic(d.StepID, d.Segment, errors.New(d.Err))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, records...)
	a.diags = append(a.diags, diags...)
	return len(records)
}

// Skip records a step that produced no approved artifact.
func (a *Aggregator) Skip(stepID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.skipped = append(a.skipped, stepID)
}

// Report is a snapshot of everything aggregated so far.
type Report struct {
	Records     []Record
	Diagnostics []Diagnostic
	Skipped     []string
}

func (a *Aggregator) Report() Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Report{
		Records:     append([]Record(nil), a.records...),
		Diagnostics: append([]Diagnostic(nil), a.diags...),
		Skipped:     append([]string(nil), a.skipped...),
	}
}
