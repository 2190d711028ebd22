package report

import (
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/rahul/autoreq/internal/agent"
)

var strict = bluemonday.StrictPolicy()

func PlanJSON(steps []agent.Step) ([]byte, error) {
	if steps == nil {
		steps = []agent.Step{}
	}
	return json.MarshalIndent(steps, "", "    ")
}

func PlanText(steps []agent.Step) string {
	var b strings.Builder
	for _, s := range steps {
		fmt.Fprintf(&b, "STEP: %s\nDETAILS: %s\n\n", s.ID, s.Details)
	}
	return b.String()
}

func ReportJSON(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	return json.MarshalIndent(records, "", "    ")
}

// ReportText flattens records into "key: value" blocks, stepId first, with
// any markup the model emitted stripped out.
func ReportText(records []Record) string {
	blocks := make([]string, 0, len(records))
	for _, r := range records {
		keys := make([]string, 0, len(r))
		for k := range r {
			if k != StepIDKey {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)

		var b strings.Builder
		if _, ok := r[StepIDKey]; ok {
			fmt.Fprintf(&b, "%s: %s\n", StepIDKey, plain(r[StepIDKey]))
		}
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\n", plain(k), plain(r[k]))
		}
		blocks = append(blocks, strings.TrimRight(b.String(), "\n"))
	}
	if len(blocks) == 0 {
		return ""
	}
	return strings.Join(blocks, "\n\n") + "\n"
}

func plain(v any) string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case nil:
		s = ""
	default:
		data, err := json.Marshal(t)
		if err != nil {
			s = fmt.Sprint(t)
		} else {
			s = string(data)
		}
	}
	return html.UnescapeString(strict.Sanitize(s))
}
