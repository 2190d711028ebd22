package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Verdict is the reviewer's decision about the latest draft.
type Verdict string

const (
	VerdictApproved    Verdict = "APPROVED"
	VerdictRevise      Verdict = "REVISE"
	VerdictUnparseable Verdict = "UNPARSEABLE"
)

// Feedback is the structured part of a reviewer turn.
type Feedback struct {
	Verdict      Verdict  `json:"verdict"`
	QualityScore *float64 `json:"quality_score,omitempty"`
	// Raw is the NEXTSTEP literal as the reviewer wrote it.
	Raw string `json:"raw,omitempty"`
}

func (f Feedback) Approved() bool { return f.Verdict == VerdictApproved }

// ErrFeedbackDecode wraps every reason a reviewer turn could not be read.
var ErrFeedbackDecode = errors.New("feedback decode failed")

type reviewerPayload struct {
	NextStep *string         `json:"NEXTSTEP"`
	Feedback json.RawMessage `json:"FEEDBACK"`
}

// ParseFeedback reads a reviewer turn. It always returns a usable Feedback;
// when the text cannot be decoded the verdict is UNPARSEABLE and the error
// says why. The error is diagnostic only and is never worth retrying.
func ParseFeedback(text string) (fb Feedback, err error) {
	fb = Feedback{Verdict: VerdictUnparseable}
	defer func() {
		if r := recover(); r != nil {
			fb = Feedback{Verdict: VerdictUnparseable}
			err = fmt.Errorf("%w: %v", ErrFeedbackDecode, r)
		}
	}()

	var payload reviewerPayload
	if err := json.Unmarshal([]byte(cleanModelJSON(text)), &payload); err != nil {
		return fb, fmt.Errorf("%w: %v", ErrFeedbackDecode, err)
	}
	if payload.NextStep == nil {
		return fb, fmt.Errorf("%w: NEXTSTEP missing", ErrFeedbackDecode)
	}

	fb.Raw = *payload.NextStep
	fb.QualityScore = overallScore(payload.Feedback)

	switch strings.ToUpper(strings.TrimSpace(*payload.NextStep)) {
	case string(VerdictApproved):
		fb.Verdict = VerdictApproved
	case string(VerdictRevise):
		fb.Verdict = VerdictRevise
	default:
		return fb, fmt.Errorf("%w: unknown NEXTSTEP %q", ErrFeedbackDecode, *payload.NextStep)
	}
	return fb, nil
}

// overallScore pulls FEEDBACK.OverallScore when it is a number or a numeric
// string. Anything else is treated as absent.
func overallScore(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	v, ok := fields["OverallScore"]
	if !ok {
		return nil
	}

	var n float64
	if err := json.Unmarshal(v, &n); err == nil {
		return &n
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return &n
		}
	}
	return nil
}

// cleanModelJSON strips the noise models wrap around JSON: surrounding
// whitespace and a markdown code fence.
func cleanModelJSON(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		// drop the info string, e.g. ```json
		if !strings.ContainsAny(text[:nl], "{[") {
			text = text[nl+1:]
		}
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
