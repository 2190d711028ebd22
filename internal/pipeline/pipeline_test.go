package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/autoreq/internal/agent"
	"github.com/rahul/autoreq/internal/gateway"
	"github.com/rahul/autoreq/internal/observability"
	"github.com/rahul/autoreq/internal/report"
	"github.com/rahul/autoreq/internal/store"
	"github.com/rahul/autoreq/pkg/config"
)

const (
	plannerPrompt  = "plan the work"
	analystPrompt  = "draft requirements"
	reviewerPrompt = "review the draft"

	approve = `{"NEXTSTEP": "APPROVED", "FEEDBACK": {"OverallScore": 9}}`
	revise  = `{"NEXTSTEP": "REVISE", "FEEDBACK": {"OverallScore": 4}}`
)

func testPrompts() *agent.Prompts {
	return &agent.Prompts{
		Planner:        plannerPrompt,
		Analyst:        analystPrompt,
		Reviewer:       reviewerPrompt,
		ExampleMessage: "Build a SaaS product",
	}
}

// fakeModel answers by role. The reviewer approves a step once the analyst
// has drafted it approvals[stepID] times.
type fakeModel struct {
	plan      string
	approvals map[string]int
	planErr   error
	// draft replaces the analyst's default answer when set.
	draft string
	// onApprove runs every time the reviewer approves.
	onApprove func()

	mu     sync.Mutex
	topics []string
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

func (f *fakeModel) Complete(ctx context.Context, messages []llms.MessageContent) (string, error) {
	system := textOf(messages[0])
	var humans []string
	for _, m := range messages[1:] {
		if m.Role == llms.ChatMessageTypeHuman {
			humans = append(humans, textOf(m))
		}
	}

	switch system {
	case plannerPrompt:
		f.mu.Lock()
		f.topics = append(f.topics, humans[0])
		f.mu.Unlock()
		return f.plan, f.planErr
	case analystPrompt:
		if f.draft != "" {
			return f.draft, nil
		}
		return `{"field":"x"}`, nil
	case reviewerPrompt:
		var seed struct {
			Step string `json:"Step"`
		}
		if err := json.Unmarshal([]byte(humans[0]), &seed); err != nil {
			return "", err
		}
		// humans = seed + one message per analyst draft
		if len(humans)-1 >= f.approvals[seed.Step] {
			if f.onApprove != nil {
				f.onApprove()
			}
			return approve, nil
		}
		return revise, nil
	}
	return "", errors.New("unexpected system prompt")
}

type countingNotifier struct {
	got []gateway.Summary
}

func (c *countingNotifier) Notify(ctx context.Context, s gateway.Summary) error {
	c.got = append(c.got, s)
	return nil
}

func newPipeline(model *fakeModel, rounds int, sinks ...report.Sink) *Pipeline {
	return &Pipeline{
		Client:  model,
		Prompts: testPrompts(),
		Run: config.RunConfig{
			MaxConcurrency: 3,
			PlanMaxRounds:  5,
			StepMaxRounds:  rounds,
			ApprovalFloor:  5,
		},
		Sinks:  sinks,
		Logger: observability.NewNopLogger(),
	}
}

func TestExecute_TwoStepsWithRevisions(t *testing.T) {
	model := &fakeModel{
		plan:      `{"plan": [{"id": "1", "details": "auth"}, {"id": "2", "details": "billing"}]}`,
		approvals: map[string]int{"1": 1, "2": 3},
	}
	notifier := &countingNotifier{}
	p := newPipeline(model, 10)
	p.Notifier = notifier
	p.OutputDir = "out"

	res, err := p.Execute(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, []agent.Step{{ID: "1", Details: "auth"}, {ID: "2", Details: "billing"}}, res.Steps)
	require.Len(t, res.Report.Records, 2)
	ids := []string{res.Report.Records[0].StepID(), res.Report.Records[1].StepID()}
	sort.Strings(ids)
	assert.Equal(t, []string{"1", "2"}, ids)
	for _, r := range res.Report.Records {
		assert.Equal(t, "x", r["field"])
	}
	assert.Empty(t, res.Report.Skipped)
	assert.Zero(t, res.Warnings)

	rounds := map[string]int{}
	for _, o := range res.Outcomes {
		rounds[o.Step.ID] = o.Rounds
	}
	assert.Equal(t, map[string]int{"1": 2, "2": 6}, rounds)

	assert.Equal(t, []string{"Build a SaaS product"}, model.topics, "empty topic falls back to the example message")
	require.Len(t, notifier.got, 1)
	assert.Equal(t, 2, notifier.got[0].Records)
	assert.Equal(t, "out", notifier.got[0].Output)
	assert.NotEmpty(t, res.RunID)
}

func TestExecute_RoundCapSkipsStep(t *testing.T) {
	model := &fakeModel{
		plan:      `{"plan": [{"id": 1, "details": "auth"}, {"step": 2, "details": "billing"}]}`,
		approvals: map[string]int{"1": 1, "2": 100},
	}
	p := newPipeline(model, 4)

	res, err := p.Execute(context.Background(), "ticketing")
	require.NoError(t, err)

	require.Len(t, res.Report.Records, 1)
	assert.Equal(t, "1", res.Report.Records[0].StepID())
	assert.Equal(t, []string{"2"}, res.Report.Skipped)
	assert.Equal(t, []string{"ticketing"}, model.topics)
}

func TestExecute_PlanFailureAborts(t *testing.T) {
	tests := []struct {
		name  string
		model *fakeModel
		want  error
	}{
		{"missing plan key", &fakeModel{plan: `{"steps": []}`}, agent.ErrPlanMissing},
		{"not json", &fakeModel{plan: "Here is my plan: auth, billing"}, agent.ErrPlanDecode},
		{"duplicate ids", &fakeModel{plan: `{"plan": [{"id": "1"}, {"id": "1"}]}`}, agent.ErrPlanDecode},
		{"backend down", &fakeModel{planErr: errors.New("connection refused")}, agent.ErrNoPlannerOutput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			p := newPipeline(tt.model, 10, report.NewFileSink(dir))

			res, err := p.Execute(context.Background(), "x")
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.want)

			_, statErr := os.Stat(filepath.Join(dir, report.ReportJSONFile))
			assert.True(t, os.IsNotExist(statErr), "no report is written after a plan failure")
		})
	}
}

func TestExecute_EmptyPlan(t *testing.T) {
	dir := t.TempDir()
	p := newPipeline(&fakeModel{plan: `{"plan": []}`}, 10, report.NewFileSink(dir))

	res, err := p.Execute(context.Background(), "x")
	require.NoError(t, err)
	assert.Empty(t, res.Report.Records)

	data, err := os.ReadFile(filepath.Join(dir, report.ReportJSONFile))
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}

func TestExecute_PersistsToFilesAndStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	ts, err := store.NewTranscriptStore(filepath.Join(dir, "autoreq.db"))
	require.NoError(t, err)
	defer ts.Close()
	w, err := ts.BeginRun(ctx, "run-42", "ticketing")
	require.NoError(t, err)

	model := &fakeModel{
		plan:      `{"plan": [{"id": "1", "details": "auth"}]}`,
		approvals: map[string]int{"1": 2},
	}
	p := newPipeline(model, 10, report.NewFileSink(dir), w)
	p.Recorder = w
	p.RunID = w.RunID()

	res, err := p.Execute(ctx, "ticketing")
	require.NoError(t, err)
	assert.Equal(t, "run-42", res.RunID)

	data, err := os.ReadFile(filepath.Join(dir, report.ReportJSONFile))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"field": "x", "stepId": "1"}]`, string(data))

	text, err := os.ReadFile(filepath.Join(dir, report.PlanTextFile))
	require.NoError(t, err)
	assert.Equal(t, "STEP: 1\nDETAILS: auth\n\n", string(text))

	records, err := ts.Records(ctx, "run-42")
	require.NoError(t, err)
	assert.Equal(t, res.Report.Records, records)

	turns, err := ts.Turns(ctx, "run-42", "step-1")
	require.NoError(t, err)
	require.Len(t, turns, 5)
	assert.Equal(t, agent.Initializer, turns[0].Speaker)
	assert.Equal(t, agent.Reviewer, turns[4].Speaker)
}

func TestPlan_OnlyWritesPlan(t *testing.T) {
	dir := t.TempDir()
	model := &fakeModel{plan: `{"plan": [{"id": "a", "details": "one"}]}`}
	p := newPipeline(model, 10, report.NewFileSink(dir))

	steps, err := p.Plan(context.Background(), "topic")
	require.NoError(t, err)
	assert.Equal(t, []agent.Step{{ID: "a", Details: "one"}}, steps)

	_, err = os.Stat(filepath.Join(dir, report.PlanJSONFile))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, report.ReportJSONFile))
	assert.True(t, os.IsNotExist(err))
}

func TestExecute_ApprovedStepWithoutRecordsIsSkipped(t *testing.T) {
	model := &fakeModel{
		plan:      `{"plan": [{"id": "1", "details": "auth"}]}`,
		approvals: map[string]int{"1": 1},
		draft:     "OUTPUT:",
	}
	notifier := &countingNotifier{}
	p := newPipeline(model, 10)
	p.Notifier = notifier

	res, err := p.Execute(context.Background(), "x")
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 1)
	assert.True(t, res.Outcomes[0].Approved)
	assert.Empty(t, res.Report.Records)
	assert.Equal(t, []string{"1"}, res.Report.Skipped)
	require.Len(t, notifier.got, 1)
	assert.Equal(t, []string{"1"}, notifier.got[0].Skipped)
}

// ctxSink fails like a database driver would when handed a cancelled context.
type ctxSink struct {
	reports int
}

func (c *ctxSink) WritePlan(ctx context.Context, steps []agent.Step) error { return ctx.Err() }

func (c *ctxSink) WriteReport(ctx context.Context, rep report.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.reports++
	return nil
}

func TestExecute_PersistsReportAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	model := &fakeModel{
		plan:      `{"plan": [{"id": "1", "details": "auth"}]}`,
		approvals: map[string]int{"1": 1},
		onApprove: cancel,
	}
	sink := &ctxSink{}
	p := newPipeline(model, 10, sink)

	res, err := p.Execute(ctx, "x")
	require.NoError(t, err)
	require.Error(t, ctx.Err(), "the run context was cancelled mid-run")

	assert.Equal(t, 1, sink.reports)
	require.Len(t, res.Report.Records, 1)
	assert.Equal(t, "1", res.Report.Records[0].StepID())
}
