package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/autoreq/internal/agent"
	"github.com/rahul/autoreq/internal/report"
)

func newTestStore(t *testing.T) *TranscriptStore {
	t.Helper()
	s, err := NewTranscriptStore(filepath.Join(t.TempDir(), "autoreq.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunWriter_Turns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	w, err := s.BeginRun(ctx, "run-1", "ticketing")
	require.NoError(t, err)
	assert.Equal(t, "run-1", w.RunID())

	turns := []agent.Turn{
		{Speaker: agent.Initializer, Content: `{"Step": "1"}`},
		{Speaker: agent.Analyst, Content: `{"field": "x"}`},
		{Speaker: agent.Reviewer, Content: `{"NEXTSTEP": "APPROVED"}`},
	}
	// out of order on purpose
	for _, i := range []int{2, 0, 1} {
		require.NoError(t, w.RecordTurn(ctx, "step-1", i, turns[i]))
	}
	require.NoError(t, w.RecordTurn(ctx, "plan", 0, agent.Turn{Speaker: agent.Planner, Content: "{}"}))

	got, err := s.Turns(ctx, "run-1", "step-1")
	require.NoError(t, err)
	assert.Equal(t, turns, got)

	plan, err := s.Turns(ctx, "run-1", "plan")
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, agent.Planner, plan[0].Speaker)
}

func TestRunWriter_ConcurrentTurns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	w, err := s.BeginRun(ctx, "run-2", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			conv := fmt.Sprintf("step-%d", c)
			for i := 0; i < 5; i++ {
				assert.NoError(t, w.RecordTurn(ctx, conv, i, agent.Turn{Speaker: agent.Analyst, Content: fmt.Sprint(i)}))
			}
		}(c)
	}
	wg.Wait()

	for c := 0; c < 4; c++ {
		got, err := s.Turns(ctx, "run-2", fmt.Sprintf("step-%d", c))
		require.NoError(t, err)
		assert.Len(t, got, 5)
	}
}

func TestRunWriter_PlanReportAndStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	w, err := s.BeginRun(ctx, "run-3", "billing")
	require.NoError(t, err)

	status, err := s.Status(ctx, "run-3")
	require.NoError(t, err)
	assert.Equal(t, "running", status)

	steps := []agent.Step{{ID: "2", Details: "billing"}, {ID: "1", Details: "auth"}}
	require.NoError(t, w.WritePlan(ctx, steps))

	rep := report.Report{
		Records: []report.Record{{"field": "x", "stepId": "1"}},
		Skipped: []string{"2", "2"},
	}
	require.NoError(t, w.WriteReport(ctx, rep))
	require.NoError(t, w.Finish(ctx, "completed"))

	gotPlan, err := s.Plan(ctx, "run-3")
	require.NoError(t, err)
	assert.Equal(t, steps, gotPlan, "plan order is preserved")

	records, err := s.Records(ctx, "run-3")
	require.NoError(t, err)
	assert.Equal(t, rep.Records, records)

	var skipped int
	require.NoError(t, s.DB.QueryRow(`SELECT COUNT(*) FROM skipped_steps WHERE run_id = ?`, "run-3").Scan(&skipped))
	assert.Equal(t, 1, skipped)

	status, err = s.Status(ctx, "run-3")
	require.NoError(t, err)
	assert.Equal(t, "completed", status)
}

func TestBeginRun_DuplicateID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.BeginRun(ctx, "same", "")
	require.NoError(t, err)
	_, err = s.BeginRun(ctx, "same", "")
	assert.Error(t, err)
}
