package observability

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_PeakAndCounts(t *testing.T) {
	tr := NewTracker()
	tr.SetStage(StageStepping)

	tr.Enter("1")
	tr.Enter("2")
	tr.Leave("1", true)
	tr.Enter("3")
	tr.Leave("2", false)
	tr.Leave("3", true)

	s := tr.Snapshot()
	assert.Equal(t, StageStepping, s.Stage)
	assert.Equal(t, 2, s.Peak)
	assert.Equal(t, 2, s.Completed)
	assert.Equal(t, 1, s.Skipped)
	assert.Empty(t, s.InFlight)
}

func TestTracker_ConcurrentUse(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("s%d", id)
			tr.Enter(key)
			tr.Leave(key, id%2 == 0)
		}(i)
	}
	wg.Wait()

	s := tr.Snapshot()
	assert.Equal(t, 50, s.Completed+s.Skipped)
	assert.LessOrEqual(t, s.Peak, 50)
}

func TestLogger_JSONEvents(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Options{Out: &buf, Format: "json", Level: "debug"})

	l.LogSkip("run-1", "7", "round cap exceeded")
	l.LogDiagnostic("7", "{bad", errors.New("unexpected end of JSON input"))

	out := buf.String()
	assert.Contains(t, out, `"type":"skip"`)
	assert.Contains(t, out, `"step_id":"7"`)
	assert.Contains(t, out, `"level":"warning"`)
	assert.Contains(t, out, "dropped undecodable segment")
}

func TestLogger_LLMEventsGoToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "llm.jsonl")
	l := NewLogger(Options{Out: &bytes.Buffer{}, LLMLogPath: path})

	l.LogLLM("step-1", "analyst", []string{"hi"}, "hello", 0)
	l.LogLLM("step-1", "reviewer", []string{"hi"}, "ok", 0)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(data, []byte("\n")))
	assert.Contains(t, string(data), `"speaker":"reviewer"`)
}

func TestSetupTracing_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), "", "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestPrintSummary_PlainWriter(t *testing.T) {
	var buf bytes.Buffer
	PrintSummary(&buf, Summary{RunID: "r", Steps: 3, Records: 2, Skipped: []string{"3"}})

	out := buf.String()
	assert.Contains(t, out, "Run r complete")
	assert.Contains(t, out, "skipped steps:   3")
	assert.NotContains(t, out, "\033[")
}

func TestTrimScheme(t *testing.T) {
	tests := map[string]string{
		"http://localhost:4318":    "localhost:4318",
		"https://collector.local/": "collector.local",
		"otel-collector:4318":      "otel-collector:4318",
	}
	for in, want := range tests {
		assert.Equal(t, want, trimScheme(in), in)
	}
}
