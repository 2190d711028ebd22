package observability

import (
	"sort"
	"sync"
	"time"
)

// Stage names the phase a run is in.
type Stage string

const (
	StageIdle      Stage = "IDLE"
	StagePlanning  Stage = "PLANNING"
	StageStepping  Stage = "STEPPING"
	StageReporting Stage = "REPORTING"
)

// Tracker counts in-flight step stages and remembers the high-water mark.
type Tracker struct {
	mu        sync.RWMutex
	stage     Stage
	active    map[string]time.Time
	peak      int
	completed int
	skipped   int
}

func NewTracker() *Tracker {
	return &Tracker{
		stage:  StageIdle,
		active: make(map[string]time.Time),
	}
}

// Snapshot is a copy of the tracker state.
type Snapshot struct {
	Stage     Stage
	InFlight  []string
	Peak      int
	Completed int
	Skipped   int
}

func (t *Tracker) SetStage(stage Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stage = stage
}

// Enter marks a step as running.
func (t *Tracker) Enter(stepID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[stepID] = time.Now()
	if len(t.active) > t.peak {
		t.peak = len(t.active)
	}
}

// Leave marks a step as finished; approved reports whether it produced an artifact.
func (t *Tracker) Leave(stepID string, approved bool) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	started, ok := t.active[stepID]
	delete(t.active, stepID)
	if approved {
		t.completed++
	} else {
		t.skipped++
	}
	if !ok {
		return 0
	}
	return time.Since(started)
}

func (t *Tracker) Peak() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.peak
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.active))
	for id := range t.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return Snapshot{
		Stage:     t.stage,
		InFlight:  ids,
		Peak:      t.peak,
		Completed: t.completed,
		Skipped:   t.skipped,
	}
}
