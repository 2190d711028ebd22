package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/glebarez/go-sqlite"

	"github.com/rahul/autoreq/internal/agent"
	"github.com/rahul/autoreq/internal/report"
)

// TranscriptStore keeps every run's conversations, plan and report in SQLite.
type TranscriptStore struct {
	DB *sql.DB
}

func NewTranscriptStore(dbPath string) (*TranscriptStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// step goroutines write concurrently; one connection serializes them
	db.SetMaxOpenConns(1)

	// Create tables if not exist
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			topic TEXT,
			status TEXT DEFAULT 'running',
			started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			finished_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT,
			conversation TEXT,
			idx INTEGER,
			speaker TEXT,
			content TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS plan_steps (
			run_id TEXT,
			position INTEGER,
			step_id TEXT,
			details TEXT,
			PRIMARY KEY (run_id, position)
		);`,
		`CREATE TABLE IF NOT EXISTS records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT,
			step_id TEXT,
			body TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS skipped_steps (
			run_id TEXT,
			step_id TEXT,
			PRIMARY KEY (run_id, step_id)
		);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &TranscriptStore{DB: db}, nil
}

func (s *TranscriptStore) Close() error {
	return s.DB.Close()
}

// BeginRun registers a run and returns a writer scoped to it.
func (s *TranscriptStore) BeginRun(ctx context.Context, runID, topic string) (*RunWriter, error) {
	query := `INSERT INTO runs (id, topic) VALUES (?, ?)`
	if _, err := s.DB.ExecContext(ctx, query, runID, topic); err != nil {
		return nil, fmt.Errorf("failed to register run: %w", err)
	}
	return &RunWriter{store: s, runID: runID}, nil
}

// Turns returns one conversation of a run in order.
func (s *TranscriptStore) Turns(ctx context.Context, runID, conversation string) ([]agent.Turn, error) {
	query := `SELECT speaker, content FROM turns WHERE run_id = ? AND conversation = ? ORDER BY idx ASC, id ASC`
	rows, err := s.DB.QueryContext(ctx, query, runID, conversation)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []agent.Turn
	for rows.Next() {
		var speaker, content string
		if err := rows.Scan(&speaker, &content); err != nil {
			return nil, err
		}
		sp, ok := agent.ParseSpeaker(speaker)
		if !ok {
			return nil, fmt.Errorf("unknown speaker %q in transcript", speaker)
		}
		turns = append(turns, agent.Turn{Speaker: sp, Content: content})
	}
	return turns, rows.Err()
}

// Plan returns the stored plan of a run in plan order.
func (s *TranscriptStore) Plan(ctx context.Context, runID string) ([]agent.Step, error) {
	query := `SELECT step_id, details FROM plan_steps WHERE run_id = ? ORDER BY position ASC`
	rows, err := s.DB.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []agent.Step
	for rows.Next() {
		var st agent.Step
		if err := rows.Scan(&st.ID, &st.Details); err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// Records returns the stored report records of a run.
func (s *TranscriptStore) Records(ctx context.Context, runID string) ([]report.Record, error) {
	query := `SELECT body FROM records WHERE run_id = ? ORDER BY id ASC`
	rows, err := s.DB.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []report.Record
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var r report.Record
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, fmt.Errorf("corrupt record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Status returns the run's status column.
func (s *TranscriptStore) Status(ctx context.Context, runID string) (string, error) {
	var status string
	err := s.DB.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = ?`, runID).Scan(&status)
	return status, err
}

// RunWriter persists one run. It records turns as they happen and acts as a
// report.Sink for the plan and the final report.
type RunWriter struct {
	store *TranscriptStore
	runID string
}

func (w *RunWriter) RunID() string { return w.runID }

func (w *RunWriter) RecordTurn(ctx context.Context, conversation string, index int, turn agent.Turn) error {
	query := `INSERT INTO turns (run_id, conversation, idx, speaker, content) VALUES (?, ?, ?, ?, ?)`
	_, err := w.store.DB.ExecContext(ctx, query, w.runID, conversation, index, turn.Speaker.String(), turn.Content)
	return err
}

func (w *RunWriter) WritePlan(ctx context.Context, steps []agent.Step) error {
	tx, err := w.store.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO plan_steps (run_id, position, step_id, details) VALUES (?, ?, ?, ?)`
	for i, st := range steps {
		if _, err := tx.ExecContext(ctx, query, w.runID, i, st.ID, st.Details); err != nil {
			return fmt.Errorf("failed to store plan step %s: %w", st.ID, err)
		}
	}
	return tx.Commit()
}

func (w *RunWriter) WriteReport(ctx context.Context, rep report.Report) error {
	tx, err := w.store.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range rep.Records {
		body, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
		query := `INSERT INTO records (run_id, step_id, body) VALUES (?, ?, ?)`
		if _, err := tx.ExecContext(ctx, query, w.runID, r.StepID(), string(body)); err != nil {
			return err
		}
	}
	for _, id := range rep.Skipped {
		query := `INSERT OR IGNORE INTO skipped_steps (run_id, step_id) VALUES (?, ?)`
		if _, err := tx.ExecContext(ctx, query, w.runID, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Finish stamps the run with a final status.
func (w *RunWriter) Finish(ctx context.Context, status string) error {
	query := `UPDATE runs SET status = ?, finished_at = datetime('now') WHERE id = ?`
	_, err := w.store.DB.ExecContext(ctx, query, status, w.runID)
	return err
}
