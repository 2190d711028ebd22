package observability

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeRun        EventType = "run"
	EventTypePlan       EventType = "plan"
	EventTypeStep       EventType = "step"
	EventTypeTurn       EventType = "turn"
	EventTypeLLM        EventType = "llm"
	EventTypeSkip       EventType = "skip"
	EventTypeAnomaly    EventType = "anomaly"
	EventTypeDiagnostic EventType = "diagnostic"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id,omitempty"`
	StepID    string    `json:"step_id,omitempty"`
	Message   string    `json:"message,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Options configures a Logger. Zero values fall back to stderr, info level and
// the text formatter.
type Options struct {
	Out        io.Writer
	Level      string
	Format     string
	LLMLogPath string
}

// Logger handles structured logging.
type Logger struct {
	base       *logrus.Logger
	llmLogPath string
	maxSize    int64
	fileMu     sync.Mutex
}

func NewLogger(opts Options) *Logger {
	base := logrus.New()
	if opts.Out != nil {
		base.SetOutput(opts.Out)
	} else {
		base.SetOutput(os.Stderr)
	}

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	if strings.EqualFold(opts.Format, "json") {
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return &Logger{
		base:       base,
		llmLogPath: opts.LLMLogPath,
		maxSize:    10 * 1024 * 1024, // 10MB
	}
}

// NewNopLogger discards everything; handy for tests and library callers.
func NewNopLogger() *Logger {
	return NewLogger(Options{Out: io.Discard})
}

// Log emits a structured event at info level.
func (l *Logger) Log(evt Event) {
	l.logAt(logrus.InfoLevel, evt)
}

func (l *Logger) logAt(level logrus.Level, evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	fields := logrus.Fields{"type": string(evt.Type)}
	if evt.RunID != "" {
		fields["run_id"] = evt.RunID
	}
	if evt.StepID != "" {
		fields["step_id"] = evt.StepID
	}
	if evt.Data != nil {
		fields["data"] = evt.Data
	}

	msg := evt.Message
	if msg == "" {
		msg = string(evt.Type)
	}
	l.base.WithFields(fields).WithTime(evt.Timestamp).Log(level, msg)

	if evt.Type == EventTypeLLM && l.llmLogPath != "" {
		data, err := json.Marshal(evt)
		if err != nil {
			l.base.Warnf("failed to marshal llm event: %v", err)
			return
		}
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		l.base.Warnf("failed to create log directory: %v", err)
		return
	}

	// Check size before writing
	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		l.base.Warnf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		l.base.Warnf("failed to write to log file: %v", err)
	}
}

func (l *Logger) rotateLogs() {
	// keep one .old generation
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}

func (l *Logger) Debugf(format string, args ...any) { l.base.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.base.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.base.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.base.Errorf(format, args...) }

// Helper methods for common events

func (l *Logger) LogRun(runID, message string, data any) {
	l.Log(Event{Type: EventTypeRun, RunID: runID, Message: message, Data: data})
}

func (l *Logger) LogPlan(runID string, stepCount int) {
	l.Log(Event{
		Type:    EventTypePlan,
		RunID:   runID,
		Message: "plan accepted",
		Data:    map[string]int{"steps": stepCount},
	})
}

func (l *Logger) LogStep(runID, stepID, status string, turns int) {
	l.Log(Event{
		Type:    EventTypeStep,
		RunID:   runID,
		StepID:  stepID,
		Message: "step " + status,
		Data:    map[string]any{"status": status, "turns": turns},
	})
}

func (l *Logger) LogTurn(conversation, speaker string, round int) {
	l.logAt(logrus.DebugLevel, Event{
		Type:    EventTypeTurn,
		Message: speaker + " spoke",
		Data: map[string]any{
			"conversation": conversation,
			"speaker":      speaker,
			"round":        round,
		},
	})
}

func (l *Logger) LogSkip(runID, stepID, reason string) {
	l.logAt(logrus.WarnLevel, Event{
		Type:    EventTypeSkip,
		RunID:   runID,
		StepID:  stepID,
		Message: "no approved output for step",
		Data:    map[string]string{"reason": reason},
	})
}

func (l *Logger) LogAnomaly(stepID, reason string, score float64) {
	l.logAt(logrus.WarnLevel, Event{
		Type:    EventTypeAnomaly,
		StepID:  stepID,
		Message: reason,
		Data:    map[string]float64{"overall_score": score},
	})
}

func (l *Logger) LogDiagnostic(stepID, segment string, err error) {
	l.logAt(logrus.WarnLevel, Event{
		Type:    EventTypeDiagnostic,
		StepID:  stepID,
		Message: "dropped undecodable segment",
		Data: map[string]string{
			"segment": segment,
			"error":   err.Error(),
		},
	})
}

func (l *Logger) LogLLM(conversation, speaker string, prompt any, response string, elapsed time.Duration) {
	l.logAt(logrus.DebugLevel, Event{
		Type:    EventTypeLLM,
		Message: "completion",
		Data: map[string]any{
			"conversation": conversation,
			"speaker":      speaker,
			"prompt":       prompt,
			"response":     response,
			"elapsed_ms":   elapsed.Milliseconds(),
		},
	})
}
