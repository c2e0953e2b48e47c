// Package audit writes a JSON trail of operations that change server state.
package audit

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Operation represents the type of auditable operation
type Operation string

const (
	OpRunStart       Operation = "run.start"
	OpRunAbort       Operation = "run.abort"
	OpRunResult      Operation = "run.result"
	OpScheduleCreate Operation = "schedule.create"
	OpScheduleUpdate Operation = "schedule.update"
	OpScheduleDelete Operation = "schedule.delete"
	OpScheduleRun    Operation = "schedule.trigger"
)

// Event represents an audit log entry
type Event struct {
	Timestamp  time.Time      `json:"timestamp"`
	Operation  Operation      `json:"operation"`
	RunID      string         `json:"run_id,omitempty"`
	ScheduleID string         `json:"schedule_id,omitempty"`
	CaseName   string         `json:"case_name,omitempty"`
	Evaluator  string         `json:"evaluator,omitempty"`
	ClientID   string         `json:"client_id,omitempty"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// Outcome sets Success and Error from err.
func (e *Event) Outcome(err error) *Event {
	e.Success = err == nil
	e.Error = ""
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

func (e *Event) attrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("audit", "true"),
		slog.Time("at", e.Timestamp),
		slog.String("operation", string(e.Operation)),
		slog.Bool("success", e.Success),
	}
	for _, kv := range [...]struct{ key, value string }{
		{"run_id", e.RunID},
		{"schedule_id", e.ScheduleID},
		{"case_name", e.CaseName},
		{"evaluator", e.Evaluator},
		{"client_id", e.ClientID},
		{"error", e.Error},
	} {
		if kv.value != "" {
			attrs = append(attrs, slog.String(kv.key, kv.value))
		}
	}
	if len(e.Details) > 0 {
		attrs = append(attrs, slog.Any("details", e.Details))
	}
	return attrs
}

// Logger writes audit events as JSON lines.
type Logger struct {
	logger  *slog.Logger
	enabled atomic.Bool
}

var (
	defaultMu     sync.Mutex
	defaultLogger *Logger
)

// Default returns the process-wide audit logger, writing to stdout until
// SetDefault replaces it.
func Default() *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(os.Stdout, true)
	}
	return defaultLogger
}

// SetDefault replaces the process-wide audit logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

func New(w io.Writer, enabled bool) *Logger {
	l := &Logger{logger: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))}
	l.enabled.Store(enabled)
	return l
}

func (l *Logger) SetEnabled(enabled bool) {
	l.enabled.Store(enabled)
}

// Log records an audit event, stamping it when it carries no timestamp.
func (l *Logger) Log(event *Event) {
	if !l.enabled.Load() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	l.logger.LogAttrs(context.Background(), slog.LevelInfo, "AUDIT", event.attrs()...)
}

// LogRun records an operation on a run. err may be nil.
func (l *Logger) LogRun(op Operation, runID, caseName, evaluator string, err error) {
	l.Log((&Event{Operation: op, RunID: runID, CaseName: caseName, Evaluator: evaluator}).Outcome(err))
}

func Log(event *Event) {
	Default().Log(event)
}

func LogRun(op Operation, runID, caseName, evaluator string, err error) {
	Default().LogRun(op, runID, caseName, evaluator, err)
}
