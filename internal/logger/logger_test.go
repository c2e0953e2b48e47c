package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWithContext_NoInit(t *testing.T) {
	// Helpers are no-ops before Init and must not panic.
	Info("ignored %d", 1)
	Error("ignored %d", 2)

	ctx := WithScheduleID(WithRunID(context.Background(), "run-1"), "sched_1")
	if got := ctx.Value(ContextKeyRunID); got != "run-1" {
		t.Errorf("run id = %v, want %q", got, "run-1")
	}
	if got := ctx.Value(ContextKeyScheduleID); got != "sched_1" {
		t.Errorf("schedule id = %v, want %q", got, "sched_1")
	}
	if WithContext(ctx) == nil {
		t.Error("WithContext() returned nil")
	}
}

func TestInit_WritesDatedFile(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir, true); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer Close()

	Info("hello %s", "world")
	InfoContext(WithRequestID(WithRunID(context.Background(), "run-9"), "req-3"), "structured")

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 || !strings.HasPrefix(entries[0].Name(), "assimilate-") {
		t.Fatalf("log files = %v, want one assimilate-*.log", entries)
	}
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "hello world") {
		t.Errorf("log file missing printf message: %q", data)
	}
	for _, want := range []string{`"run_id":"run-9"`, `"request_id":"req-3"`, `"msg":"structured"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log file missing %s: %q", want, data)
		}
	}
}
