package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decode(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("audit line is not JSON: %q", line)
		}
		out = append(out, m)
	}
	return out
}

func TestLogger_LogRun(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, true)

	l.LogRun(OpRunStart, "run-1", "flood", "flood", nil)
	l.LogRun(OpRunAbort, "run-1", "flood", "flood", errors.New("client went away"))

	lines := decode(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("got %d audit lines, want 2", len(lines))
	}
	if lines[0]["operation"] != "run.start" || lines[0]["success"] != true || lines[0]["run_id"] != "run-1" {
		t.Errorf("first line = %v", lines[0])
	}
	if _, ok := lines[0]["error"]; ok {
		t.Error("successful event should not carry an error")
	}
	if lines[1]["success"] != false || lines[1]["error"] != "client went away" {
		t.Errorf("second line = %v", lines[1])
	}
	if lines[1]["msg"] != "AUDIT" || lines[1]["audit"] != "true" {
		t.Errorf("audit marker missing: %v", lines[1])
	}
}

func TestLogger_ScheduleEventWithDetails(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, true)

	l.Log((&Event{Operation: OpScheduleCreate, ScheduleID: "sched_1234", ClientID: "cli"}).Outcome(nil))
	l.Log((&Event{Operation: OpScheduleRun, ScheduleID: "sched_1234",
		Details: map[string]any{"run_id": "run-9"}}).Outcome(errors.New("case missing")))

	lines := decode(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("got %d audit lines, want 2", len(lines))
	}
	if lines[0]["schedule_id"] != "sched_1234" || lines[0]["client_id"] != "cli" || lines[0]["success"] != true {
		t.Errorf("first line = %v", lines[0])
	}
	details, ok := lines[1]["details"].(map[string]any)
	if !ok || details["run_id"] != "run-9" {
		t.Errorf("details = %v, want a nested object", lines[1]["details"])
	}
	if lines[1]["success"] != false || lines[1]["error"] != "case missing" {
		t.Errorf("second line = %v", lines[1])
	}
	if _, ok := lines[1]["at"]; !ok {
		t.Error("event timestamp missing")
	}
}

func TestLogger_Disabled(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false)
	l.LogRun(OpRunStart, "run-1", "", "", nil)
	if buf.Len() != 0 {
		t.Errorf("disabled logger wrote %q", buf.String())
	}

	l.SetEnabled(true)
	l.LogRun(OpRunStart, "run-1", "", "", nil)
	if buf.Len() == 0 {
		t.Error("re-enabled logger wrote nothing")
	}
}

func TestSetDefault(t *testing.T) {
	var buf bytes.Buffer
	prev := Default()
	SetDefault(New(&buf, true))
	defer SetDefault(prev)

	Log((&Event{Operation: OpScheduleDelete, ScheduleID: "sched_1"}).Outcome(nil))
	if !strings.Contains(buf.String(), "schedule.delete") {
		t.Errorf("default logger output = %q", buf.String())
	}
}
