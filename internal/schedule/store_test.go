package schedule

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newSchedule(name string) *Schedule {
	return &Schedule{
		Name:      name,
		CronExpr:  "0 * * * *",
		CaseFile:  "cases/flood.yaml",
		Evaluator: "flood",
		Enabled:   true,
	}
}

func mustCreate(t *testing.T, store *Store, sched *Schedule) *Schedule {
	t.Helper()
	if err := store.Create(sched); err != nil {
		t.Fatalf("Create(%s) error = %v", sched.Name, err)
	}
	return sched
}

func TestStore_Create(t *testing.T) {
	store := setupTestStore(t)

	sched := mustCreate(t, store, newSchedule("hourly-flood"))

	if sched.ID == "" {
		t.Error("Create() should set ID")
	}
	if sched.CreatedAt.IsZero() {
		t.Error("Create() should set CreatedAt")
	}
	if sched.NextRunAt == nil {
		t.Error("Create() should calculate NextRunAt for enabled schedule")
	}
	if sched.OverlapBehavior != OverlapSkip {
		t.Errorf("OverlapBehavior = %q, want %q", sched.OverlapBehavior, OverlapSkip)
	}
}

func TestStore_CreateDisabledHasNoNextRun(t *testing.T) {
	store := setupTestStore(t)

	sched := newSchedule("paused")
	sched.Enabled = false
	mustCreate(t, store, sched)

	if sched.NextRunAt != nil {
		t.Errorf("NextRunAt = %v, want nil for disabled schedule", sched.NextRunAt)
	}
}

func TestStore_CreateInvalid(t *testing.T) {
	store := setupTestStore(t)

	tests := []struct {
		name    string
		mutate  func(*Schedule)
		wantErr error
	}{
		{"bad cron", func(s *Schedule) { s.CronExpr = "invalid cron" }, ErrInvalidCron},
		{"no name", func(s *Schedule) { s.Name = "" }, ErrInvalidSchedule},
		{"no case file", func(s *Schedule) { s.CaseFile = "" }, ErrInvalidSchedule},
		{"no evaluator", func(s *Schedule) { s.Evaluator = "" }, ErrInvalidSchedule},
		{"bad overlap", func(s *Schedule) { s.OverlapBehavior = "sometimes" }, ErrInvalidSchedule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched := newSchedule("x")
			tt.mutate(sched)
			if err := store.Create(sched); !errors.Is(err, tt.wantErr) {
				t.Errorf("Create() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStore_Get(t *testing.T) {
	store := setupTestStore(t)

	sched := newSchedule("nightly")
	sched.OverlapBehavior = OverlapQueue
	mustCreate(t, store, sched)

	got, err := store.Get(sched.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "nightly" || got.CaseFile != "cases/flood.yaml" || got.Evaluator != "flood" {
		t.Errorf("Get() = %+v, fields do not match", got)
	}
	if !got.Enabled {
		t.Error("Enabled = false, want true")
	}
	if got.OverlapBehavior != OverlapQueue {
		t.Errorf("OverlapBehavior = %q, want %q", got.OverlapBehavior, OverlapQueue)
	}
	if got.NextRunAt == nil {
		t.Error("NextRunAt should be stored")
	}
}

func TestStore_GetNotFound(t *testing.T) {
	store := setupTestStore(t)

	if _, err := store.Get("nonexistent"); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("Get() error = %v, want ErrScheduleNotFound", err)
	}
}

func TestStore_List(t *testing.T) {
	store := setupTestStore(t)

	mustCreate(t, store, newSchedule("a"))
	b := newSchedule("b")
	b.CaseFile = "cases/linear.jsonc"
	mustCreate(t, store, b)
	c := newSchedule("c")
	c.Enabled = false
	mustCreate(t, store, c)

	all, err := store.List(nil)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("List(nil) returned %d, want 3", len(all))
	}

	byCase, err := store.List(&ListFilter{CaseFile: "cases/linear.jsonc"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(byCase) != 1 || byCase[0].Name != "b" {
		t.Errorf("List(case) = %v, want only b", byCase)
	}

	enabled := false
	disabled, err := store.List(&ListFilter{Enabled: &enabled})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(disabled) != 1 || disabled[0].Name != "c" {
		t.Errorf("List(disabled) = %v, want only c", disabled)
	}
}

func TestStore_Update(t *testing.T) {
	store := setupTestStore(t)

	sched := mustCreate(t, store, newSchedule("original"))

	newName := "renamed"
	newCron := "0 0 * * *"
	newEvaluator := "identity"
	enabled := false
	overlap := OverlapParallel
	err := store.Update(sched.ID, &ScheduleUpdate{
		Name:            &newName,
		CronExpr:        &newCron,
		Evaluator:       &newEvaluator,
		Enabled:         &enabled,
		OverlapBehavior: &overlap,
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := store.Get(sched.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != newName || got.CronExpr != newCron || got.Evaluator != newEvaluator {
		t.Errorf("Get() after Update = %+v", got)
	}
	if got.Enabled {
		t.Error("Enabled should be false")
	}
	if got.OverlapBehavior != OverlapParallel {
		t.Errorf("OverlapBehavior = %q, want parallel", got.OverlapBehavior)
	}
	if got.NextRunAt == nil || got.NextRunAt.Hour() != 0 || got.NextRunAt.Minute() != 0 {
		t.Errorf("NextRunAt = %v, want recalculated to midnight", got.NextRunAt)
	}
}

func TestStore_UpdateErrors(t *testing.T) {
	store := setupTestStore(t)
	sched := mustCreate(t, store, newSchedule("x"))

	bad := "not a cron"
	if err := store.Update(sched.ID, &ScheduleUpdate{CronExpr: &bad}); !errors.Is(err, ErrInvalidCron) {
		t.Errorf("Update(bad cron) error = %v, want ErrInvalidCron", err)
	}
	overlap := OverlapBehavior("never")
	if err := store.Update(sched.ID, &ScheduleUpdate{OverlapBehavior: &overlap}); !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("Update(bad overlap) error = %v, want ErrInvalidSchedule", err)
	}
	name := "y"
	if err := store.Update("missing", &ScheduleUpdate{Name: &name}); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrScheduleNotFound", err)
	}
	if err := store.Update("missing", &ScheduleUpdate{}); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("empty Update(missing) error = %v, want ErrScheduleNotFound", err)
	}
}

func TestStore_Delete(t *testing.T) {
	store := setupTestStore(t)

	sched := mustCreate(t, store, newSchedule("doomed"))
	if err := store.RecordExecution(&Execution{ScheduleID: sched.ID, Status: ExecutionSuccess}); err != nil {
		t.Fatalf("RecordExecution() error = %v", err)
	}

	if err := store.Delete(sched.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(sched.ID); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrScheduleNotFound", err)
	}
	execs, err := store.ListExecutions(sched.ID, 0)
	if err != nil {
		t.Fatalf("ListExecutions() error = %v", err)
	}
	if len(execs) != 0 {
		t.Errorf("ListExecutions() after Delete returned %d, want 0", len(execs))
	}
	if err := store.Delete(sched.ID); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("second Delete() error = %v, want ErrScheduleNotFound", err)
	}
}

func TestStore_ListDue(t *testing.T) {
	store := setupTestStore(t)

	now := time.Now()
	past := now.Add(-1 * time.Hour)
	future := now.Add(1 * time.Hour)

	due := mustCreate(t, store, newSchedule("due"))
	_, _ = store.db.Exec("UPDATE schedules SET next_run_at = ? WHERE id = ?", past, due.ID)

	disabled := newSchedule("disabled")
	disabled.Enabled = false
	mustCreate(t, store, disabled)
	_, _ = store.db.Exec("UPDATE schedules SET next_run_at = ? WHERE id = ?", past, disabled.ID)

	later := mustCreate(t, store, newSchedule("future"))
	_, _ = store.db.Exec("UPDATE schedules SET next_run_at = ? WHERE id = ?", future, later.ID)

	got, err := store.ListDue(now)
	if err != nil {
		t.Fatalf("ListDue() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ListDue() returned %d, want 1", len(got))
	}
	if got[0].ID != due.ID {
		t.Errorf("ListDue() returned %s, want %s", got[0].ID, due.ID)
	}
}

func TestStore_UpdateRunTimes(t *testing.T) {
	store := setupTestStore(t)
	sched := mustCreate(t, store, newSchedule("x"))

	lastRun := time.Now()
	nextRun := lastRun.Add(24 * time.Hour)
	if err := store.UpdateRunTimes(sched.ID, lastRun, nextRun); err != nil {
		t.Fatalf("UpdateRunTimes() error = %v", err)
	}

	got, _ := store.Get(sched.ID)
	if got.LastRunAt == nil {
		t.Error("LastRunAt should be set")
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(lastRun) {
		t.Errorf("NextRunAt = %v, want after %v", got.NextRunAt, lastRun)
	}

	if err := store.UpdateRunTimes("missing", lastRun, nextRun); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("UpdateRunTimes(missing) error = %v, want ErrScheduleNotFound", err)
	}
}

func TestStore_Executions(t *testing.T) {
	store := setupTestStore(t)
	sched := mustCreate(t, store, newSchedule("x"))

	base := time.Now().Add(-time.Hour)
	statuses := []ExecutionStatus{ExecutionSuccess, ExecutionFailed, ExecutionSkipped}
	for i, status := range statuses {
		exec := &Execution{
			ScheduleID: sched.ID,
			RunID:      "run-" + string(status),
			ExecutedAt: base.Add(time.Duration(i) * time.Minute),
			Status:     status,
		}
		if err := store.RecordExecution(exec); err != nil {
			t.Fatalf("RecordExecution() error = %v", err)
		}
		if exec.ID == "" {
			t.Error("RecordExecution() should set ID")
		}
	}

	all, err := store.ListExecutions(sched.ID, 0)
	if err != nil {
		t.Fatalf("ListExecutions() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListExecutions() returned %d, want 3", len(all))
	}
	if all[0].Status != ExecutionSkipped || all[2].Status != ExecutionSuccess {
		t.Errorf("ListExecutions() order = %s..%s, want newest first", all[0].Status, all[2].Status)
	}

	limited, err := store.ListExecutions(sched.ID, 2)
	if err != nil {
		t.Fatalf("ListExecutions() error = %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("ListExecutions(limit 2) returned %d", len(limited))
	}
}

func TestStore_PruneExecutions(t *testing.T) {
	store := setupTestStore(t)
	sched := mustCreate(t, store, newSchedule("pruned"))

	now := time.Now()
	for _, age := range []time.Duration{72 * time.Hour, 48 * time.Hour, time.Hour} {
		exec := &Execution{ScheduleID: sched.ID, Status: ExecutionSuccess, ExecutedAt: now.Add(-age)}
		if err := store.RecordExecution(exec); err != nil {
			t.Fatalf("RecordExecution() error = %v", err)
		}
	}

	n, err := store.PruneExecutions(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("PruneExecutions() error = %v", err)
	}
	if n != 2 {
		t.Errorf("PruneExecutions() removed %d, want 2", n)
	}
	left, _ := store.ListExecutions(sched.ID, 0)
	if len(left) != 1 {
		t.Errorf("%d executions left, want 1", len(left))
	}
}

func TestStore_DatabaseFile(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	_ = store.Close()

	dbPath := filepath.Join(dir, "schedules.db")
	if _, err := os.Stat(dbPath); errors.Is(err, fs.ErrNotExist) {
		t.Error("Database file should be created")
	}
}
