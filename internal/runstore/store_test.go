package runstore

import (
	"errors"
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

func finishedRecord(id string, finished time.Time) *Record {
	return &Record{
		ID:         id,
		CaseName:   "flood",
		Algorithm:  "3DVAR",
		Evaluator:  "flood",
		Status:     "completed",
		Callouts:   4,
		Analysis:   []float64{25.0001},
		StartedAt:  finished.Add(-time.Second),
		FinishedAt: &finished,
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	store := setupTestStore(t)

	rec := finishedRecord("run-1", time.Now())
	if err := store.Save(rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Get("run-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.CaseName != "flood" || got.Algorithm != "3DVAR" || got.Status != "completed" {
		t.Errorf("Get() = %+v, fields do not match saved record", got)
	}
	if got.Callouts != 4 {
		t.Errorf("Callouts = %d, want 4", got.Callouts)
	}
	if len(got.Analysis) != 1 || got.Analysis[0] != 25.0001 {
		t.Errorf("Analysis = %v, want [25.0001]", got.Analysis)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt should be set")
	}
}

func TestStore_SaveUpdates(t *testing.T) {
	store := setupTestStore(t)

	rec := &Record{ID: "run-1", CaseName: "linear", Algorithm: "Blue", Evaluator: "remote", Status: "running"}
	if err := store.Save(rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := store.Get("run-1"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	now := time.Now()
	rec.Status = "failed"
	rec.Error = "evaluation failed"
	rec.FinishedAt = &now
	if err := store.Save(rec); err != nil {
		t.Fatalf("Save() update error = %v", err)
	}

	got, err := store.Get("run-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != "failed" || got.Error != "evaluation failed" {
		t.Errorf("Get() = %+v, want updated status and error", got)
	}
	if got.Analysis != nil {
		t.Errorf("Analysis = %v, want nil", got.Analysis)
	}
}

func TestStore_SaveWithoutID(t *testing.T) {
	store := setupTestStore(t)
	if err := store.Save(&Record{}); err == nil {
		t.Error("Save() without ID should fail")
	}
}

func TestStore_GetNotFound(t *testing.T) {
	store := setupTestStore(t)
	if _, err := store.Get("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Get() error = %v, want ErrRunNotFound", err)
	}
}

func TestStore_List(t *testing.T) {
	store := setupTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		rec := finishedRecord(id, base.Add(time.Duration(i)*time.Minute))
		if id == "b" {
			rec.Status = "failed"
			rec.ScheduleID = "sched_1"
		}
		if err := store.Save(rec); err != nil {
			t.Fatalf("Save(%s) error = %v", id, err)
		}
	}

	tests := []struct {
		name   string
		filter *ListFilter
		want   []string
	}{
		{"all newest first", nil, []string{"c", "b", "a"}},
		{"by status", &ListFilter{Status: "completed"}, []string{"c", "a"}},
		{"by schedule", &ListFilter{ScheduleID: "sched_1"}, []string{"b"}},
		{"by case", &ListFilter{CaseName: "linear"}, nil},
		{"limit", &ListFilter{Limit: 1}, []string{"c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.List(tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("List() returned %d records, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("List()[%d].ID = %q, want %q", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestStore_Delete(t *testing.T) {
	store := setupTestStore(t)

	if err := store.Save(finishedRecord("run-1", time.Now())); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Delete("run-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete("run-1"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("second Delete() error = %v, want ErrRunNotFound", err)
	}
}

func TestStore_DeleteOlderThan(t *testing.T) {
	store := setupTestStore(t)

	now := time.Now()
	old := finishedRecord("old", now.Add(-48*time.Hour))
	recent := finishedRecord("recent", now.Add(-time.Hour))
	running := &Record{ID: "running", CaseName: "x", Algorithm: "Blue", Evaluator: "remote",
		Status: "running", StartedAt: now.Add(-72 * time.Hour)}
	for _, r := range []*Record{old, recent, running} {
		if err := store.Save(r); err != nil {
			t.Fatalf("Save(%s) error = %v", r.ID, err)
		}
	}

	n, err := store.DeleteOlderThan(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteOlderThan() removed %d, want 1", n)
	}
	if _, err := store.Get("old"); !errors.Is(err, ErrRunNotFound) {
		t.Error("old run should be pruned")
	}
	for _, id := range []string{"recent", "running"} {
		if _, err := store.Get(id); err != nil {
			t.Errorf("Get(%s) error = %v, want kept", id, err)
		}
	}
}
