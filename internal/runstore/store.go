// Package runstore persists the outcome of finished runs in SQLite so results
// outlive the in-memory session that produced them.
package runstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var ErrRunNotFound = errors.New("run not found")

// Record is the persisted view of one run.
type Record struct {
	ID         string     `json:"id"`
	CaseName   string     `json:"case_name"`
	Algorithm  string     `json:"algorithm"`
	Evaluator  string     `json:"evaluator"`
	Status     string     `json:"status"`
	Callouts   int64      `json:"callouts"`
	Analysis   []float64  `json:"analysis,omitempty"`
	Error      string     `json:"error,omitempty"`
	ScheduleID string     `json:"schedule_id,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Status     string
	CaseName   string
	ScheduleID string
	Limit      int
}

// Store handles run persistence
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) runs.db under dataDir.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "runs.db")
	db, err := sql.Open("sqlite", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		case_name TEXT NOT NULL,
		algorithm TEXT NOT NULL,
		evaluator TEXT NOT NULL,
		status TEXT NOT NULL,
		callouts INTEGER NOT NULL DEFAULT 0,
		analysis TEXT,
		error TEXT NOT NULL DEFAULT '',
		schedule_id TEXT NOT NULL DEFAULT '',
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_schedule ON runs(schedule_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts r or replaces the stored record with the same ID.
func (s *Store) Save(r *Record) error {
	if r.ID == "" {
		return errors.New("run record has no ID")
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}

	var analysis sql.NullString
	if r.Analysis != nil {
		data, err := json.Marshal(r.Analysis)
		if err != nil {
			return fmt.Errorf("failed to encode analysis: %w", err)
		}
		analysis = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO runs (id, case_name, algorithm, evaluator, status, callouts, analysis, error,
		                  schedule_id, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			case_name = excluded.case_name,
			algorithm = excluded.algorithm,
			evaluator = excluded.evaluator,
			status = excluded.status,
			callouts = excluded.callouts,
			analysis = excluded.analysis,
			error = excluded.error,
			schedule_id = excluded.schedule_id,
			finished_at = excluded.finished_at`,
		r.ID, r.CaseName, r.Algorithm, r.Evaluator, r.Status, r.Callouts, analysis, r.Error,
		r.ScheduleID, r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, case_name, algorithm, evaluator, status, callouts, analysis, error,
	       schedule_id, started_at, finished_at FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		r          Record
		analysis   sql.NullString
		finishedAt sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.CaseName, &r.Algorithm, &r.Evaluator, &r.Status, &r.Callouts,
		&analysis, &r.Error, &r.ScheduleID, &r.StartedAt, &finishedAt); err != nil {
		return nil, err
	}
	if analysis.Valid {
		if err := json.Unmarshal([]byte(analysis.String), &r.Analysis); err != nil {
			return nil, fmt.Errorf("failed to decode analysis of run %s: %w", r.ID, err)
		}
	}
	if finishedAt.Valid {
		r.FinishedAt = &finishedAt.Time
	}
	return &r, nil
}

// Get retrieves a run by ID
func (s *Store) Get(id string) (*Record, error) {
	r, err := scanRecord(s.db.QueryRow(selectColumns+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return r, nil
}

// List returns runs matching the filter, newest first.
func (s *Store) List(filter *ListFilter) ([]*Record, error) {
	query := selectColumns
	var (
		args       []any
		conditions []string
	)
	if filter != nil {
		if filter.Status != "" {
			conditions = append(conditions, "status = ?")
			args = append(args, filter.Status)
		}
		if filter.CaseName != "" {
			conditions = append(conditions, "case_name = ?")
			args = append(args, filter.CaseName)
		}
		if filter.ScheduleID != "" {
			conditions = append(conditions, "schedule_id = ?")
			args = append(args, filter.ScheduleID)
		}
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Delete removes a run record
func (s *Store) Delete(id string) error {
	result, err := s.db.Exec("DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrRunNotFound
	}
	return nil
}

// DeleteOlderThan removes finished runs that finished before cutoff and
// returns how many were removed. Unfinished runs are never pruned.
func (s *Store) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(
		"DELETE FROM runs WHERE finished_at IS NOT NULL AND finished_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
