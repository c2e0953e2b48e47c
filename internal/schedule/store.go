package schedule

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrInvalidCron      = errors.New("invalid cron expression")
	ErrInvalidSchedule  = errors.New("invalid schedule")
)

// Store handles schedule persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new schedule store with SQLite backend
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "schedules.db")
	// WAL and a busy timeout let the runner and the MCP handlers share the file.
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
	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		cron_expr TEXT NOT NULL,
		case_file TEXT NOT NULL,
		evaluator TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		overlap_behavior TEXT NOT NULL DEFAULT 'skip',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_run_at DATETIME,
		next_run_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_schedules_enabled ON schedules(enabled);
	CREATE INDEX IF NOT EXISTS idx_schedules_next_run ON schedules(next_run_at);

	CREATE TABLE IF NOT EXISTS schedule_executions (
		id TEXT PRIMARY KEY,
		schedule_id TEXT NOT NULL,
		run_id TEXT NOT NULL DEFAULT '',
		executed_at DATETIME NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (schedule_id) REFERENCES schedules(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_executions_schedule ON schedule_executions(schedule_id, executed_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func validate(schedule *Schedule) error {
	if _, err := ParseCadence(schedule.CronExpr); err != nil {
		return err
	}
	var problems []string
	if schedule.Name == "" {
		problems = append(problems, "name is required")
	}
	if schedule.CaseFile == "" {
		problems = append(problems, "case_file is required")
	}
	if schedule.Evaluator == "" {
		problems = append(problems, "evaluator is required")
	}
	if !IsValidOverlapBehavior(schedule.OverlapBehavior) {
		problems = append(problems, fmt.Sprintf("unknown overlap behavior %q", schedule.OverlapBehavior))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSchedule, strings.Join(problems, "; "))
	}
	return nil
}

// Create validates and inserts a schedule, assigning its ID and next run.
func (s *Store) Create(schedule *Schedule) error {
	if schedule.OverlapBehavior == "" {
		schedule.OverlapBehavior = OverlapSkip
	}
	if err := validate(schedule); err != nil {
		return err
	}

	if schedule.ID == "" {
		schedule.ID = "sched_" + uuid.New().String()[:8]
	}
	now := time.Now()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now

	if schedule.NextRunAt == nil && schedule.Enabled {
		if nextRun, err := nextFiring(schedule.CronExpr, now); err == nil {
			schedule.NextRunAt = &nextRun
		}
	}

	_, err := s.db.Exec(`
		INSERT INTO schedules (id, name, cron_expr, case_file, evaluator, enabled, overlap_behavior,
		                       created_at, updated_at, last_run_at, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		schedule.ID, schedule.Name, schedule.CronExpr, schedule.CaseFile, schedule.Evaluator,
		schedule.Enabled, schedule.OverlapBehavior,
		schedule.CreatedAt, schedule.UpdatedAt, schedule.LastRunAt, schedule.NextRunAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert schedule: %w", err)
	}
	return nil
}

const scheduleColumns = `id, name, cron_expr, case_file, evaluator, enabled, overlap_behavior,
	created_at, updated_at, last_run_at, next_run_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row scanner) (*Schedule, error) {
	var (
		schedule             Schedule
		lastRunAt, nextRunAt sql.NullTime
		enabled              int
	)
	if err := row.Scan(
		&schedule.ID, &schedule.Name, &schedule.CronExpr, &schedule.CaseFile, &schedule.Evaluator,
		&enabled, &schedule.OverlapBehavior,
		&schedule.CreatedAt, &schedule.UpdatedAt, &lastRunAt, &nextRunAt,
	); err != nil {
		return nil, err
	}

	schedule.Enabled = enabled != 0
	if lastRunAt.Valid {
		schedule.LastRunAt = &lastRunAt.Time
	}
	if nextRunAt.Valid {
		schedule.NextRunAt = &nextRunAt.Time
	}
	return &schedule, nil
}

func (s *Store) query(query string, args ...any) ([]*Schedule, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var schedules []*Schedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, schedule)
	}
	return schedules, rows.Err()
}

// Get retrieves a schedule by ID
func (s *Store) Get(id string) (*Schedule, error) {
	schedule, err := scanSchedule(s.db.QueryRow(
		"SELECT "+scheduleColumns+" FROM schedules WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule: %w", err)
	}
	return schedule, nil
}

// List returns schedules matching the filter, newest first.
func (s *Store) List(filter *ListFilter) ([]*Schedule, error) {
	query := "SELECT " + scheduleColumns + " FROM schedules"
	var (
		args       []any
		conditions []string
	)
	if filter != nil {
		if filter.CaseFile != "" {
			conditions = append(conditions, "case_file = ?")
			args = append(args, filter.CaseFile)
		}
		if filter.Enabled != nil {
			conditions = append(conditions, "enabled = ?")
			args = append(args, *filter.Enabled)
		}
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	schedules, err := s.query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return schedules, nil
}

// Update applies partial updates to a schedule
func (s *Store) Update(id string, update *ScheduleUpdate) error {
	if update.CronExpr != nil {
		if _, err := ParseCadence(*update.CronExpr); err != nil {
			return err
		}
	}
	if update.OverlapBehavior != nil && !IsValidOverlapBehavior(*update.OverlapBehavior) {
		return fmt.Errorf("%w: unknown overlap behavior %q", ErrInvalidSchedule, *update.OverlapBehavior)
	}

	var (
		setClauses []string
		args       []any
	)
	set := func(column string, value any) {
		setClauses = append(setClauses, column+" = ?")
		args = append(args, value)
	}

	if update.Name != nil {
		set("name", *update.Name)
	}
	if update.CronExpr != nil {
		set("cron_expr", *update.CronExpr)
		if nextRun, err := nextFiring(*update.CronExpr, time.Now()); err == nil {
			set("next_run_at", nextRun)
		}
	}
	if update.CaseFile != nil {
		set("case_file", *update.CaseFile)
	}
	if update.Evaluator != nil {
		set("evaluator", *update.Evaluator)
	}
	if update.Enabled != nil {
		set("enabled", *update.Enabled)
	}
	if update.OverlapBehavior != nil {
		set("overlap_behavior", *update.OverlapBehavior)
	}
	if len(setClauses) == 0 {
		_, err := s.Get(id)
		return err
	}

	set("updated_at", time.Now())
	args = append(args, id)

	result, err := s.db.Exec("UPDATE schedules SET "+strings.Join(setClauses, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// Delete removes a schedule and its execution history.
func (s *Store) Delete(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.Exec("DELETE FROM schedules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrScheduleNotFound
	}
	// SQLite leaves foreign keys off unless asked; drop history explicitly.
	if _, err := tx.Exec("DELETE FROM schedule_executions WHERE schedule_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete executions: %w", err)
	}
	return tx.Commit()
}

// ListDue returns enabled schedules where next_run_at <= now
func (s *Store) ListDue(now time.Time) ([]*Schedule, error) {
	schedules, err := s.query(`
		SELECT `+scheduleColumns+` FROM schedules
		WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due schedules: %w", err)
	}
	return schedules, nil
}

// UpdateRunTimes updates last_run_at and next_run_at for a schedule
func (s *Store) UpdateRunTimes(id string, lastRun, nextRun time.Time) error {
	result, err := s.db.Exec(`
		UPDATE schedules SET last_run_at = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?`,
		lastRun, nextRun, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update run times: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// RecordExecution appends an execution to a schedule's history.
func (s *Store) RecordExecution(exec *Execution) error {
	if exec.ID == "" {
		exec.ID = "exec_" + uuid.New().String()[:8]
	}
	if exec.ExecutedAt.IsZero() {
		exec.ExecutedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO schedule_executions (id, schedule_id, run_id, executed_at, status, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.ScheduleID, exec.RunID, exec.ExecutedAt, exec.Status, exec.Error, exec.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	return nil
}

// PruneExecutions deletes execution history recorded before cutoff.
func (s *Store) PruneExecutions(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM schedule_executions WHERE executed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune executions: %w", err)
	}
	return result.RowsAffected()
}

// ListExecutions returns a schedule's executions, newest first. limit <= 0
// returns all of them.
func (s *Store) ListExecutions(scheduleID string, limit int) ([]*Execution, error) {
	query := `
		SELECT id, schedule_id, run_id, executed_at, status, error, duration_ms
		FROM schedule_executions WHERE schedule_id = ?
		ORDER BY executed_at DESC`
	args := []any{scheduleID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var executions []*Execution
	for rows.Next() {
		var exec Execution
		if err := rows.Scan(&exec.ID, &exec.ScheduleID, &exec.RunID, &exec.ExecutedAt,
			&exec.Status, &exec.Error, &exec.DurationMs); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, &exec)
	}
	return executions, rows.Err()
}
