package schedule

import (
	"time"
)

// OverlapBehavior defines what happens when a schedule comes due while its
// previous run is still going.
type OverlapBehavior string

const (
	OverlapSkip     OverlapBehavior = "skip"     // record a skipped execution
	OverlapQueue    OverlapBehavior = "queue"    // run once more after the current run
	OverlapParallel OverlapBehavior = "parallel" // start another run regardless
)

// Schedule runs a case file with an evaluator on a cron schedule.
type Schedule struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	CronExpr        string          `json:"cron_expr"`
	CaseFile        string          `json:"case_file"`
	Evaluator       string          `json:"evaluator"`
	Enabled         bool            `json:"enabled"`
	OverlapBehavior OverlapBehavior `json:"overlap_behavior"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	LastRunAt       *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt       *time.Time      `json:"next_run_at,omitempty"`
}

type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
	ExecutionSkipped ExecutionStatus = "skipped"
)

// Execution is one firing of a schedule.
type Execution struct {
	ID         string          `json:"id"`
	ScheduleID string          `json:"schedule_id"`
	RunID      string          `json:"run_id,omitempty"`
	ExecutedAt time.Time       `json:"executed_at"`
	Status     ExecutionStatus `json:"status"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms,omitempty"`
}

// ScheduleUpdate contains optional fields for updating a schedule
type ScheduleUpdate struct {
	Name            *string          `json:"name,omitempty"`
	CronExpr        *string          `json:"cron_expr,omitempty"`
	CaseFile        *string          `json:"case_file,omitempty"`
	Evaluator       *string          `json:"evaluator,omitempty"`
	Enabled         *bool            `json:"enabled,omitempty"`
	OverlapBehavior *OverlapBehavior `json:"overlap_behavior,omitempty"`
}

// ListFilter contains optional filters for listing schedules
type ListFilter struct {
	CaseFile string
	Enabled  *bool
}

func IsValidOverlapBehavior(b OverlapBehavior) bool {
	return b == OverlapSkip || b == OverlapQueue || b == OverlapParallel
}
