package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/HyphaGroup/assimilate/internal/logger"
	"github.com/HyphaGroup/assimilate/internal/metrics"
)

// ExecutionFunc runs the schedule's case to completion and returns the run ID
// it created.
type ExecutionFunc func(ctx context.Context, schedule *Schedule) (string, error)

// Runner fires due schedules.
type Runner struct {
	store       *Store
	executeFunc ExecutionFunc
	interval    time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	// running counts in-flight executions per schedule ID; queued marks
	// schedules that came due while running under OverlapQueue.
	running   map[string]int
	queued    map[string]bool
	runningMu sync.Mutex
}

// NewRunner creates a new schedule runner
func NewRunner(store *Store, executeFunc ExecutionFunc) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:       store,
		executeFunc: executeFunc,
		interval:    time.Minute,
		ctx:         ctx,
		cancel:      cancel,
		running:     make(map[string]int),
		queued:      make(map[string]bool),
	}
}

// Start begins the scheduler loop
func (r *Runner) Start() {
	r.wg.Add(1)
	go r.loop()
	logger.Info("Schedule runner started")
}

// Stop cancels in-flight runs and waits for them to return.
func (r *Runner) Stop() {
	logger.Info("Stopping schedule runner...")
	r.cancel()
	r.wg.Wait()
	logger.Info("Schedule runner stopped")
}

func (r *Runner) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.checkDueSchedules(time.Now())

	for {
		select {
		case <-r.ctx.Done():
			return
		case now := <-ticker.C:
			r.checkDueSchedules(now)
		}
	}
}

func (r *Runner) checkDueSchedules(now time.Time) {
	schedules, err := r.store.ListDue(now)
	if err != nil {
		logger.Error("Failed to list due schedules: %v", err)
		return
	}

	for _, schedule := range schedules {
		// Advance first so a slow run is not picked up again on the next tick.
		nextRun, err := nextFiring(schedule.CronExpr, now)
		if err != nil {
			logger.Error("Failed to calculate next run for schedule %s: %v", schedule.ID, err)
			continue
		}
		if err := r.store.UpdateRunTimes(schedule.ID, now, nextRun); err != nil {
			logger.Error("Failed to update run times for schedule %s: %v", schedule.ID, err)
			continue
		}
		r.executeSchedule(schedule)
	}
}

// executeSchedule starts a run of schedule unless its overlap behavior says
// otherwise.
func (r *Runner) executeSchedule(schedule *Schedule) {
	r.runningMu.Lock()
	if r.running[schedule.ID] > 0 {
		switch schedule.OverlapBehavior {
		case OverlapParallel:
		case OverlapQueue:
			r.queued[schedule.ID] = true
			r.runningMu.Unlock()
			logger.Info("Queueing schedule %s (%s): previous execution still running", schedule.ID, schedule.Name)
			return
		default:
			r.runningMu.Unlock()
			logger.Info("Skipping schedule %s (%s): previous execution still running", schedule.ID, schedule.Name)
			r.record(&Execution{
				ScheduleID: schedule.ID,
				Status:     ExecutionSkipped,
				Error:      "previous execution still running",
			})
			return
		}
	}
	r.running[schedule.ID]++
	r.runningMu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			_, _ = r.runSchedule(schedule)

			r.runningMu.Lock()
			again := r.queued[schedule.ID] && r.ctx.Err() == nil
			delete(r.queued, schedule.ID)
			if !again {
				r.running[schedule.ID]--
				if r.running[schedule.ID] == 0 {
					delete(r.running, schedule.ID)
				}
			}
			r.runningMu.Unlock()
			if !again {
				return
			}
		}
	}()
}

func (r *Runner) runSchedule(schedule *Schedule) (string, error) {
	logger.Info("Executing schedule %s (%s): case %s with evaluator %s",
		schedule.ID, schedule.Name, schedule.CaseFile, schedule.Evaluator)

	ctx := logger.WithScheduleID(r.ctx, schedule.ID)
	start := time.Now()
	runID, err := r.executeFunc(ctx, schedule)
	exec := &Execution{
		ScheduleID: schedule.ID,
		RunID:      runID,
		ExecutedAt: start,
		Status:     ExecutionSuccess,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		exec.Status = ExecutionFailed
		exec.Error = err.Error()
		logger.ErrorContext(ctx, "scheduled run failed", "run_id", runID, "error", err.Error())
	} else {
		logger.InfoContext(ctx, "scheduled run completed", "run_id", runID, "duration_ms", exec.DurationMs)
	}
	r.record(exec)
	return runID, err
}

func (r *Runner) record(exec *Execution) {
	metrics.RecordScheduledExecution(string(exec.Status))
	if err := r.store.RecordExecution(exec); err != nil {
		logger.Error("Failed to record execution for schedule %s: %v", exec.ScheduleID, err)
	}
}

// IsRunning returns the number of running executions for a schedule
func (r *Runner) IsRunning(scheduleID string) int {
	r.runningMu.Lock()
	defer r.runningMu.Unlock()
	return r.running[scheduleID]
}

// TriggerNow runs schedule immediately and synchronously. Run times are left
// alone; only cron firings move them.
func (r *Runner) TriggerNow(schedule *Schedule) (string, error) {
	logger.Info("Manually triggering schedule %s (%s)", schedule.ID, schedule.Name)
	return r.runSchedule(schedule)
}
