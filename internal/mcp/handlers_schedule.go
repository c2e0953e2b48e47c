package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/assimilate/internal/audit"
	"github.com/HyphaGroup/assimilate/internal/runstore"
	"github.com/HyphaGroup/assimilate/internal/schedule"
	"github.com/HyphaGroup/assimilate/internal/validation"
)

const upcomingRuns = 5

// ScheduleParams is the unified params struct for the schedule tool
type ScheduleParams struct {
	Action string `json:"action" jsonschema:"create, list, get, update, delete, trigger or history"`

	// For create/update
	Name            string                    `json:"name,omitempty"`
	CronExpr        string                    `json:"cron_expr,omitempty" jsonschema:"cron expression, five fields or a descriptor such as @hourly"`
	CaseFile        string                    `json:"case_file,omitempty" jsonschema:"case file relative to the cases directory"`
	Evaluator       string                    `json:"evaluator,omitempty"`
	Enabled         *bool                     `json:"enabled,omitempty"`
	OverlapBehavior *schedule.OverlapBehavior `json:"overlap_behavior,omitempty" jsonschema:"skip, queue or parallel"`

	// For get, update, delete, trigger, history
	ScheduleID string `json:"schedule_id,omitempty"`

	// For history
	Limit int `json:"limit,omitempty"`
}

// ScheduleView is a schedule with its next firings.
type ScheduleView struct {
	*schedule.Schedule
	Upcoming []time.Time `json:"upcoming,omitempty"`
	Running  int         `json:"running"`
}

// TriggerResult is the answer to schedule/trigger.
type TriggerResult struct {
	ScheduleID string           `json:"schedule_id"`
	RunID      string           `json:"run_id,omitempty"`
	Error      string           `json:"error,omitempty"`
	Record     *runstore.Record `json:"record,omitempty"`
}

var scheduleActions = actionList{"schedule", []string{"create", "list", "get", "update", "delete", "trigger", "history"}}

// handleSchedule is the unified handler for the schedule tool
func (s *Server) handleSchedule(ctx context.Context, request *mcp.CallToolRequest, params *ScheduleParams) (*mcp.CallToolResult, any, error) {
	if params.Action == "" {
		return nil, nil, scheduleActions.missing()
	}
	if s.scheduleStore == nil {
		return nil, nil, fmt.Errorf("schedules are not enabled on this server")
	}

	switch params.Action {
	case "create":
		return s.scheduleCreate(ctx, params)
	case "list":
		return s.scheduleList(params)
	case "get":
		return s.scheduleGet(params)
	case "update":
		return s.scheduleUpdate(ctx, params)
	case "delete":
		return s.scheduleDelete(ctx, params)
	case "trigger":
		return s.scheduleTrigger(ctx, params)
	case "history":
		return s.scheduleHistory(params)
	default:
		return nil, nil, scheduleActions.unknown(params.Action)
	}
}

// checkScheduleTarget makes sure a schedule can actually run: the case file
// loads and the evaluator is configured. Remote runs need a client and cannot
// be scheduled.
func (s *Server) checkScheduleTarget(caseFile, evaluatorName string) error {
	if evaluatorName == RemoteEvaluator {
		return fmt.Errorf("evaluator %q cannot be scheduled", RemoteEvaluator)
	}
	if !s.evaluators.Has(evaluatorName) {
		return fmt.Errorf("unknown evaluator %q; configured: %s", evaluatorName, strings.Join(s.evaluators.Names(), ", "))
	}
	if _, err := s.loadCase(caseFile, nil); err != nil {
		return err
	}
	return nil
}

func (s *Server) scheduleCreate(ctx context.Context, params *ScheduleParams) (*mcp.CallToolResult, any, error) {
	if params.Name == "" {
		return nil, nil, requiredError("name", "create")
	}
	if params.CronExpr == "" {
		return nil, nil, requiredError("cron_expr", "create")
	}
	if params.CaseFile == "" {
		return nil, nil, requiredError("case_file", "create")
	}

	sched := &schedule.Schedule{
		Name:            params.Name,
		CronExpr:        params.CronExpr,
		CaseFile:        params.CaseFile,
		Evaluator:       params.Evaluator,
		Enabled:         true,
		OverlapBehavior: schedule.OverlapSkip,
	}
	if sched.Evaluator == "" {
		sched.Evaluator = s.cfg.Defaults.Session.Evaluator
	}
	if params.Enabled != nil {
		sched.Enabled = *params.Enabled
	}
	if params.OverlapBehavior != nil {
		if !schedule.IsValidOverlapBehavior(*params.OverlapBehavior) {
			return nil, nil, fmt.Errorf("invalid overlap_behavior: %s", *params.OverlapBehavior)
		}
		sched.OverlapBehavior = *params.OverlapBehavior
	}

	if err := s.checkScheduleTarget(sched.CaseFile, sched.Evaluator); err != nil {
		return nil, nil, SanitizeError(err, "schedule create")
	}
	if err := s.scheduleStore.Create(sched); err != nil {
		s.auditSchedule(ctx, audit.OpScheduleCreate, "", err)
		return nil, nil, fmt.Errorf("failed to create schedule: %w", err)
	}
	s.auditSchedule(ctx, audit.OpScheduleCreate, sched.ID, nil)

	result := "Schedule created\n\n"
	result += fmt.Sprintf("ID:        %s\n", sched.ID)
	result += fmt.Sprintf("Name:      %s\n", sched.Name)
	result += fmt.Sprintf("Cron:      %s\n", sched.CronExpr)
	result += fmt.Sprintf("Case:      %s\n", sched.CaseFile)
	result += fmt.Sprintf("Evaluator: %s\n", sched.Evaluator)
	result += fmt.Sprintf("Enabled:   %v\n", sched.Enabled)
	if sched.NextRunAt != nil {
		result += fmt.Sprintf("Next Run:  %s\n", sched.NextRunAt.Format("2006-01-02 15:04:05"))
	}
	return textResult(result), sched, nil
}

func (s *Server) scheduleList(params *ScheduleParams) (*mcp.CallToolResult, any, error) {
	schedules, err := s.scheduleStore.List(&schedule.ListFilter{
		CaseFile: params.CaseFile,
		Enabled:  params.Enabled,
	})
	if err != nil {
		return nil, nil, SanitizeError(err, "schedule list")
	}
	if schedules == nil {
		schedules = []*schedule.Schedule{}
	}
	return nil, schedules, nil
}

func (s *Server) scheduleGet(params *ScheduleParams) (*mcp.CallToolResult, any, error) {
	sched, err := s.getSchedule(params.ScheduleID, "get")
	if err != nil {
		return nil, nil, err
	}

	view := &ScheduleView{Schedule: sched}
	if cadence, err := schedule.ParseCadence(sched.CronExpr); err == nil && sched.Enabled {
		view.Upcoming = cadence.Upcoming(time.Now(), upcomingRuns)
	}
	if s.scheduleRunner != nil {
		view.Running = s.scheduleRunner.IsRunning(sched.ID)
	}
	return nil, view, nil
}

func (s *Server) scheduleUpdate(ctx context.Context, params *ScheduleParams) (*mcp.CallToolResult, any, error) {
	current, err := s.getSchedule(params.ScheduleID, "update")
	if err != nil {
		return nil, nil, err
	}

	update := &schedule.ScheduleUpdate{
		Enabled:         params.Enabled,
		OverlapBehavior: params.OverlapBehavior,
	}
	if params.Name != "" {
		update.Name = &params.Name
	}
	if params.CronExpr != "" {
		update.CronExpr = &params.CronExpr
	}
	if params.CaseFile != "" {
		update.CaseFile = &params.CaseFile
	}
	if params.Evaluator != "" {
		update.Evaluator = &params.Evaluator
	}
	if update.OverlapBehavior != nil && !schedule.IsValidOverlapBehavior(*update.OverlapBehavior) {
		return nil, nil, fmt.Errorf("invalid overlap_behavior: %s", *update.OverlapBehavior)
	}

	if update.CaseFile != nil || update.Evaluator != nil {
		caseFile, evaluatorName := current.CaseFile, current.Evaluator
		if update.CaseFile != nil {
			caseFile = *update.CaseFile
		}
		if update.Evaluator != nil {
			evaluatorName = *update.Evaluator
		}
		if err := s.checkScheduleTarget(caseFile, evaluatorName); err != nil {
			return nil, nil, SanitizeError(err, "schedule update")
		}
	}

	if err := s.scheduleStore.Update(current.ID, update); err != nil {
		s.auditSchedule(ctx, audit.OpScheduleUpdate, current.ID, err)
		return nil, nil, fmt.Errorf("failed to update schedule: %w", err)
	}
	s.auditSchedule(ctx, audit.OpScheduleUpdate, current.ID, nil)

	updated, err := s.scheduleStore.Get(current.ID)
	if err != nil {
		return nil, nil, SanitizeError(err, "schedule update")
	}
	return nil, updated, nil
}

func (s *Server) scheduleDelete(ctx context.Context, params *ScheduleParams) (*mcp.CallToolResult, any, error) {
	if params.ScheduleID == "" {
		return nil, nil, requiredError("schedule_id", "delete")
	}
	if err := validation.ValidateScheduleID(params.ScheduleID); err != nil {
		return nil, nil, err
	}

	err := s.scheduleStore.Delete(params.ScheduleID)
	s.auditSchedule(ctx, audit.OpScheduleDelete, params.ScheduleID, err)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to delete schedule: %w", err)
	}
	return textResult(fmt.Sprintf("Schedule %s deleted", params.ScheduleID)), nil, nil
}

func (s *Server) scheduleTrigger(ctx context.Context, params *ScheduleParams) (*mcp.CallToolResult, any, error) {
	sched, err := s.getSchedule(params.ScheduleID, "trigger")
	if err != nil {
		return nil, nil, err
	}
	if s.scheduleRunner == nil {
		return nil, nil, fmt.Errorf("schedule runner is not available")
	}

	runID, runErr := s.scheduleRunner.TriggerNow(sched)
	s.auditSchedule(ctx, audit.OpScheduleRun, sched.ID, runErr)

	result := &TriggerResult{ScheduleID: sched.ID, RunID: runID}
	if runErr != nil {
		result.Error = runErr.Error()
	}
	if runID != "" {
		if rec, err := s.runStore.Get(runID); err == nil {
			result.Record = rec
		}
	}
	return nil, result, nil
}

func (s *Server) scheduleHistory(params *ScheduleParams) (*mcp.CallToolResult, any, error) {
	sched, err := s.getSchedule(params.ScheduleID, "history")
	if err != nil {
		return nil, nil, err
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}
	executions, err := s.scheduleStore.ListExecutions(sched.ID, limit)
	if err != nil {
		return nil, nil, SanitizeError(err, "schedule history")
	}
	if executions == nil {
		executions = []*schedule.Execution{}
	}
	return nil, executions, nil
}

func (s *Server) getSchedule(id, action string) (*schedule.Schedule, error) {
	if id == "" {
		return nil, requiredError("schedule_id", action)
	}
	if err := validation.ValidateScheduleID(id); err != nil {
		return nil, err
	}
	return s.scheduleStore.Get(id)
}

func (s *Server) auditSchedule(ctx context.Context, op audit.Operation, scheduleID string, err error) {
	audit.Log((&audit.Event{
		Operation:  op,
		ScheduleID: scheduleID,
		ClientID:   GetClientID(ctx),
	}).Outcome(err))
}
