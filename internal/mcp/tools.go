package mcp

// registerAllTools registers all MCP tools with the registry
func (s *Server) registerAllTools(r *Registry) {
	s.registerCaseTools(r)
	s.registerRunTools(r)
	s.registerScheduleTools(r)
}

func (s *Server) registerCaseTools(r *Registry) {
	Register(r, ToolDef{
		Name: "case",
		Description: `Inspect assimilation cases before running them.

Actions:
  validate — Check a case and report its algorithm and dimensions.
  render   — Render the case as an ADAO builder script.
  schema   — Return the JSON schema case documents follow.

Pass either case_file (a .json, .jsonc, .yaml or .yml path relative to the cases
directory) or case (an inline case document).`,
	}, s.handleCase)
}

func (s *Server) registerRunTools(r *Registry) {
	Register(r, ToolDef{
		Name: "run",
		Description: `Start and control assimilation runs.

Actions:
  start   — Start a run from case_file or case. evaluator names a configured evaluator;
            "remote" makes you the controller of the run.
  next    — Remote runs: wait up to wait_seconds for the worker's next batch of inputs.
  respond — Remote runs: answer the batch returned by next with outputs (one vector per input).
  result  — Get the final analysis. wait_seconds blocks until the run finishes.
  abort   — Abort a running run. Optional reason.
  get     — Get the status of a run.
  list    — List active runs and recent finished ones. Filter by status, cap with limit.
  events  — Poll the run's event trace after since_index (-1 for everything).

Events are also pushed as log notifications to the session that started the run.`,
	}, s.handleRun)
}

func (s *Server) registerScheduleTools(r *Registry) {
	Register(r, ToolDef{
		Name: "schedule",
		Description: `Manage scheduled runs — a case file run on a cron cadence.

Actions:
  create   — Create a schedule. Requires name, cron_expr and case_file. Optional evaluator.
  list     — List schedules. Optionally filter by case_file or enabled.
  get      — Get schedule details and its next run times by schedule_id.
  update   — Update a schedule. Pass only fields to change.
  delete   — Delete a schedule by schedule_id.
  trigger  — Run a schedule now, ignoring cron timing. Waits for the run to finish.
  history  — View execution history for a schedule. Optionally limit results.

overlap_behavior decides what happens when a schedule comes due while its previous run
is still going: "skip" (default), "queue" or "parallel".`,
	}, s.handleSchedule)
}
