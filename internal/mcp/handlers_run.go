package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/assimilate/internal/algorithm"
	"github.com/HyphaGroup/assimilate/internal/audit"
	"github.com/HyphaGroup/assimilate/internal/handoff"
	"github.com/HyphaGroup/assimilate/internal/runstore"
	"github.com/HyphaGroup/assimilate/internal/session"
	"github.com/HyphaGroup/assimilate/internal/validation"
)

const (
	defaultNextWait = 30 * time.Second
	maxWait         = 5 * time.Minute
	defaultRunLimit = 20
)

// RunParams is the unified params struct for the run tool
type RunParams struct {
	Action string `json:"action" jsonschema:"start, next, respond, result, abort, get, list or events"`

	// start
	CaseFile  string         `json:"case_file,omitempty" jsonschema:"case file relative to the cases directory"`
	Case      map[string]any `json:"case,omitempty" jsonschema:"inline case document"`
	Evaluator string         `json:"evaluator,omitempty" jsonschema:"configured evaluator name, or remote to answer callouts yourself"`

	RunID string `json:"run_id,omitempty"`

	// respond
	Outputs [][]float64 `json:"outputs,omitempty" jsonschema:"one output vector per input of the pending batch"`

	// next, result
	WaitSeconds int `json:"wait_seconds,omitempty" jsonschema:"how long to block before returning"`

	// events
	SinceIndex *int `json:"since_index,omitempty" jsonschema:"return events after this index, -1 for all"`

	// list
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`

	// abort
	Reason string `json:"reason,omitempty"`
}

// NextResponse is the answer to run/next.
type NextResponse struct {
	RunID string `json:"run_id"`

	// Inputs is the pending batch; nil when Waiting or Terminated.
	Inputs  algorithm.Batch `json:"inputs,omitempty"`
	Callout int64           `json:"callout,omitempty"`

	// Waiting means no callout arrived within wait_seconds.
	Waiting bool `json:"waiting,omitempty"`

	// Terminated means the worker finished; call result next.
	Terminated bool           `json:"terminated,omitempty"`
	Status     session.Status `json:"status,omitempty"`
}

// RunView is a run either still held in memory or read back from the store.
type RunView struct {
	Done   bool             `json:"done"`
	Run    *session.Summary `json:"run,omitempty"`
	Record *runstore.Record `json:"record,omitempty"`
}

// RunList is the answer to run/list.
type RunList struct {
	Active []*session.Summary `json:"active"`
	Recent []*runstore.Record `json:"recent"`
}

// EventsResponse is the answer to run/events.
type EventsResponse struct {
	RunID     string                   `json:"run_id"`
	Events    []*session.BufferedEvent `json:"events"`
	LastIndex int                      `json:"last_index"`
	Stats     session.EventLogStats    `json:"stats"`
}

var runActions = actionList{"run", []string{"start", "next", "respond", "result", "abort", "get", "list", "events"}}

// handleRun is the unified handler for the run tool
func (s *Server) handleRun(ctx context.Context, request *mcp.CallToolRequest, params *RunParams) (*mcp.CallToolResult, any, error) {
	if params.Action == "" {
		return nil, nil, runActions.missing()
	}

	switch params.Action {
	case "start":
		return s.runStart(ctx, request, params)
	case "next":
		return s.runNext(ctx, params)
	case "respond":
		return s.runRespond(params)
	case "result":
		return s.runResult(ctx, params)
	case "abort":
		return s.runAbort(ctx, params)
	case "get":
		return s.runGet(params)
	case "list":
		return s.runList(params)
	case "events":
		return s.runEvents(params)
	default:
		return nil, nil, runActions.unknown(params.Action)
	}
}

func (s *Server) runStart(ctx context.Context, request *mcp.CallToolRequest, params *RunParams) (*mcp.CallToolResult, any, error) {
	m, err := s.loadCase(params.CaseFile, params.Case)
	if err != nil {
		return nil, nil, SanitizeError(err, "run start")
	}
	if params.Evaluator != "" && params.Evaluator != RemoteEvaluator {
		if err := validation.ValidateEvaluatorName(params.Evaluator); err != nil {
			return nil, nil, err
		}
	}

	req := startRequest{
		model:     m,
		evaluator: params.Evaluator,
		clientID:  GetClientID(ctx),
	}
	if request != nil {
		req.notify = request.Session
	}

	run, err := s.startRun(req)
	if err != nil {
		audit.Log((&audit.Event{
			Operation: audit.OpRunStart,
			CaseName:  m.Name,
			Evaluator: params.Evaluator,
			ClientID:  req.clientID,
		}).Outcome(err))
		return nil, nil, SanitizeError(err, "run start")
	}
	return nil, run.session.Summary(), nil
}

func (s *Server) runNext(ctx context.Context, params *RunParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return nil, nil, requiredError("run_id", "next")
	}
	sess, err := s.liveSession(params.RunID)
	if err != nil {
		return nil, nil, err
	}
	if name := sess.Options().Evaluator; name != RemoteEvaluator {
		return nil, nil, fmt.Errorf("run %s is driven by evaluator %q; next and respond need evaluator %q", params.RunID, name, RemoteEvaluator)
	}

	waitCtx, cancel := context.WithTimeout(ctx, waitDuration(params.WaitSeconds, defaultNextWait))
	defer cancel()

	inputs, ok, err := sess.Next(waitCtx)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return nil, &NextResponse{RunID: params.RunID, Waiting: true, Status: sess.Status()}, nil
	case err != nil:
		return nil, nil, err
	case !ok:
		return nil, &NextResponse{RunID: params.RunID, Terminated: true, Status: sess.Status()}, nil
	}
	return nil, &NextResponse{
		RunID:   params.RunID,
		Inputs:  inputs,
		Callout: sess.Callouts(),
		Status:  sess.Status(),
	}, nil
}

func (s *Server) runRespond(params *RunParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return nil, nil, requiredError("run_id", "respond")
	}
	if params.Outputs == nil {
		return nil, nil, requiredError("outputs", "respond")
	}
	sess, err := s.liveSession(params.RunID)
	if err != nil {
		return nil, nil, err
	}

	out := make(algorithm.Batch, len(params.Outputs))
	for i, v := range params.Outputs {
		out[i] = algorithm.Vector(v)
	}
	if err := sess.SetResult(out); err != nil {
		if errors.Is(err, handoff.ErrTerminated) || errors.Is(err, handoff.ErrAborted) {
			return nil, nil, fmt.Errorf("run %s is no longer waiting for this result: %w", params.RunID, err)
		}
		return nil, nil, err
	}
	return nil, sess.Summary(), nil
}

func (s *Server) runResult(ctx context.Context, params *RunParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return nil, nil, requiredError("run_id", "result")
	}
	if err := validation.ValidateRunID(params.RunID); err != nil {
		return nil, nil, err
	}

	if run, ok := s.activeRunFor(params.RunID); ok {
		wait := waitDuration(params.WaitSeconds, 0)
		if wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-run.done:
			case <-timer.C:
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
		}
		select {
		case <-run.done:
		default:
			return nil, &RunView{Done: false, Run: run.session.Summary()}, nil
		}
	}

	rec, err := s.runStore.Get(params.RunID)
	if err != nil {
		if errors.Is(err, runstore.ErrRunNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", session.ErrNotFound, params.RunID)
		}
		return nil, nil, SanitizeError(err, "run result")
	}
	return nil, &RunView{Done: true, Record: rec}, nil
}

func (s *Server) runAbort(ctx context.Context, params *RunParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return nil, nil, requiredError("run_id", "abort")
	}
	sess, err := s.liveSession(params.RunID)
	if err != nil {
		return nil, nil, err
	}

	cause := errors.New("aborted by client")
	if params.Reason != "" {
		cause = fmt.Errorf("aborted by client: %s", params.Reason)
	}
	sess.Abort(cause)

	audit.Log(&audit.Event{
		Operation: audit.OpRunAbort,
		RunID:     sess.ID(),
		CaseName:  sess.Options().CaseName,
		Evaluator: sess.Options().Evaluator,
		ClientID:  GetClientID(ctx),
		Success:   true,
		Details:   map[string]any{"reason": params.Reason},
	})
	return nil, sess.Summary(), nil
}

func (s *Server) runGet(params *RunParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return nil, nil, requiredError("run_id", "get")
	}
	if err := validation.ValidateRunID(params.RunID); err != nil {
		return nil, nil, err
	}

	if sess, ok := s.runs.Get(params.RunID); ok {
		sum := sess.Summary()
		return nil, &RunView{Done: sum.Status.Terminal(), Run: sum}, nil
	}
	rec, err := s.runStore.Get(params.RunID)
	if err != nil {
		if errors.Is(err, runstore.ErrRunNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", session.ErrNotFound, params.RunID)
		}
		return nil, nil, SanitizeError(err, "run get")
	}
	return nil, &RunView{Done: true, Record: rec}, nil
}

func (s *Server) runList(params *RunParams) (*mcp.CallToolResult, any, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = defaultRunLimit
	}

	active := make([]*session.Summary, 0)
	for _, sum := range s.runs.List() {
		if params.Status == "" || string(sum.Status) == params.Status {
			active = append(active, sum)
		}
	}

	recent, err := s.runStore.List(&runstore.ListFilter{Status: params.Status, Limit: limit})
	if err != nil {
		return nil, nil, SanitizeError(err, "run list")
	}
	if recent == nil {
		recent = []*runstore.Record{}
	}
	return nil, &RunList{Active: active, Recent: recent}, nil
}

func (s *Server) runEvents(params *RunParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return nil, nil, requiredError("run_id", "events")
	}
	sess, err := s.liveSession(params.RunID)
	if err != nil {
		return nil, nil, err
	}

	since := -1
	if params.SinceIndex != nil {
		since = *params.SinceIndex
	}
	log := sess.Events()
	events, err := log.Since(since)
	if err != nil {
		return nil, nil, err
	}
	return nil, &EventsResponse{
		RunID:     sess.ID(),
		Events:    events,
		LastIndex: log.LastIndex(),
		Stats:     log.Stats(),
	}, nil
}

// waitDuration turns a client-supplied wait in seconds into a bounded
// duration. Zero or negative picks def.
func waitDuration(seconds int, def time.Duration) time.Duration {
	if seconds <= 0 {
		return def
	}
	d := time.Duration(seconds) * time.Second
	if d > maxWait {
		return maxWait
	}
	return d
}
