package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/assimilate/internal/audit"
	"github.com/HyphaGroup/assimilate/internal/casemodel"
	"github.com/HyphaGroup/assimilate/internal/evaluator"
	"github.com/HyphaGroup/assimilate/internal/logger"
	"github.com/HyphaGroup/assimilate/internal/runstore"
	"github.com/HyphaGroup/assimilate/internal/schedule"
	"github.com/HyphaGroup/assimilate/internal/session"
	"github.com/HyphaGroup/assimilate/internal/validation"
)

// RemoteEvaluator makes the MCP client the controller of a run: it pulls
// callouts with run/next and answers them with run/respond.
const RemoteEvaluator = validation.ReservedEvaluator

// activeRun is what the server tracks next to a session until the run's
// outcome has been written to the run store.
type activeRun struct {
	session    *session.Session
	scheduleID string
	pusher     *eventPusher

	// done is closed once the outcome is persisted.
	done chan struct{}
}

type startRequest struct {
	model      *casemodel.Model
	evaluator  string
	scheduleID string
	clientID   string

	// notify, when set, receives the run's events as log notifications.
	notify *mcp.ServerSession
}

// startRun registers and starts a run. Runs with a configured evaluator are
// driven in the background; RemoteEvaluator runs wait for the client.
func (s *Server) startRun(req startRequest) (*activeRun, error) {
	name := req.evaluator
	if name == "" {
		name = s.cfg.Defaults.Session.Evaluator
	}

	var ev evaluator.Evaluator
	if name != RemoteEvaluator {
		var err error
		if ev, err = s.evaluators.Get(s.ctx, name); err != nil {
			return nil, err
		}
	}

	sess := session.New(session.Options{
		Evaluator:         name,
		EvaluationTimeout: s.cfg.EvaluationTimeout(),
		EventBufferSize:   s.cfg.Defaults.Session.EventBufferSize,
	})
	spec, err := sess.Prepare(req.model)
	if err != nil {
		return nil, err
	}

	run := &activeRun{
		session:    sess,
		scheduleID: req.scheduleID,
		done:       make(chan struct{}),
	}
	if req.notify != nil {
		run.pusher = newEventPusher(req.notify, sess.ID())
		sess.OnEvent(run.pusher.Push)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			run.pusher.run(s.ctx)
		}()
	}

	if err := s.runs.Register(sess); err != nil {
		run.pusher.Close()
		return nil, err
	}

	s.mu.Lock()
	s.active[sess.ID()] = run
	s.mu.Unlock()

	task, err := sess.Start(s.ctx, spec)
	if err != nil {
		s.forget(sess.ID())
		s.runs.Remove(sess.ID())
		run.pusher.Close()
		return nil, err
	}

	if err := s.runStore.Save(recordFromSummary(sess.Summary(), req.scheduleID)); err != nil {
		logger.Error("Failed to save run %s: %v", sess.ID(), err)
	}
	audit.Log(&audit.Event{
		Operation:  audit.OpRunStart,
		RunID:      sess.ID(),
		ScheduleID: req.scheduleID,
		CaseName:   sess.Options().CaseName,
		Evaluator:  name,
		ClientID:   req.clientID,
		Success:    true,
	})

	s.wg.Add(1)
	go s.finalize(run, task)

	if ev != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := sess.Drive(s.ctx, ev); err != nil {
				logger.Error("Run %s: %v", sess.ID(), err)
			}
		}()
	}
	return run, nil
}

// finalize joins the run once its worker is done and persists the outcome.
// It is the only caller of Join for server runs.
func (s *Server) finalize(run *activeRun, task *session.Task) {
	defer s.wg.Done()
	<-task.Done()

	sess := run.session
	analysis, joinErr := sess.Join(context.Background())

	rec := recordFromSummary(sess.Summary(), run.scheduleID)
	rec.Analysis = analysis
	if joinErr != nil && rec.Error == "" {
		rec.Error = joinErr.Error()
	}
	if err := s.runStore.Save(rec); err != nil {
		logger.Error("Failed to save outcome of run %s: %v", sess.ID(), err)
	}

	audit.LogRun(audit.OpRunResult, sess.ID(), rec.CaseName, rec.Evaluator, joinErr)

	s.forget(sess.ID())
	close(run.done)
	run.pusher.Close()
}

func (s *Server) forget(runID string) {
	s.mu.Lock()
	delete(s.active, runID)
	s.mu.Unlock()
}

// activeRunFor returns the run while its outcome is not yet persisted.
func (s *Server) activeRunFor(runID string) (*activeRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.active[runID]
	return run, ok
}

// liveSession returns a session the manager still holds.
func (s *Server) liveSession(runID string) (*session.Session, error) {
	if err := validation.ValidateRunID(runID); err != nil {
		return nil, err
	}
	sess, ok := s.runs.Get(runID)
	if !ok {
		if _, err := s.runStore.Get(runID); err == nil {
			return nil, fmt.Errorf("run %s has finished", runID)
		}
		return nil, fmt.Errorf("%w: %s", session.ErrNotFound, runID)
	}
	return sess, nil
}

func recordFromSummary(sum *session.Summary, scheduleID string) *runstore.Record {
	rec := &runstore.Record{
		ID:         sum.RunID,
		CaseName:   sum.CaseName,
		Algorithm:  string(sum.Algorithm),
		Evaluator:  sum.Evaluator,
		Status:     string(sum.Status),
		Callouts:   sum.Callouts,
		Error:      sum.Error,
		ScheduleID: scheduleID,
		StartedAt:  sum.CreatedAt,
		FinishedAt: sum.FinishedAt,
	}
	if sum.StartedAt != nil {
		rec.StartedAt = *sum.StartedAt
	}
	return rec
}

// loadCase reads a case from the cases directory or decodes an inline
// document. Exactly one of the two must be given.
func (s *Server) loadCase(caseFile string, inline map[string]any) (*casemodel.Model, error) {
	switch {
	case caseFile != "" && inline != nil:
		return nil, errors.New("case_file and case are mutually exclusive")
	case caseFile != "":
		path, err := validation.ResolveCasePath(s.cfg.Data.CasesDir, caseFile)
		if err != nil {
			return nil, err
		}
		m, err := casemodel.Load(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("case file not found: %s", caseFile)
		}
		return m, err
	case inline != nil:
		data, err := json.Marshal(inline)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", casemodel.ErrInvalidCase, err)
		}
		return casemodel.Parse(data)
	default:
		return nil, errors.New("case_file or case is required")
	}
}

// executeSchedule runs one scheduled case to completion.
func (s *Server) executeSchedule(ctx context.Context, sched *schedule.Schedule) (string, error) {
	m, err := s.loadCase(sched.CaseFile, nil)
	if err != nil {
		return "", err
	}

	run, err := s.startRun(startRequest{
		model:      m,
		evaluator:  sched.Evaluator,
		scheduleID: sched.ID,
		clientID:   "scheduler",
	})
	if err != nil {
		return "", err
	}
	runID := run.session.ID()

	select {
	case <-run.done:
	case <-ctx.Done():
		run.session.Abort(fmt.Errorf("schedule %s stopped: %w", sched.ID, ctx.Err()))
		<-run.done
	}

	rec, err := s.runStore.Get(runID)
	if err != nil {
		return runID, err
	}
	if rec.Status != string(session.StatusCompleted) {
		return runID, fmt.Errorf("run %s %s: %s", runID, rec.Status, rec.Error)
	}
	return runID, nil
}
