package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/HyphaGroup/assimilate/internal/algorithm"
	"github.com/HyphaGroup/assimilate/internal/casemodel"
	"github.com/HyphaGroup/assimilate/internal/evaluator"
	"github.com/HyphaGroup/assimilate/internal/handoff"
	"github.com/HyphaGroup/assimilate/internal/logger"
	"github.com/HyphaGroup/assimilate/internal/metrics"
)

// errAbortRequested is the abort cause when the caller gives none.
var errAbortRequested = errors.New("abort requested")

// Session owns one run: the slot shared by worker and controller, the proxy
// bound into the case, the worker task and the run's event trace.
type Session struct {
	opts   Options
	slot   *handoff.Slot[algorithm.Batch, algorithm.Batch]
	proxy  *handoff.Proxy[algorithm.Batch, algorithm.Batch]
	events *EventLog

	// ctrlMu admits one controller at a time.
	ctrlMu         sync.Mutex
	joined         atomic.Bool
	sawTermination atomic.Bool
	driven         atomic.Bool

	mu           sync.RWMutex
	status       Status
	algorithm    algorithm.Name
	task         *Task
	createdAt    time.Time
	lastActivity time.Time
	abortCause   error
	subscribers  []func(*BufferedEvent)
}

// New creates a session in the created state.
func New(opts Options) *Session {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.ResultSeries == "" {
		opts.ResultSeries = algorithm.SeriesAnalysis
	}
	if opts.EventBufferSize <= 0 {
		opts.EventBufferSize = DefaultEventLogSize
	}

	slot := handoff.New[algorithm.Batch, algorithm.Batch]()
	now := time.Now()
	return &Session{
		opts:         opts,
		slot:         slot,
		proxy:        handoff.NewProxy(slot),
		events:       NewEventLog(opts.RunID, opts.EventBufferSize),
		status:       StatusCreated,
		createdAt:    now,
		lastActivity: now,
	}
}

// ID returns the run ID.
func (s *Session) ID() string {
	return s.opts.RunID
}

// Options returns the options the session was created with, defaults applied.
func (s *Session) Options() Options {
	return s.opts
}

// Hook is the evaluation function to bind at the case's hook point. Every
// call becomes a callout to this session's controller.
func (s *Session) Hook() algorithm.Hook {
	return s.proxy.Hook()
}

// Prepare binds the session's hook into m and builds the spec to Start.
func (s *Session) Prepare(m *casemodel.Model) (*casemodel.Spec, error) {
	m.BindHook(s.Hook())
	spec, err := m.Build()
	if err != nil {
		return nil, err
	}
	if s.opts.CaseName == "" {
		s.opts.CaseName = spec.Name
	}
	return spec, nil
}

// Start spawns the worker and returns immediately. ctx bounds the worker's
// lifetime, not the call.
func (s *Session) Start(ctx context.Context, spec *casemodel.Spec) (*Task, error) {
	s.mu.Lock()
	if s.status != StatusCreated {
		status := s.status
		s.mu.Unlock()
		return nil, fmt.Errorf("%w (status %s)", ErrAlreadyStarted, status)
	}

	alg := s.opts.Worker
	if alg == nil {
		var err error
		if alg, err = algorithm.ForName(spec.Algorithm); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	problem, err := spec.Consume()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	task := newTask()
	s.task = task
	s.status = StatusRunning
	s.algorithm = alg.Name()
	s.lastActivity = task.startedAt
	s.mu.Unlock()

	metrics.RecordRunStart(string(alg.Name()))
	logger.Info("Run %s started (case: %s, algorithm: %s)", s.opts.RunID, spec.Name, alg.Name())
	s.emit(&Event{Type: EventStarted})

	workerCtx, cancel := context.WithCancel(logger.WithRunID(ctx, s.opts.RunID))
	go s.work(workerCtx, cancel, alg, problem, task)
	return task, nil
}

func (s *Session) work(ctx context.Context, cancel context.CancelFunc, alg algorithm.Algorithm, p *algorithm.Problem, task *Task) {
	var (
		state *algorithm.State
		err   error
	)
	defer func() {
		if r := recover(); r != nil {
			state, err = nil, fmt.Errorf("worker panic: %v", r)
		}
		cancel()
		s.slot.MarkTerminated()
		s.finish(task, state, err)
	}()

	state, err = alg.Run(ctx, p)
	if err != nil {
		logger.WarnContext(ctx, "worker stopped", "algorithm", string(alg.Name()), "callouts", s.slot.Callouts(), "error", err.Error())
	} else {
		logger.InfoContext(ctx, "worker finished", "algorithm", string(alg.Name()), "callouts", s.slot.Callouts())
	}
}

func (s *Session) finish(task *Task, state *algorithm.State, err error) {
	s.mu.Lock()
	status := StatusCompleted
	if err != nil {
		status = StatusFailed
		if cause := s.abortCause; cause != nil {
			status = StatusAborted
			if !errors.Is(err, cause) {
				err = fmt.Errorf("%w (abort cause: %w)", err, cause)
			}
		}
	}
	s.status = status
	s.lastActivity = time.Now()
	alg := s.algorithm
	s.mu.Unlock()

	n := s.slot.Callouts()
	if err != nil {
		logger.Error("Run %s %s after %d callouts: %v", s.opts.RunID, status, n, err)
		s.emit(&Event{Type: EventFailed, Callout: n, Error: err.Error()})
	} else {
		logger.Info("Run %s completed after %d callouts", s.opts.RunID, n)
		s.emit(&Event{Type: EventCompleted, Callout: n})
	}

	metrics.RecordRunEnd(string(alg), string(status), time.Since(task.startedAt).Seconds())
	task.finish(state, err)
}

// Next blocks until the worker issues a callout or terminates. ok is false
// once the worker terminated. Only one controller call may be in progress.
func (s *Session) Next(ctx context.Context) (req algorithm.Batch, ok bool, err error) {
	if !s.ctrlMu.TryLock() {
		return nil, false, fmt.Errorf("%w: another controller is active", handoff.ErrProtocolViolation)
	}
	defer s.ctrlMu.Unlock()
	return s.next(ctx)
}

func (s *Session) next(ctx context.Context) (algorithm.Batch, bool, error) {
	if s.Task() == nil {
		return nil, false, ErrNotStarted
	}

	req, ok, err := s.slot.Next(ctx)
	if err != nil {
		return nil, false, err
	}
	s.touch()

	if !ok {
		if s.sawTermination.CompareAndSwap(false, true) {
			s.emit(&Event{Type: EventTerminated, Callout: s.slot.Callouts()})
		}
		return nil, false, nil
	}

	metrics.RecordCallout(string(s.Algorithm()))
	s.emit(&Event{Type: EventRequest, Callout: s.slot.Callouts(), BatchSize: len(req)})
	return req, true, nil
}

// SetResult answers the request returned by the last Next.
func (s *Session) SetResult(out algorithm.Batch) error {
	if !s.ctrlMu.TryLock() {
		return fmt.Errorf("%w: another controller is active", handoff.ErrProtocolViolation)
	}
	defer s.ctrlMu.Unlock()
	return s.setResult(out)
}

func (s *Session) setResult(out algorithm.Batch) error {
	if s.Task() == nil {
		return ErrNotStarted
	}

	n := s.slot.Callouts()
	if err := s.slot.SetResult(out); err != nil {
		return err
	}
	s.touch()
	s.emit(&Event{Type: EventResponse, Callout: n, BatchSize: len(out)})
	return nil
}

// Drive answers every callout with ev until the worker terminates. If an
// evaluation fails, times out, or ctx ends, Drive aborts the worker, waits for
// it to return, and returns the error.
func (s *Session) Drive(ctx context.Context, ev evaluator.Evaluator) error {
	if !s.ctrlMu.TryLock() {
		return fmt.Errorf("%w: another controller is active", handoff.ErrProtocolViolation)
	}
	defer s.ctrlMu.Unlock()

	task := s.Task()
	if task == nil {
		return ErrNotStarted
	}
	s.driven.Store(true)
	defer s.driven.Store(false)

	for {
		req, ok, err := s.next(ctx)
		if err != nil {
			return s.abandon(task, fmt.Errorf("waiting for callout: %w", err))
		}
		if !ok {
			// MarkTerminated runs just before the task completes.
			<-task.Done()
			return nil
		}

		out, err := s.evaluate(ctx, ev, req)
		if err != nil {
			return s.abandon(task, fmt.Errorf("evaluating callout %d: %w", s.slot.Callouts(), err))
		}

		if err := s.setResult(out); err != nil {
			if errors.Is(err, handoff.ErrTerminated) || errors.Is(err, handoff.ErrAborted) {
				// The worker stopped waiting; the next Next reports it.
				continue
			}
			return s.abandon(task, err)
		}
	}
}

func (s *Session) evaluate(ctx context.Context, ev evaluator.Evaluator, req algorithm.Batch) (algorithm.Batch, error) {
	if s.opts.EvaluationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.EvaluationTimeout)
		defer cancel()
	}
	return ev.Evaluate(ctx, req)
}

func (s *Session) abandon(task *Task, err error) error {
	s.Abort(err)
	<-task.Done()
	return err
}

// Abort releases the worker from its current or next callout with
// handoff.ErrAborted. The first cause is kept. Aborting a finished run does
// nothing; aborting a run that never started makes it unstartable.
func (s *Session) Abort(cause error) {
	if cause == nil {
		cause = errAbortRequested
	}

	s.mu.Lock()
	if s.status.Terminal() || s.abortCause != nil {
		s.mu.Unlock()
		return
	}
	s.abortCause = cause
	if s.task == nil {
		s.status = StatusAborted
	}
	s.mu.Unlock()

	s.slot.Abort()
	logger.Info("Run %s aborted: %v", s.opts.RunID, cause)
	s.emit(&Event{Type: EventAborted, Callout: s.slot.Callouts(), Error: cause.Error()})
}

// Join blocks until the worker is done and returns the last entry of the
// result series. A failed worker yields a *WorkerFailure. Join succeeds at
// most once per run.
func (s *Session) Join(ctx context.Context) (algorithm.Vector, error) {
	task := s.Task()
	if task == nil {
		return nil, ErrNotStarted
	}
	if !s.joined.CompareAndSwap(false, true) {
		return nil, ErrAlreadyJoined
	}
	if err := task.Wait(ctx); err != nil {
		s.joined.Store(false)
		return nil, err
	}
	return s.result(task)
}

func (s *Session) result(task *Task) (algorithm.Vector, error) {
	if err := task.Err(); err != nil {
		return nil, &WorkerFailure{RunID: s.opts.RunID, Algorithm: s.Algorithm(), Err: err}
	}

	series, err := task.State().Get(s.opts.ResultSeries)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResultUnavailable, err)
	}
	last, ok := series.Last()
	if !ok {
		return nil, fmt.Errorf("%w: series %q is empty", ErrResultUnavailable, s.opts.ResultSeries)
	}
	return last, nil
}

// Run prepares m, starts the worker, drives it with ev and joins it.
func (s *Session) Run(ctx context.Context, m *casemodel.Model, ev evaluator.Evaluator) (algorithm.Vector, error) {
	spec, err := s.Prepare(m)
	if err != nil {
		return nil, err
	}
	if _, err := s.Start(ctx, spec); err != nil {
		return nil, err
	}
	if err := s.Drive(ctx, ev); err != nil {
		return nil, err
	}
	return s.Join(ctx)
}

// History returns the worker's full history once it completed.
func (s *Session) History() (*algorithm.State, error) {
	task := s.Task()
	if task == nil {
		return nil, ErrNotStarted
	}
	if !task.Finished() {
		return nil, fmt.Errorf("run %s is still running", s.opts.RunID)
	}
	if err := task.Err(); err != nil {
		return nil, &WorkerFailure{RunID: s.opts.RunID, Algorithm: s.Algorithm(), Err: err}
	}
	return task.State(), nil
}

// OnEvent registers fn to be called for every event appended from now on.
// fn runs on the goroutine that produced the event and must not block.
func (s *Session) OnEvent(fn func(*BufferedEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

func (s *Session) emit(ev *Event) {
	be := s.events.Append(ev)

	s.mu.RLock()
	subs := s.subscribers
	s.mu.RUnlock()
	for _, fn := range subs {
		fn(be)
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Task returns the worker handle, nil before Start.
func (s *Session) Task() *Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.task
}

// Status returns the current status
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Algorithm returns the algorithm of the started spec.
func (s *Session) Algorithm() algorithm.Name {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.algorithm
}

// LastActivity returns the time of the last controller or worker transition.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Driven reports whether Drive is answering callouts in process. Idle
// timeouts only apply to runs whose controller is outside the process.
func (s *Session) Driven() bool {
	return s.driven.Load()
}

// Events returns the run's event buffer.
func (s *Session) Events() *EventLog {
	return s.events
}

// Callouts returns how many callouts the worker issued.
func (s *Session) Callouts() int64 {
	return s.slot.Callouts()
}

// Pending reports whether a controller holds an unanswered request.
func (s *Session) Pending() bool {
	return s.slot.Pending()
}

// Summary returns a snapshot for listings.
func (s *Session) Summary() *Summary {
	s.mu.RLock()
	sum := &Summary{
		RunID:        s.opts.RunID,
		CaseName:     s.opts.CaseName,
		Algorithm:    s.algorithm,
		Evaluator:    s.opts.Evaluator,
		Status:       s.status,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
	}
	task := s.task
	s.mu.RUnlock()

	sum.Callouts = s.slot.Callouts()
	sum.Pending = s.slot.Pending()
	if task != nil {
		started := task.StartedAt()
		sum.StartedAt = &started
		if task.Finished() {
			finished := task.FinishedAt()
			sum.FinishedAt = &finished
			if err := task.Err(); err != nil {
				sum.Error = err.Error()
			}
		}
	}
	return sum
}
