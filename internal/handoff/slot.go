// Package handoff implements the rendezvous used by a worker goroutine to hand
// a request to its controller and block until the controller answers.
//
// One Slot serves exactly one worker and one controller:
//
//	worker:      Callout(req) ──► requests (cap 1) ──► Next()        :controller
//	worker:      Callout returns ◄── responses (unbuffered) ◄── SetResult(resp)
//	worker exit: MarkTerminated() ──► requests ──► Next() returns ok=false
//
// At most one request is ever in flight. The controller owns a request between
// Next and SetResult; the worker owns everything else.
package handoff

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// message is the tagged value carried by the request channel.
type message[Q any] struct {
	request    Q
	terminated bool
}

// Slot is a capacity-1 request/response exchange between a worker and a controller.
type Slot[Q, R any] struct {
	requests  chan message[Q]
	responses chan R

	// released is closed once the worker will never read another response,
	// either because it terminated or because the controller aborted.
	released     chan struct{}
	releaseOnce  sync.Once
	aborted      chan struct{}
	abortOnce    sync.Once
	terminateMu  sync.Mutex
	terminated   atomic.Bool
	inCallout    atomic.Bool
	pending      atomic.Bool
	sawTerminate atomic.Bool
	callouts     atomic.Int64
}

// New creates an empty slot.
func New[Q, R any]() *Slot[Q, R] {
	return &Slot[Q, R]{
		requests:  make(chan message[Q], 1),
		responses: make(chan R),
		released:  make(chan struct{}),
		aborted:   make(chan struct{}),
	}
}

// Callout publishes req to the controller and blocks until the controller
// answers with SetResult. Only the worker goroutine may call it.
func (s *Slot[Q, R]) Callout(ctx context.Context, req Q) (R, error) {
	var zero R

	if s.terminated.Load() {
		return zero, fmt.Errorf("%w: callout after termination", ErrProtocolViolation)
	}
	if !s.inCallout.CompareAndSwap(false, true) {
		return zero, fmt.Errorf("%w: callout already in flight", ErrProtocolViolation)
	}
	defer s.inCallout.Store(false)

	select {
	case <-s.aborted:
		return zero, ErrAborted
	default:
	}

	select {
	case s.requests <- message[Q]{request: req}:
	case <-s.aborted:
		return zero, ErrAborted
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	s.callouts.Add(1)

	select {
	case resp := <-s.responses:
		return resp, nil
	case <-s.aborted:
		return zero, ErrAborted
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Next blocks until the worker publishes a request or terminates. It returns
// ok=false once termination has been observed, and on every call after that.
func (s *Slot[Q, R]) Next(ctx context.Context) (req Q, ok bool, err error) {
	if s.pending.Load() {
		return req, false, fmt.Errorf("%w: previous request has not been answered", ErrProtocolViolation)
	}
	if s.sawTerminate.Load() {
		return req, false, nil
	}

	for {
		select {
		case msg := <-s.requests:
			if msg.terminated {
				s.sawTerminate.Store(true)
				return req, false, nil
			}
			if s.Aborted() {
				// The worker already gave up on this request.
				continue
			}
			s.pending.Store(true)
			return msg.request, true, nil
		case <-ctx.Done():
			return req, false, ctx.Err()
		}
	}
}

// SetResult hands resp back to the worker blocked in Callout. It fails
// immediately with ErrProtocolViolation when no request is pending, with
// ErrAborted when an abort dropped the pending request, and with
// ErrTerminated when the worker stopped waiting for an answer.
func (s *Slot[Q, R]) SetResult(resp R) error {
	if !s.pending.CompareAndSwap(true, false) {
		// Abort closes aborted before it clears pending.
		if s.Aborted() {
			return ErrAborted
		}
		return fmt.Errorf("%w: no pending request", ErrProtocolViolation)
	}

	select {
	case s.responses <- resp:
		return nil
	case <-s.released:
		return ErrTerminated
	}
}

// MarkTerminated signals that the worker finished. It is idempotent and must
// only be called after the worker's algorithm has fully returned.
func (s *Slot[Q, R]) MarkTerminated() {
	s.terminateMu.Lock()
	defer s.terminateMu.Unlock()

	if s.terminated.Load() {
		return
	}
	s.terminated.Store(true)
	s.release()

	// A request the controller never claimed is stale now; drop it so the
	// terminated message always fits.
	select {
	case <-s.requests:
	default:
	}
	s.requests <- message[Q]{terminated: true}
}

// Abort releases a worker blocked in Callout with ErrAborted and clears any
// request the controller still holds. Only the controller may call it.
func (s *Slot[Q, R]) Abort() {
	s.abortOnce.Do(func() { close(s.aborted) })
	s.release()
	s.pending.Store(false)
}

// Terminated reports whether the worker has marked the slot terminated.
func (s *Slot[Q, R]) Terminated() bool {
	return s.terminated.Load()
}

// Aborted reports whether the controller aborted the exchange.
func (s *Slot[Q, R]) Aborted() bool {
	select {
	case <-s.aborted:
		return true
	default:
		return false
	}
}

// Pending reports whether the controller holds an unanswered request.
func (s *Slot[Q, R]) Pending() bool {
	return s.pending.Load()
}

// Callouts returns the number of requests published so far.
func (s *Slot[Q, R]) Callouts() int64 {
	return s.callouts.Load()
}

func (s *Slot[Q, R]) release() {
	s.releaseOnce.Do(func() { close(s.released) })
}
