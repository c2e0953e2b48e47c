package handoff

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Proxy is the callable handed to a worker in place of the real evaluation
// function. Every call is forwarded through the slot to the controller.
type Proxy[Q, R any] struct {
	slot  *Slot[Q, R]
	calls atomic.Int64
}

// NewProxy binds a proxy to slot.
func NewProxy[Q, R any](slot *Slot[Q, R]) *Proxy[Q, R] {
	return &Proxy[Q, R]{slot: slot}
}

// Call forwards exactly one argument to the controller and returns its answer
// unchanged.
func (p *Proxy[Q, R]) Call(ctx context.Context, args ...Q) (R, error) {
	if len(args) != 1 {
		var zero R
		return zero, fmt.Errorf("%w: callback takes exactly one argument, got %d", ErrProtocolViolation, len(args))
	}
	p.calls.Add(1)
	return p.slot.Callout(ctx, args[0])
}

// Hook returns Call as a single-argument function value.
func (p *Proxy[Q, R]) Hook() func(context.Context, Q) (R, error) {
	return func(ctx context.Context, in Q) (R, error) {
		return p.Call(ctx, in)
	}
}

// Calls returns how many times the proxy has been invoked.
func (p *Proxy[Q, R]) Calls() int64 {
	return p.calls.Load()
}

// Slot returns the slot the proxy forwards to.
func (p *Proxy[Q, R]) Slot() *Slot[Q, R] {
	return p.slot
}
