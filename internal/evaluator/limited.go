package evaluator

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/HyphaGroup/assimilate/internal/algorithm"
)

// Limited throttles an evaluator to a steady rate of batches.
type Limited struct {
	next    Evaluator
	limiter *rate.Limiter
}

// NewLimited wraps next with a token bucket of perSecond batches and the
// given burst. A burst below one is raised to one.
func NewLimited(next Evaluator, perSecond float64, burst int) *Limited {
	if burst < 1 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Evaluate waits for a token, then delegates.
func (l *Limited) Evaluate(ctx context.Context, in algorithm.Batch) (algorithm.Batch, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.next.Evaluate(ctx, in)
}
