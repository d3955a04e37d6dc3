// Package retry implements bounded retry with exponential backoff for
// transient task step failures.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/types"
)

// Policy controls retry behavior.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt; a step
	// runs at most MaxRetries+1 times.
	MaxRetries int
	// InitialDelay is the backoff before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration
	// Multiplier scales the delay per attempt.
	Multiplier float64
	// Jitter adds up to 25% random variance to each delay.
	Jitter bool
	// OnRetry is invoked before each retry sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy returns sane retry defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer runs operations under a Policy.
type Retryer struct {
	policy Policy
	logger *zap.Logger
}

// New creates a Retryer.
func New(policy Policy, logger *zap.Logger) *Retryer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 1.0
	}
	return &Retryer{policy: policy, logger: logger.With(zap.String("component", "retry"))}
}

// Do runs fn until it succeeds, returns a non-retryable error, or the retry
// budget is spent. It reports how many attempts ran. Open-circuit errors
// surface immediately without consuming a retry. Context cancellation stops
// the loop between attempts.
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt - 1, lastErr
			}
			return attempt - 1, err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt, nil
		}

		if types.CodeOf(lastErr) == types.ErrCircuitOpen {
			// The breaker already decided the dependency is down; retrying
			// here would just burn the budget against a closed door.
			return attempt, lastErr
		}
		if !types.IsRetryable(lastErr) {
			return attempt, lastErr
		}
		if attempt > r.policy.MaxRetries {
			break
		}

		delay := r.delayFor(attempt)
		if r.policy.OnRetry != nil {
			r.policy.OnRetry(attempt, delay, lastErr)
		}
		r.logger.Debug("retrying after transient failure",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(lastErr))

		select {
		case <-ctx.Done():
			return attempt, lastErr
		case <-time.After(delay):
		}
	}

	return r.policy.MaxRetries + 1, lastErr
}

// delayFor computes the backoff before retry number attempt. Jitter is
// applied before the cap so the delay never exceeds MaxDelay.
func (r *Retryer) delayFor(attempt int) time.Duration {
	delay := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	if r.policy.Jitter {
		delay += delay * 0.25 * rand.Float64()
	}
	if max := float64(r.policy.MaxDelay); r.policy.MaxDelay > 0 && delay > max {
		delay = max
	}
	return time.Duration(delay)
}
