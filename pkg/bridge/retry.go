package bridge

import (
	"context"
	"time"
)

// RetryPolicy wraps transport calls with bounded retries, exponential
// backoff, and an overall wall-clock budget.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts including the first.
	MaxAttempts int

	// BaseDelay is the backoff before the second attempt; doubled per
	// attempt up to MaxDelay.
	BaseDelay time.Duration

	// MaxDelay caps the per-attempt backoff.
	MaxDelay time.Duration

	// Budget bounds total wall-clock time across all attempts regardless
	// of remaining attempt count. Zero means no budget.
	Budget time.Duration
}

// DefaultRetryPolicy matches the configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Budget:      30 * time.Second,
	}
}

// stateCheck lets the policy abort mid-retry when the session has died.
// A nil check always proceeds.
type stateCheck func() error

// Do runs fn until it succeeds, a fatal error occurs, attempts are
// exhausted, or the budget expires. It returns the attempt count alongside
// the last error so callers can record it.
func (p RetryPolicy) Do(ctx context.Context, check stateCheck, fn func(ctx context.Context) error) (int, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	deadline := time.Time{}
	if p.Budget > 0 {
		deadline = time.Now().Add(p.Budget)
	}

	delay := p.BaseDelay
	var lastErr error
	made := 0

	for attempt := 1; attempt <= attempts; attempt++ {
		if check != nil {
			if err := check(); err != nil {
				if lastErr == nil {
					lastErr = err
				}
				return made, lastErr
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if !deadline.IsZero() {
			attemptCtx, cancel = context.WithDeadline(ctx, deadline)
		}
		err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}
		made = attempt
		if err == nil {
			return made, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return made, err
		}
		if attempt == attempts {
			break
		}
		if !deadline.IsZero() && time.Now().Add(delay).After(deadline) {
			// The budget bounds total retries regardless of attempts left
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return made, NewTimeoutError("retry cancelled", ctx.Err())
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return made, lastErr
}
