package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rendis/assertflow/pkg/schema"
)

// RetryPolicy controls how often an aborted run is attempted again.
type RetryPolicy struct {
	MaxAttempts int    `json:"max_attempts"`        // total attempts, including the first
	Backoff     string `json:"backoff,omitempty"`   // none, constant, linear or exponential
	Delay       string `json:"delay,omitempty"`     // base delay, time.ParseDuration syntax
	MaxDelay    string `json:"max_delay,omitempty"` // cap applied after backoff
}

// Attempts returns the effective number of attempts; at least one.
func (p *RetryPolicy) Attempts() int {
	if p == nil || p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// IsRetryableOutcome reports whether running the workflow again could
// change out. Completed and cancelled runs are final, as are failures
// caused by malformed input.
func IsRetryableOutcome(out *schema.RunOutcome) bool {
	if out == nil {
		return false
	}
	switch out.Kind {
	case schema.OutcomeAssertionFailed:
		// A parse error fails the same way every time.
		return out.Verdict == nil || out.Verdict.Err == nil || out.Verdict.Err.Kind != schema.EvalParseError
	case schema.OutcomeStepFailed:
		return IsRetryableError(out.Cause)
	default:
		return false
	}
}

// IsRetryableError classifies a step failure cause.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var se *schema.Error
	if errors.As(err, &se) {
		switch se.Code {
		case schema.ErrCodeValidation, schema.ErrCodeActionUnavailable,
			schema.ErrCodeExpression, schema.ErrCodeInvalidTransition:
			return false
		}
	}
	return true
}

// Retry calls attempt until it yields a final outcome or the policy's
// attempts are used up, waiting the policy's backoff in between. It returns
// the last outcome together with the number of attempts made. A run error
// or a context cancelled during backoff stops the loop.
func Retry(ctx context.Context, policy *RetryPolicy, attempt func(ctx context.Context, n int) (*schema.RunOutcome, error)) (*schema.RunOutcome, int, error) {
	limit := policy.Attempts()

	var out *schema.RunOutcome
	for n := 0; n < limit; n++ {
		if n > 0 {
			if err := WaitForBackoff(ctx, ComputeBackoff(policy, n-1)); err != nil {
				return out, n, err
			}
		}

		var err error
		out, err = attempt(ctx, n)
		if err != nil {
			return out, n + 1, err
		}
		if !IsRetryableOutcome(out) {
			return out, n + 1, nil
		}
	}
	return out, limit, nil
}

const maxBackoffShift = 30

// ComputeBackoff calculates the delay before retry number attempt (0-based).
func ComputeBackoff(policy *RetryPolicy, attempt int) time.Duration {
	if policy == nil || policy.Delay == "" {
		return 0
	}

	base, err := time.ParseDuration(policy.Delay)
	if err != nil {
		return 0
	}

	var delay time.Duration
	switch policy.Backoff {
	case "exponential":
		shift := attempt
		if shift > maxBackoffShift {
			shift = maxBackoffShift
		}
		delay = base << uint(shift)
	case "linear":
		delay = base * time.Duration(attempt+1)
	default:
		delay = base
	}

	if policy.MaxDelay != "" {
		if maxDelay, err := time.ParseDuration(policy.MaxDelay); err == nil && delay > maxDelay {
			delay = maxDelay
		}
	}
	return delay
}

// WaitForBackoff sleeps for delay or returns early with the context error.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
