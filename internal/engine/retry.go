package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy defines retry behavior for transient deployment failures.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy returns the standard policy: 3 retries with
// exponential backoff starting at 1 second.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// RetryPolicyFromConfig builds a policy with the configured retry count
// and the standard delays.
func RetryPolicyFromConfig(maxRetries int) *RetryPolicy {
	policy := DefaultRetryPolicy()
	if maxRetries >= 0 {
		policy.MaxRetries = maxRetries
	}
	return policy
}

// RetryWithBackoff executes fn with exponential backoff on retryable
// errors. Attempts are bounded by the policy; a non-retryable error
// returns immediately. Cancellation is honored between attempts, never
// mid-attempt.
func RetryWithBackoff(ctx context.Context, policy *RetryPolicy, fn func() error, shouldRetry func(error) bool) error {
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(attempt, policy)
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		if err := fn(); err != nil {
			lastErr = err
			if !shouldRetry(err) {
				return err
			}
			continue
		}
		return nil
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", policy.MaxRetries, lastErr)
}

// calculateBackoff computes the delay before the given attempt using
// exponential backoff with jitter.
func calculateBackoff(attempt int, policy *RetryPolicy) time.Duration {
	backoff := float64(policy.BaseDelay) * math.Pow(2, float64(attempt-1))

	jitter := rand.Float64() * backoff * 0.1
	total := backoff + jitter

	if total > float64(policy.MaxDelay) {
		total = float64(policy.MaxDelay)
	}
	return time.Duration(total)
}
