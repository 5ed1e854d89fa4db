package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryWithBackoff_Success(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), &RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  1 * time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
	}, func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("throttled")
		}
		return nil
	}, func(err error) bool {
		return true
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoff_NonRetryable(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), &RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  1 * time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
	}, func() error {
		attempts++
		return fmt.Errorf("permanent error")
	}, func(err error) bool {
		return false // Don't retry
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts) // Only tried once
}

func TestRetryWithBackoff_MaxRetries(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), &RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  1 * time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
	}, func() error {
		attempts++
		return fmt.Errorf("always fails")
	}, func(err error) bool {
		return true
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max retries")
	assert.Equal(t, 3, attempts) // 1 initial + 2 retries
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	err := RetryWithBackoff(ctx, &RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   1 * time.Second,
	}, func() error {
		return fmt.Errorf("would retry")
	}, func(err error) bool {
		return true
	})

	assert.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalculateBackoff_Bounds(t *testing.T) {
	policy := &RetryPolicy{
		MaxRetries: 10,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   2 * time.Second,
	}

	first := calculateBackoff(1, policy)
	assert.GreaterOrEqual(t, first, policy.BaseDelay)
	assert.LessOrEqual(t, first, policy.MaxDelay)

	// Later attempts grow until capped by MaxDelay.
	for attempt := 2; attempt <= 10; attempt++ {
		delay := calculateBackoff(attempt, policy)
		assert.LessOrEqual(t, delay, policy.MaxDelay)
	}
	assert.Equal(t, policy.MaxDelay, calculateBackoff(10, policy))
}

func TestRetryPolicyFromConfig(t *testing.T) {
	assert.Equal(t, 5, RetryPolicyFromConfig(5).MaxRetries)
	assert.Equal(t, 0, RetryPolicyFromConfig(0).MaxRetries)

	// Negative means "not configured" and keeps the default.
	assert.Equal(t, DefaultRetryPolicy().MaxRetries, RetryPolicyFromConfig(-1).MaxRetries)
}
