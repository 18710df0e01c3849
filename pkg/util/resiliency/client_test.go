package resiliency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func fastPolicy(retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Retryable:   retryable,
	}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	attempts := 0
	err := fastPolicy(func(err error) bool { return errors.Is(err, errTransient) }).
		Do(context.Background(), func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return errTransient
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoDoesNotRetryDomainErrors(t *testing.T) {
	domainErr := errors.New("not found")
	attempts := 0
	err := fastPolicy(func(err error) bool { return errors.Is(err, errTransient) }).
		Do(context.Background(), func(ctx context.Context) error {
			attempts++
			return domainErr
		})
	require.ErrorIs(t, err, domainErr)
	assert.Equal(t, 1, attempts)
}

func TestDoExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := fastPolicy(func(error) bool { return true }).
		Do(context.Background(), func(ctx context.Context) error {
			attempts++
			return errTransient
		})
	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, attempts)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Minute,
		Retryable:   func(error) bool { return true },
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := policy.Do(ctx, func(ctx context.Context) error { return errTransient })
	require.ErrorIs(t, err, context.Canceled)
}

func TestNilRetryablePredicateRetriesNothing(t *testing.T) {
	attempts := 0
	err := fastPolicy(nil).Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return errTransient
	})
	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, attempts)
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("store", 3, time.Hour)

	assert.True(t, cb.Allow())
	cb.Failure()
	cb.Failure()
	assert.True(t, cb.Allow())
	cb.Failure()
	assert.False(t, cb.Allow())
	assert.Contains(t, cb.Err().Error(), "store")
}

func TestCircuitBreakerHalfOpensAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker("store", 1, 5*time.Millisecond)
	cb.Failure()
	require.False(t, cb.Allow())

	time.Sleep(10 * time.Millisecond)
	// One probe passes, its success closes the breaker again.
	require.True(t, cb.Allow())
	cb.Success()
	assert.True(t, cb.Allow())
}

func TestCircuitBreakerSuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker("store", 2, time.Hour)
	cb.Failure()
	cb.Success()
	cb.Failure()
	assert.True(t, cb.Allow())
}
