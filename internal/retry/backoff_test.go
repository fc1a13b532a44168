package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(maxAttempts int) BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  maxAttempts,
		Jitter:       false,
	}
}

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	b := NewBackoff(fastConfig(3))

	calls := 0
	err := b.RetryWithPredicate(context.Background(), func() error {
		calls++
		return nil
	}, func(error) bool { return true })

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	b := NewBackoff(fastConfig(3))

	calls := 0
	err := b.RetryWithPredicate(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, func(error) bool { return true })

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	b := NewBackoff(fastConfig(3))

	transient := errors.New("still down")
	calls := 0
	err := b.RetryWithPredicate(context.Background(), func() error {
		calls++
		return transient
	}, func(error) bool { return true })

	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	b := NewBackoff(fastConfig(5))

	permanent := errors.New("invalid recipient")
	calls := 0
	err := b.RetryWithPredicate(context.Background(), func() error {
		calls++
		return permanent
	}, func(error) bool { return false })

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls, "permanent errors get exactly one attempt")
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: time.Hour,
		MaxDelay:     time.Hour,
		Multiplier:   2.0,
		MaxAttempts:  3,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := b.RetryWithPredicate(ctx, func() error {
		return errors.New("transient")
	}, func(error) bool { return true })

	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetNextDelayDoublesAndCaps(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: 2 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       false,
	})

	assert.Equal(t, 2*time.Second, b.GetNextDelay(1))
	assert.Equal(t, 4*time.Second, b.GetNextDelay(2))
	assert.Equal(t, 8*time.Second, b.GetNextDelay(3))
	assert.Equal(t, 10*time.Second, b.GetNextDelay(4), "capped at max delay")
}

func TestGetNextDelayJitterStaysInBounds(t *testing.T) {
	cfg := DefaultBackoffConfig()
	b := NewBackoff(cfg)

	for i := 0; i < 100; i++ {
		d := b.GetNextDelay(2)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, cfg.MaxDelay)
	}
}
