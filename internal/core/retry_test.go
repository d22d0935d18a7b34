package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryConfig_SucceedsAfterTransientFailures(t *testing.T) {
	rc := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := rc.Do(context.Background(), "flaky", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryConfig_GivesUp(t *testing.T) {
	rc := RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond}
	boom := errors.New("boom")

	calls := 0
	err := rc.Do(context.Background(), "write", func(context.Context) error {
		calls++
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
	assert.Contains(t, err.Error(), "write failed after 2 attempts")
}

func TestRetryConfig_StopsOnCancel(t *testing.T) {
	rc := RetryConfig{MaxAttempts: 5, BaseDelay: time.Hour}
	ctx, cancel := context.WithCancelCause(context.Background())

	calls := 0
	err := rc.Do(ctx, "write", func(context.Context) error {
		calls++
		cancel(ErrCancelled)
		return errors.New("boom")
	})

	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 1, calls)
}

func TestRetryConfig_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = RetryConfig{}.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return errors.New("x")
	})
	assert.Equal(t, 1, calls)
}
