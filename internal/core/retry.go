package core

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/upcguard/internal/logging"
)

// RetryConfig holds the parameters for retrying transient store failures.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration // 0 means uncapped
}

// DefaultRetryConfig retries three times starting at 100ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// Do runs fn until it succeeds, the attempts are used up, or ctx ends.
// The delay doubles after each failure.
func (r RetryConfig) Do(ctx context.Context, operation string, fn func(context.Context) error) error {
	attempts := max(r.MaxAttempts, 1)
	delay := r.BaseDelay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		logging.FromContext(ctx).Warn("retrying after failure",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", delay,
			"error", lastErr,
		)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%s interrupted after %d attempts: %w", operation, attempt, context.Cause(ctx))
		case <-t.C:
		}

		delay *= 2
		if r.MaxDelay > 0 && delay > r.MaxDelay {
			delay = r.MaxDelay
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, attempts, lastErr)
}
