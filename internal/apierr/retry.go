package apierr

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig holds retry parameters for exponential backoff.
//
// Invalid values are normalized:
//   - MaxRetries < 0 becomes 0 (single attempt)
//   - BaseDelay <= 0 becomes 1ms
//   - Multiplier < 1 becomes 2
//   - MaxDelay <= 0 becomes unbounded
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration

	// OnRetry, when set, is called before each wait with the attempt that just failed (1-based).
	OnRetry func(attempt int, delay time.Duration, err error)
}

func (c *RetryConfig) normalize() {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Millisecond
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2
	}
}

// Attempts is the total number of calls RetryWithBackoff makes when every call fails.
func (c RetryConfig) Attempts() int {
	c.normalize()
	return c.MaxRetries + 1
}

func (c RetryConfig) next(delay time.Duration) time.Duration {
	next := time.Duration(float64(delay) * c.Multiplier)
	if c.MaxDelay > 0 && next > c.MaxDelay {
		return c.MaxDelay
	}
	return next
}

// RetryWithBackoff calls fn up to MaxRetries+1 times, waiting BaseDelay, BaseDelay*Multiplier, ...
// between calls. It stops early when shouldRetry returns false or ctx is done.
//
// The returned int is the number of attempts made.
func RetryWithBackoff[T any](
	ctx context.Context,
	cfg RetryConfig,
	fn func(ctx context.Context, attempt int) (T, error),
	shouldRetry func(error) bool,
) (T, int, error) {
	cfg.normalize()
	var zero T
	var lastErr error
	delay := cfg.BaseDelay
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}

	for attempt := 1; attempt <= cfg.MaxRetries+1; attempt++ {
		if attempt > 1 {
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt-1, delay, lastErr)
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, attempt - 1, ctx.Err()
			case <-timer.C:
			}
			delay = cfg.next(delay)
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			return result, attempt, nil
		}

		lastErr = err
		if !shouldRetry(lastErr) {
			return zero, attempt, lastErr
		}
	}

	return zero, cfg.MaxRetries + 1, fmt.Errorf("max retries (%d) exceeded: %w", cfg.MaxRetries, lastErr)
}
