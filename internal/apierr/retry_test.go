package apierr_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"ai-things/audio-go/internal/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = fmt.Errorf("vendor 500: %w", apierr.ErrUpstream)

func alwaysRetry(error) bool { return true }

func TestRetryWithBackoff_AttemptsExactlyMaxRetriesPlusOne(t *testing.T) {
	t.Parallel()

	for _, maxRetries := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("max_retries_%d", maxRetries), func(t *testing.T) {
			t.Parallel()
			calls := 0
			var delays []time.Duration
			cfg := apierr.RetryConfig{
				MaxRetries: maxRetries,
				BaseDelay:  time.Millisecond,
				Multiplier: 2,
				OnRetry: func(_ int, d time.Duration, _ error) {
					delays = append(delays, d)
				},
			}

			_, attempts, err := apierr.RetryWithBackoff(context.Background(), cfg,
				func(context.Context, int) (string, error) {
					calls++
					return "", errTransient
				}, alwaysRetry)

			require.Error(t, err)
			assert.ErrorIs(t, err, apierr.ErrUpstream)
			assert.Equal(t, maxRetries+1, calls)
			assert.Equal(t, maxRetries+1, attempts)
			assert.Equal(t, maxRetries+1, cfg.Attempts())
			require.Len(t, delays, maxRetries)
			for i := 1; i < len(delays); i++ {
				assert.GreaterOrEqual(t, delays[i], delays[i-1])
			}
		})
	}
}

func TestRetryWithBackoff_DelaysGrowByMultiplierAndCap(t *testing.T) {
	t.Parallel()

	var delays []time.Duration
	cfg := apierr.RetryConfig{
		MaxRetries: 4,
		BaseDelay:  time.Millisecond,
		Multiplier: 3,
		MaxDelay:   5 * time.Millisecond,
		OnRetry:    func(_ int, d time.Duration, _ error) { delays = append(delays, d) },
	}
	_, _, _ = apierr.RetryWithBackoff(context.Background(), cfg,
		func(context.Context, int) (int, error) { return 0, errTransient }, alwaysRetry)

	assert.Equal(t, []time.Duration{
		time.Millisecond,
		3 * time.Millisecond,
		5 * time.Millisecond,
		5 * time.Millisecond,
	}, delays)
}

func TestRetryWithBackoff_SucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	cfg := apierr.RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond}
	got, attempts, err := apierr.RetryWithBackoff(context.Background(), cfg,
		func(_ context.Context, attempt int) (string, error) {
			if attempt < 3 {
				return "", errTransient
			}
			return "ok", nil
		}, alwaysRetry)

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoff_StopsOnNonRetryable(t *testing.T) {
	t.Parallel()

	calls := 0
	_, attempts, err := apierr.RetryWithBackoff(context.Background(),
		apierr.RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond},
		func(context.Context, int) (int, error) {
			calls++
			return 0, apierr.ErrNoAvailableKey
		}, apierr.IsRetryable)

	assert.ErrorIs(t, err, apierr.ErrNoAvailableKey)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithBackoff_ContextCancelledDuringWait(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := apierr.RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Hour,
		OnRetry:    func(int, time.Duration, error) { cancel() },
	}
	_, attempts, err := apierr.RetryWithBackoff(ctx, cfg,
		func(context.Context, int) (int, error) { return 0, errTransient }, alwaysRetry)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestStatusErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status    int
		sentinel  error
		retryable bool
	}{
		{http.StatusUnauthorized, apierr.ErrAuthFailed, true},
		{http.StatusForbidden, apierr.ErrAuthFailed, true},
		{http.StatusTooManyRequests, apierr.ErrRateLimit, true},
		{http.StatusInternalServerError, apierr.ErrUpstream, true},
		{http.StatusBadRequest, apierr.ErrUpstream, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()
			err := fmt.Errorf("synthesize: %w", &apierr.StatusError{Provider: "wellsaid", StatusCode: tt.status})
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.retryable, apierr.IsRetryable(err))
		})
	}
}

func TestIsRetryable_LocalFailures(t *testing.T) {
	t.Parallel()

	assert.False(t, apierr.IsRetryable(nil))
	assert.False(t, apierr.IsRetryable(apierr.Validation("Text is required for audio generation")))
	assert.False(t, apierr.IsRetryable(fmt.Errorf("x: %w", apierr.ErrMissingFile)))
	assert.False(t, apierr.IsRetryable(fmt.Errorf("x: %w", apierr.ErrUnrecognizedResponse)))
	assert.False(t, apierr.IsRetryable(errors.New("disk full")))
	assert.True(t, apierr.IsRetryable(&apierr.ChunkError{Index: 1, Attempts: 4, Err: errTransient}))
}

func TestMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Session ID is required for chunk management",
		apierr.Message(apierr.Validation("Session ID is required for chunk management")))

	chunkErr := fmt.Errorf("narrate: %w", &apierr.ChunkError{Index: 1, Attempts: 4, Err: errTransient})
	assert.Equal(t, "chunk 1 failed after 4 attempt(s): vendor 500: upstream error", apierr.Message(chunkErr))
}
