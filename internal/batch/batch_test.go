package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_ResultsIndexedByPositionNotCompletion(t *testing.T) {
	t.Parallel()

	// Later indices finish first inside every batch.
	const n = 7
	got, err := Run(context.Background(), n, Options{Size: 3}, func(_ context.Context, i int) (int, error) {
		time.Sleep(time.Duration(n-i) * time.Millisecond)
		return i * 10, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{0, 10, 20, 30, 40, 50, 60}, got)
}

func TestRun_BatchesAreSequential(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var inFlight, maxInFlight int
	var ranges [][2]int

	_, err := Run(context.Background(), 8, Options{
		Size: 3,
		OnBatch: func(_, start, end int) {
			mu.Lock()
			ranges = append(ranges, [2]int{start, end})
			assert.Zero(t, inFlight, "batch started while previous tasks were running")
			mu.Unlock()
		},
	}, func(_ context.Context, i int) (struct{}, error) {
		mu.Lock()
		inFlight++
		maxInFlight = max(maxInFlight, inFlight)
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return struct{}{}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, [][2]int{{0, 3}, {3, 6}, {6, 8}}, ranges)
	assert.LessOrEqual(t, maxInFlight, 3)
}

func TestRun_DelayOnlyBetweenBatches(t *testing.T) {
	t.Parallel()

	var starts []time.Time
	_, err := Run(context.Background(), 4, Options{
		Size:    2,
		Delay:   30 * time.Millisecond,
		OnBatch: func(int, int, int) { starts = append(starts, time.Now()) },
	}, func(context.Context, int) (int, error) { return 0, nil })

	require.NoError(t, err)
	require.Len(t, starts, 2)
	assert.GreaterOrEqual(t, starts[1].Sub(starts[0]), 30*time.Millisecond)
}

func TestRun_FailsFastAndSkipsLaterBatches(t *testing.T) {
	t.Parallel()

	boom := errors.New("chunk 1 exhausted retries")
	var calls atomic.Int32
	got, err := Run(context.Background(), 6, Options{Size: 2}, func(ctx context.Context, i int) (int, error) {
		calls.Add(1)
		if i == 1 {
			return 0, boom
		}
		if i == 0 {
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return i, nil
	})

	assert.ErrorIs(t, err, boom)
	assert.Nil(t, got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRun_ContextCancelledDuringDelay(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	_, err := Run(ctx, 4, Options{Size: 2, Delay: time.Hour}, func(context.Context, int) (int, error) {
		cancel()
		return 0, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_Empty(t *testing.T) {
	t.Parallel()

	got, err := Run(context.Background(), 0, Options{Size: 5}, func(context.Context, int) (int, error) {
		t.Fatal("fn must not be called")
		return 0, nil
	})
	require.NoError(t, err)
	assert.Nil(t, got)
}
