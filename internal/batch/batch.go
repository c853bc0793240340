// Package batch runs indexed tasks in fixed-size concurrent batches with a pause between batches.
// It exists to keep vendor request rates under per-minute limits.
package batch

import (
	"context"
	"fmt"
	"time"

	"ai-things/audio-go/internal/utils"
	"golang.org/x/sync/errgroup"
)

// Options controls batch size and the pause between consecutive batches.
type Options struct {
	Size  int
	Delay time.Duration

	// OnBatch, when set, is called before each batch starts with the batch's [start, end) range.
	OnBatch func(batch, start, end int)
}

// Run calls fn for every index in [0, n). Tasks inside a batch run concurrently; batches run
// strictly in order. The returned slice is indexed by task position regardless of completion
// order.
//
// The first error cancels the remaining tasks of its batch and stops the run; later batches
// never start.
func Run[T any](ctx context.Context, n int, opts Options, fn func(ctx context.Context, index int) (T, error)) ([]T, error) {
	if n <= 0 {
		return nil, nil
	}
	size := opts.Size
	if size <= 0 {
		size = n
	}

	results := make([]T, n)
	batchNo := 0
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		if start > 0 && opts.Delay > 0 {
			utils.Debug("batch pause", "next_batch", batchNo, "delay", opts.Delay.String())
			if err := sleep(ctx, opts.Delay); err != nil {
				return nil, err
			}
		}
		if opts.OnBatch != nil {
			opts.OnBatch(batchNo, start, end)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				out, err := fn(gctx, i)
				if err != nil {
					return err
				}
				results[i] = out
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("batch %d: %w", batchNo, err)
		}
		batchNo++
	}
	return results, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
