package resilience

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// BatchOutcome holds the result of one operation in a batch.
type BatchOutcome[T any] struct {
	Value T
	Err   error
	Stats Stats
}

// Batch runs every operation through DoValStats with at most concurrency
// in flight. A failing operation never cancels its siblings; all outcomes
// are returned in input order.
func Batch[T any](ctx context.Context, cfg RetryConfig, concurrency int, ops []func(ctx context.Context) (T, error)) []BatchOutcome[T] {
	if concurrency <= 0 {
		concurrency = 1
	}

	outcomes := make([]BatchOutcome[T], len(ops))

	g := &errgroup.Group{}
	g.SetLimit(concurrency)
	for i, op := range ops {
		g.Go(func() error {
			val, stats, err := DoValStats(ctx, cfg, op)
			outcomes[i] = BatchOutcome[T]{Value: val, Err: err, Stats: stats}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}
