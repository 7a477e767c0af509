// Package parallel provides bounded fan-out helpers for independent,
// high-latency calls (per-venue ticker, balance and fee fetches). Results come
// back in input order; per-item failures are recorded, not propagated, so one
// flaky venue cannot abort a refresh round.
package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Result pairs one item's output with its error, at the item's input position.
type Result[R any] struct {
	Value R
	Err   error
}

// Map runs fn over items with at most workers concurrent goroutines and
// returns the results in input order.
func Map[T, R any](items []T, workers int, fn func(T) (R, error)) []Result[R] {
	return MapCtx(context.Background(), items, workers, func(_ context.Context, item T) (R, error) {
		return fn(item)
	})
}

// MapCtx is the cancellable variant: once ctx is cancelled, no new items are
// started and their slots carry ctx.Err(). In-flight calls receive ctx and are
// expected to return early on their own.
func MapCtx[T, R any](ctx context.Context, items []T, workers int, fn func(context.Context, T) (R, error)) []Result[R] {
	out := make([]Result[R], len(items))
	if len(items) == 0 {
		return out
	}
	if workers <= 0 {
		workers = 1
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				out[i].Err = err
				return nil
			}
			out[i].Value, out[i].Err = fn(ctx, items[i])
			return nil
		})
	}
	_ = g.Wait()
	return out
}
