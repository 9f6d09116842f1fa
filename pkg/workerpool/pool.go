// Package workerpool provides a bounded worker pool, used by the
// per-ticker download loop, and a CPU-based default worker count (the
// portfolio engine and GA run their own errgroups). A pool of size 1 is a valid
// degenerate case that yields identical results modulo RNG draw order.
package workerpool

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/sync/errgroup"
)

// DefaultSize returns a sensible default worker count based on the number
// of logical CPUs available, capped to avoid oversubscription on shared
// hosts. Falls back to 4 if CPU counting fails.
func DefaultSize() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return 4
	}
	if n > 32 {
		return 32
	}
	return n
}

// Run executes fn once per item in items using at most size concurrent
// workers, returning the first error encountered (others are still
// allowed to finish, following errgroup semantics). size <= 0 means
// unbounded (one goroutine per item); size == 1 runs sequentially.
func Run[T any](ctx context.Context, size int, items []T, fn func(context.Context, T) error) error {
	g, ctx := errgroup.WithContext(ctx)
	if size > 0 {
		g.SetLimit(size)
	}
	for _, item := range items {
		item := item
		g.Go(func() error {
			return fn(ctx, item)
		})
	}
	return g.Wait()
}
