// Package worker provides a generic concurrent worker pool for fan-out/fan-in
// processing. Used by dataset preflight to parallelize image existence checks
// across available CPUs.
package worker

import (
	"context"
	"runtime"
	"sync"
)

// Result pairs a processed value with its original index to preserve ordering.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// Pool fans out work items to a fixed number of goroutine workers
// and collects results preserving the original input order.
type Pool[In, Out any] struct {
	concurrency int
}

// NewPool creates a worker pool with the given concurrency.
// If concurrency <= 0, defaults to runtime.NumCPU().
func NewPool[In, Out any](concurrency int) *Pool[In, Out] {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &Pool[In, Out]{concurrency: concurrency}
}

// Process distributes items across workers, applies fn to each, and returns
// results in the same order as the input slice. Errors from individual items
// are captured per-result rather than aborting the whole batch. Context
// cancellation stops dispatch; already-dispatched items finish, undispatched
// items carry ctx.Err().
func (p *Pool[In, Out]) Process(ctx context.Context, items []In, fn func(context.Context, In) (Out, error)) []Result[Out] {
	if len(items) == 0 {
		return nil
	}

	// Cap concurrency to number of items
	workers := p.concurrency
	if workers > len(items) {
		workers = len(items)
	}

	type job struct {
		index int
		item  In
	}

	jobs := make(chan job)
	results := make([]Result[Out], len(items))
	var wg sync.WaitGroup

	// Start workers
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				val, err := fn(ctx, j.item)
				results[j.index] = Result[Out]{
					Index: j.index,
					Value: val,
					Err:   err,
				}
			}
		}()
	}

	// Send jobs until done or canceled
	dispatched := 0
dispatch:
	for i, item := range items {
		select {
		case jobs <- job{index: i, item: item}:
			dispatched++
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)

	wg.Wait()

	// Undispatched items carry the cancellation error.
	for i := dispatched; i < len(items); i++ {
		results[i] = Result[Out]{Index: i, Err: ctx.Err()}
	}

	return results
}
