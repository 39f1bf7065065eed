// Package batch runs deferred units of work in fixed-size groups: every
// operation in a group is started together and the next group is not
// admitted until the whole group has settled. The group size bounds peak
// file handles, browser pages, and encode memory; it is cooperative
// throttling, not a correctness primitive.
package batch

import (
	"context"
	"fmt"
	"sync"
)

// Proc is one deferred unit of work.
type Proc func(ctx context.Context) error

// Result is the settled outcome of one Proc, positionally matching the
// input slice.
type Result struct {
	Index int
	Err   error
}

// Run executes procs in batches of size. Within a batch, procs race
// with no defined completion order; across batches, batch N+1 never
// starts before batch N fully settles. Every proc settles exactly once;
// individual failures are collected, never propagated mid-batch.
//
// Run itself returns an error only when the context is cancelled
// between batches: procs of later batches are then never started and
// have no Result.
func Run(ctx context.Context, procs []Proc, size int) ([]Result, error) {
	if size < 1 {
		size = 1
	}

	results := make([]Result, 0, len(procs))
	var mu sync.Mutex

	for start := 0; start < len(procs); start += size {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("batch: cancelled after %d of %d: %w", start, len(procs), err)
		}

		end := start + size
		if end > len(procs) {
			end = len(procs)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := procs[i](ctx)
				mu.Lock()
				results = append(results, Result{Index: i, Err: err})
				mu.Unlock()
			}(i)
		}
		wg.Wait()
	}

	return results, nil
}

// Failures filters the settled results down to the failed ones.
func Failures(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, r)
		}
	}
	return failed
}

// FirstError returns the first failure in input order, or nil.
func FirstError(results []Result) error {
	idx := -1
	var err error
	for _, r := range results {
		if r.Err != nil && (idx == -1 || r.Index < idx) {
			idx = r.Index
			err = r.Err
		}
	}
	return err
}
