// Package executor fans a step's execution units out across a bounded pool
// of goroutines using golang.org/x/sync/errgroup, collecting per-unit
// results into an order-preserving buffer keyed by unit index. A step is a
// linear chain over a fixed unit set, not a DAG, so the executor's only job
// per step is: run every unit's work function with at most concurrency in
// flight, preserve source order in the output, and decide whether a single
// unit's failure aborts the rest.
package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/weftrun/weft/internal/errs"
)

// Result is one unit's outcome, always present at its source index whether
// the unit succeeded or failed.
type Result struct {
	UnitIndex int
	Value     any
	Err       error
}

// Options configures a Run.
type Options struct {
	// Concurrency bounds how many units may be in flight at once. Values
	// <= 0 are treated as 1.
	Concurrency int
	// ContinueOnError, when true, lets every unit run to completion even
	// if some fail; failed units surface their error in Result.Err.
	// When false, the first unit error cancels the context passed to
	// every still-running and not-yet-started work function.
	ContinueOnError bool
}

// Work is a single unit's processing function. It must respect ctx
// cancellation: once ContinueOnError is false and one unit fails, ctx is
// cancelled for everyone else.
type Work func(ctx context.Context, unitIndex int) (any, error)

// Run executes one Work call per index in [0, n), honoring Concurrency and
// ContinueOnError, and returns results ordered by unit index regardless of
// completion order. It satisfies the concurrency-cap invariant: at any
// instant at most opts.Concurrency calls to work are executing.
func Run(ctx context.Context, n int, opts Options, work Work) ([]Result, error) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	results := make([]Result, n)
	var mu sync.Mutex
	var firstErr error

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)

	for i := 0; i < n; i++ {
		i := i
		group.Go(func() error {
			runCtx := gctx
			if opts.ContinueOnError {
				// Continuing units must not be cancelled just
				// because a sibling failed; only the caller's
				// ctx can stop them.
				runCtx = ctx
			}
			value, err := work(runCtx, i)
			results[i] = Result{UnitIndex: i, Value: value, Err: err}
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				if !opts.ContinueOnError {
					return err
				}
			}
			return nil
		})
	}

	groupErr := group.Wait()
	if opts.ContinueOnError {
		return results, nil
	}
	if groupErr != nil {
		return results, errs.Wrap(errs.Processing, firstErr, "unit execution")
	}
	return results, nil
}
