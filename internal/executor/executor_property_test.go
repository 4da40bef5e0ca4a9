package executor_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/weftrun/weft/internal/executor"
)

// TestRunPreservesOrderProperty verifies invariant 2 (order preservation):
// regardless of unit count or concurrency bound, results come back indexed
// by source order.
func TestRunPreservesOrderProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("results[i].UnitIndex == i for every i", prop.ForAll(
		func(n, concurrency int) bool {
			results, err := executor.Run(context.Background(), n, executor.Options{Concurrency: concurrency}, func(ctx context.Context, i int) (any, error) {
				return n - i, nil
			})
			if err != nil {
				return false
			}
			if len(results) != n {
				return false
			}
			for i, r := range results {
				if r.UnitIndex != i {
					return false
				}
				if r.Value.(int) != n-i {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 50),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}

// TestRunRespectsConcurrencyCapProperty verifies invariant 9 (concurrency
// cap): at no instant are more than Concurrency units executing their work
// function concurrently.
func TestRunRespectsConcurrencyCapProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30

	properties := gopter.NewProperties(parameters)

	properties.Property("in-flight count never exceeds concurrency", prop.ForAll(
		func(n, concurrency int) bool {
			var inFlight, maxInFlight int32
			_, err := executor.Run(context.Background(), n, executor.Options{Concurrency: concurrency}, func(ctx context.Context, i int) (any, error) {
				cur := atomic.AddInt32(&inFlight, 1)
				defer atomic.AddInt32(&inFlight, -1)
				for {
					observed := atomic.LoadInt32(&maxInFlight)
					if cur <= observed || atomic.CompareAndSwapInt32(&maxInFlight, observed, cur) {
						break
					}
				}
				return nil, nil
			})
			if err != nil {
				return false
			}
			return atomic.LoadInt32(&maxInFlight) <= int32(concurrency)
		},
		gen.IntRange(0, 40),
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}
