// Package retry implements exponential backoff with jitter and a
// tokens-per-minute pacer shared across calls to a single provider. It is
// the engine's retry/rate-control boundary for inference (spec §4.2): the
// dispatcher's provider calls funnel through Call.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/weftrun/weft/internal/errs"
	"github.com/weftrun/weft/internal/telemetry"
)

// Policy configures the backoff loop. Sleep between attempts is
// min(Cap, InitialDelay*Multiplier^k) * (1 + uniform(-Jitter, Jitter)).
type Policy struct {
	InitialDelay time.Duration
	Multiplier   float64
	Jitter       float64
	Cap          time.Duration
	// MaxElapsed bounds total wall-clock time spent across all attempts,
	// including sleeps. Zero means unbounded.
	MaxElapsed time.Duration
}

// DefaultPolicy returns a conservative default: 250ms initial delay
// doubling up to a 30s cap, 20% jitter, and a two minute overall deadline
// that is the only bound on the number of attempts.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       0.2,
		Cap:          30 * time.Second,
		MaxElapsed:   2 * time.Minute,
	}
}

// Classifier decides whether an error returned by the wrapped function is
// transient and therefore worth retrying. Provider adapters supply a
// classifier that recognises 429/5xx/throttling/temporary-connection
// failures; non-transient failures surface unchanged on the first attempt.
type Classifier func(error) bool

// Call invokes fn, retrying on transient failures per policy. It emits four
// counters into reg under label: attempts, failures, successes, and
// cumulative sleep. A MaxElapsed deadline terminates retries with an
// InferenceError("deadline_exceeded"); non-transient failures and context
// cancellation surface unchanged. The returned int is the number of
// attempts made during this call (1 when it succeeded or failed on the
// first try), independent of reg's cumulative per-label counters.
func Call[T any](ctx context.Context, reg *telemetry.Registry, label string, policy Policy, transient Classifier, fn func(context.Context) (T, error)) (T, int, error) {
	start := time.Now()
	var zero T

	for attempt := 0; ; attempt++ {
		if reg != nil {
			reg.IncAttempt(label)
		}

		result, err := fn(ctx)
		if err == nil {
			if reg != nil {
				reg.IncSuccess(label)
			}
			return result, attempt + 1, nil
		}

		if reg != nil {
			reg.IncFailure(label)
		}

		if ctx.Err() != nil {
			return zero, attempt + 1, ctx.Err()
		}
		if transient != nil && !transient(err) {
			return zero, attempt + 1, err
		}

		if policy.MaxElapsed > 0 && time.Since(start) >= policy.MaxElapsed {
			return zero, attempt + 1, errs.Wrap(errs.Inference, err, "deadline_exceeded")
		}

		sleep := backoffDelay(policy, attempt)
		if policy.MaxElapsed > 0 {
			if remaining := policy.MaxElapsed - time.Since(start); remaining < sleep {
				sleep = remaining
			}
		}
		if sleep < 0 {
			sleep = 0
		}
		if reg != nil {
			reg.AddSleep(label, sleep.Microseconds())
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, attempt + 1, ctx.Err()
		case <-timer.C:
		}
	}
}

// backoffDelay computes min(cap, d0*m^k)*(1+uniform(-j,j)) for attempt k.
func backoffDelay(p Policy, attempt int) time.Duration {
	d0 := p.InitialDelay
	if d0 <= 0 {
		d0 = 100 * time.Millisecond
	}
	m := p.Multiplier
	if m <= 0 {
		m = 2.0
	}
	base := float64(d0)
	for i := 0; i < attempt; i++ {
		base *= m
	}
	if p.Cap > 0 && base > float64(p.Cap) {
		base = float64(p.Cap)
	}
	if p.Jitter > 0 {
		j := p.Jitter
		if j > 1 {
			j = 1
		}
		factor := 1 + (rand.Float64()*2-1)*j //nolint:gosec // jitter does not need crypto rand
		base *= factor
	}
	if base < 0 {
		base = 0
	}
	return time.Duration(base)
}
