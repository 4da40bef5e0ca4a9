package telemetry

import (
	"sync"
	"sync/atomic"
)

// Counters is the set of atomic counters tracked per label by Registry.
// Labels are logical: step id, provider name, or mode.
type Counters struct {
	attempts  atomic.Int64
	failures  atomic.Int64
	successes atomic.Int64
	// sleepMicros accumulates cumulative sleep time spent backing off, in
	// microseconds, so it can be read without a lock.
	sleepMicros atomic.Int64
}

// Snapshot is a point-in-time read of a Counters value.
type Snapshot struct {
	Attempts    int64
	Failures    int64
	Successes   int64
	SleepMicros int64
}

// Registry aggregates Counters by label. It is the single process-wide
// telemetry singleton permitted by the engine's concurrency model (spec §9):
// every operation is a lock-free atomic increment or a Load on a sync.Map
// entry, never a registry-wide lock.
type Registry struct {
	labels sync.Map // string -> *Counters
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// IncAttempt records a call attempt for label.
func (r *Registry) IncAttempt(label string) { r.counters(label).attempts.Add(1) }

// IncFailure records a call failure for label.
func (r *Registry) IncFailure(label string) { r.counters(label).failures.Add(1) }

// IncSuccess records a call success for label.
func (r *Registry) IncSuccess(label string) { r.counters(label).successes.Add(1) }

// AddSleep accumulates backoff sleep time (microseconds) for label.
func (r *Registry) AddSleep(label string, micros int64) {
	r.counters(label).sleepMicros.Add(micros)
}

// Snapshot returns a consistent-enough read of the counters for label. There
// is no read-modify-write ordering guarantee across the four fields; callers
// use this for reporting, not for decisions that require strict atomicity
// across fields.
func (r *Registry) Snapshot(label string) Snapshot {
	c := r.counters(label)
	return Snapshot{
		Attempts:    c.attempts.Load(),
		Failures:    c.failures.Load(),
		Successes:   c.successes.Load(),
		SleepMicros: c.sleepMicros.Load(),
	}
}

func (r *Registry) counters(label string) *Counters {
	v, _ := r.labels.LoadOrStore(label, &Counters{})
	return v.(*Counters)
}
