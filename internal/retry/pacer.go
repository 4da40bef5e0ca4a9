package retry

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"goa.design/pulse/rmap"
)

// Pacer is an AIMD-style adaptive token bucket sitting in front of the
// backoff loop in Call. It estimates the cost of each call via a caller
// supplied Estimator, blocks until capacity is available, and halves its
// budget on observed rate-limit signals while slowly probing back upward on
// success. Adapted from the teacher's AdaptiveRateLimiter; generalised to
// pace arbitrary cost units rather than only model token counts.
type Pacer struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentBudget float64
	minBudget     float64
	maxBudget     float64
	recoveryRate  float64

	onBackoff func(newBudget float64)
	onProbe   func(newBudget float64)
}

// clusterMap is the subset of rmap.Map used by the cluster-aware pacer.
type clusterMap interface {
	Get(key string) (string, bool)
	SetIfNotExists(ctx context.Context, key, value string) (bool, error)
	TestAndSet(ctx context.Context, key, test, value string) (string, error)
	Subscribe() <-chan rmap.EventKind
}

type rmapClusterMap struct{ m *rmap.Map }

func (m *rmapClusterMap) Get(key string) (string, bool) { return m.m.Get(key) }
func (m *rmapClusterMap) SetIfNotExists(ctx context.Context, key, value string) (bool, error) {
	return m.m.SetIfNotExists(ctx, key, value)
}
func (m *rmapClusterMap) TestAndSet(ctx context.Context, key, test, value string) (string, error) {
	return m.m.TestAndSet(ctx, key, test, value)
}
func (m *rmapClusterMap) Subscribe() <-chan rmap.EventKind { return m.m.Subscribe() }

// NewPacer constructs a process-local AIMD pacer with the given initial and
// maximum per-minute budget.
func NewPacer(initial, max float64) *Pacer {
	if initial <= 0 {
		initial = 60000
	}
	if max <= 0 || max < initial {
		max = initial
	}
	minBudget := initial * 0.1
	if minBudget < 1 {
		minBudget = 1
	}
	recovery := initial * 0.05
	if recovery < 1 {
		recovery = 1
	}
	return &Pacer{
		limiter:       rate.NewLimiter(rate.Limit(initial/60.0), int(initial)),
		currentBudget: initial,
		minBudget:     minBudget,
		maxBudget:     max,
		recoveryRate:  recovery,
	}
}

// NewClusteredPacer constructs a Pacer whose AIMD budget is coordinated
// across processes via a Pulse replicated map. When m or key is empty it
// falls back to a process-local Pacer, per spec §5's "shared counter"
// concurrency requirement for the retry/rate controller.
func NewClusteredPacer(ctx context.Context, m *rmap.Map, key string, initial, max float64) *Pacer {
	var cm clusterMap
	if m != nil {
		cm = &rmapClusterMap{m: m}
	}
	return newClusteredPacer(ctx, cm, key, initial, max)
}

func newClusteredPacer(ctx context.Context, m clusterMap, key string, initial, max float64) *Pacer {
	if key == "" || m == nil {
		return NewPacer(initial, max)
	}
	if _, ok := m.Get(key); !ok {
		if _, err := m.SetIfNotExists(ctx, key, strconv.Itoa(int(initial))); err != nil {
			return NewPacer(initial, max)
		}
	}
	shared := initial
	if cur, ok := m.Get(key); ok {
		if v, err := strconv.ParseFloat(cur, 64); err == nil && v > 0 {
			shared = v
		}
	}
	p := NewPacer(shared, max)

	floor, ceiling, step := p.minBudget, p.maxBudget, p.recoveryRate
	p.setClusterCallbacks(
		func(_ float64) { go globalBackoff(context.Background(), m, key, floor) },
		func(_ float64) { go globalProbe(context.Background(), m, key, step, ceiling) },
	)

	ch := m.Subscribe()
	go func() {
		for range ch {
			cur, ok := m.Get(key)
			if !ok {
				continue
			}
			if v, err := strconv.ParseFloat(cur, 64); err == nil && v > 0 {
				p.replaceBudget(v)
			}
		}
	}()
	return p
}

// Wait blocks until cost units of budget are available.
func (p *Pacer) Wait(ctx context.Context, cost int) error {
	if cost <= 0 {
		cost = 1
	}
	return p.limiter.WaitN(ctx, cost)
}

// Observe adjusts the pacer's budget in response to a call outcome.
// rateLimited should be true when the provider rejected the call due to rate
// limiting; false (with err == nil) probes the budget upward.
func (p *Pacer) Observe(rateLimited bool) {
	if rateLimited {
		p.backoff()
		return
	}
	p.probe()
}

func (p *Pacer) backoff() {
	p.mu.Lock()
	next := p.currentBudget * 0.5
	if next < p.minBudget {
		next = p.minBudget
	}
	if next == p.currentBudget {
		p.mu.Unlock()
		return
	}
	p.currentBudget = next
	p.limiter.SetLimit(rate.Limit(next / 60.0))
	p.limiter.SetBurst(int(next))
	cb := p.onBackoff
	p.mu.Unlock()
	if cb != nil {
		cb(next)
	}
}

func (p *Pacer) probe() {
	p.mu.Lock()
	next := p.currentBudget + p.recoveryRate
	if next > p.maxBudget {
		next = p.maxBudget
	}
	if next == p.currentBudget {
		p.mu.Unlock()
		return
	}
	p.currentBudget = next
	p.limiter.SetLimit(rate.Limit(next / 60.0))
	p.limiter.SetBurst(int(next))
	cb := p.onProbe
	p.mu.Unlock()
	if cb != nil {
		cb(next)
	}
}

func (p *Pacer) replaceBudget(budget float64) {
	p.mu.Lock()
	if budget < p.minBudget {
		budget = p.minBudget
	}
	if budget > p.maxBudget {
		budget = p.maxBudget
	}
	if budget == p.currentBudget {
		p.mu.Unlock()
		return
	}
	p.currentBudget = budget
	p.limiter.SetLimit(rate.Limit(budget / 60.0))
	p.limiter.SetBurst(int(budget))
	p.mu.Unlock()
}

func (p *Pacer) setClusterCallbacks(onBackoff, onProbe func(float64)) {
	p.mu.Lock()
	p.onBackoff = onBackoff
	p.onProbe = onProbe
	p.mu.Unlock()
}

func globalBackoff(ctx context.Context, m clusterMap, key string, floor float64) {
	const maxAttempts = 3
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for i := 0; i < maxAttempts; i++ {
		curStr, ok := m.Get(key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 {
			return
		}
		next := cur * 0.5
		if next < floor {
			next = floor
		}
		prev, err := m.TestAndSet(ctx, key, curStr, strconv.Itoa(int(next)))
		if err != nil || prev == curStr {
			return
		}
	}
}

func globalProbe(ctx context.Context, m clusterMap, key string, step, ceiling float64) {
	const maxAttempts = 3
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for i := 0; i < maxAttempts; i++ {
		curStr, ok := m.Get(key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 || cur >= ceiling {
			return
		}
		next := cur + step
		if next > ceiling {
			next = ceiling
		}
		prev, err := m.TestAndSet(ctx, key, curStr, strconv.Itoa(int(next)))
		if err != nil || prev == curStr {
			return
		}
	}
}
