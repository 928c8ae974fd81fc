package registry

import (
	"sync"
	"time"
)

// breakerState is one of Closed, Open, HalfOpen.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// breaker is a per-tool circuit breaker. Closed counts consecutive
// failures; at the threshold it opens and rejects calls until the reset
// window elapses, then allows exactly one half-open probe.
type breaker struct {
	mu        sync.Mutex
	state     breakerState
	failures  int
	openedAt  time.Time
	probing   bool
	threshold int
	reset     time.Duration
}

// breakerRegistry keys breakers by tool name.
type breakerRegistry struct {
	mu        sync.Mutex
	breakers  map[string]*breaker
	threshold int
	reset     time.Duration
}

func newBreakerRegistry(threshold int, reset time.Duration) *breakerRegistry {
	return &breakerRegistry{
		breakers:  make(map[string]*breaker),
		threshold: threshold,
		reset:     reset,
	}
}

func (r *breakerRegistry) forTool(tool string) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[tool]
	if !ok {
		b = &breaker{threshold: r.threshold, reset: r.reset}
		r.breakers[tool] = b
	}
	return b
}

// acquire reports whether a call may proceed. In the half-open state only
// one probe is admitted at a time.
func (b *breaker) acquire(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if now.Sub(b.openedAt) < b.reset {
			return false
		}
		b.state = breakerHalfOpen
		b.probing = true
		return true
	case breakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// record reports the outcome of an admitted call. A half-open probe success
// fully closes the breaker; a probe failure reopens it with a fresh timer.
func (b *breaker) record(now time.Time, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.probing = false
		if success {
			b.state = breakerClosed
			b.failures = 0
		} else {
			b.state = breakerOpen
			b.openedAt = now
		}
		return
	}

	if success {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.state = breakerOpen
		b.openedAt = now
	}
}
