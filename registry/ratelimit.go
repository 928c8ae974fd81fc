package registry

import (
	"sync"
	"time"
)

// bucket is a continuously refilling token bucket. A tool rated "2/s" earns
// one token every 500ms up to a burst of 2.
type bucket struct {
	capacity float64
	perSec   float64
	tokens   float64
	last     time.Time
}

// rateLimiter keys buckets by (userID, tool) so throttling stays correct
// when many runs for different users execute concurrently in one process.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{buckets: make(map[string]*bucket)}
}

// allow consumes one token from the user's bucket for the tool. Tools with
// no rate spec are never limited.
func (l *rateLimiter) allow(userID, tool string, capacity int, window time.Duration, now time.Time) bool {
	if capacity <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := userID + "\x00" + tool
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			capacity: float64(capacity),
			perSec:   float64(capacity) / window.Seconds(),
			tokens:   float64(capacity),
			last:     now,
		}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.perSec
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
