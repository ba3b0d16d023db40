package server

import (
	"sync"
	"time"
)

// rateLimiter is a token bucket throttling inbound frames per connection so
// one chatty client cannot starve the routing engine. A bucket holds at most
// capacity tokens and refills continuously at capacity tokens per interval.
type rateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	perSec   float64
	last     time.Time
}

func newRateLimiter(capacity int, interval time.Duration) *rateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &rateLimiter{
		tokens:   float64(capacity),
		capacity: float64(capacity),
		perSec:   float64(capacity) / interval.Seconds(),
		last:     time.Now(),
	}
}

// allow consumes one token if available, refilling for the time elapsed
// since the previous call.
func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if elapsed := now.Sub(rl.last).Seconds(); elapsed > 0 {
		rl.tokens = min(rl.tokens+elapsed*rl.perSec, rl.capacity)
	}
	rl.last = now

	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}
