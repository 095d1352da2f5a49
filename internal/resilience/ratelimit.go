package resilience

import (
	"sync"
	"time"
)

// RateLimiter caps requests per client over a sliding one-minute
// window.
type RateLimiter struct {
	mu sync.Mutex

	maxRequests int
	window      time.Duration
	requests    map[string][]time.Time

	now func() time.Time // test seam
}

// NewRateLimiter returns a limiter allowing maxRequests per client per
// minute.
func NewRateLimiter(maxRequests int) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      time.Minute,
		requests:    make(map[string][]time.Time),
		now:         time.Now,
	}
}

// Allow records the request and reports whether the client is within
// its budget. Entries outside the window are dropped on each call.
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)

	recent := rl.requests[clientID][:0]

	for _, at := range rl.requests[clientID] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}

	if len(recent) >= rl.maxRequests {
		rl.requests[clientID] = recent
		return false
	}

	rl.requests[clientID] = append(recent, now)

	return true
}
