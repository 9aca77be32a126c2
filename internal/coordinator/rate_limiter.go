package coordinator

import (
	"sync"
	"time"
)

// RateLimiter allows a fixed number of events per connection per minute window.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	clients map[string]*clientLimit
}

type clientLimit struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter creates a limiter allowing perMinute events per client.
// A non-positive perMinute disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		limit:   perMinute,
		window:  time.Minute,
		now:     time.Now,
		clients: make(map[string]*clientLimit),
	}
}

// Allow records one event for clientID and reports whether it is within the limit.
func (rl *RateLimiter) Allow(clientID string) bool {
	if rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cl, exists := rl.clients[clientID]
	if !exists || now.Sub(cl.windowStart) >= rl.window {
		rl.clients[clientID] = &clientLimit{count: 1, windowStart: now}
		return true
	}

	if cl.count >= rl.limit {
		return false
	}
	cl.count++
	return true
}

// Forget drops the state for clientID, typically on disconnect.
func (rl *RateLimiter) Forget(clientID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, clientID)
}

// Cleanup removes clients idle for five windows.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for id, cl := range rl.clients {
		if now.Sub(cl.windowStart) > 5*rl.window {
			delete(rl.clients, id)
		}
	}
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
