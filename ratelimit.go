package main

import (
	"sync"
	"time"
)

// rateLimiter counts announces per client address in fixed windows.
type rateLimiter struct {
	entries map[string]*rateLimitEntry
	window  time.Duration
	burst   int // 0 disables limiting
	mu      sync.Mutex
}

type rateLimitEntry struct {
	windowStart time.Time
	count       int
}

func newRateLimiter(burst int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		entries: make(map[string]*rateLimitEntry),
		window:  window,
		burst:   burst,
	}
}

// allow records one request from key at now. Over the burst it returns false and
// the time left until the key's window resets.
func (rl *rateLimiter) allow(key string, now time.Time) (bool, time.Duration) {
	if rl.burst <= 0 {
		return true, 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.entries[key]
	if !ok || now.Sub(e.windowStart) >= rl.window {
		rl.entries[key] = &rateLimitEntry{windowStart: now, count: 1}
		return true, 0
	}
	if e.count >= rl.burst {
		return false, rl.window - now.Sub(e.windowStart)
	}
	e.count++
	return true, 0
}

// prune forgets keys whose window started at or before deadline.
func (rl *rateLimiter) prune(deadline time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	n := 0
	for key, e := range rl.entries {
		if !e.windowStart.After(deadline) {
			delete(rl.entries, key)
			n++
		}
	}
	return n
}
