package server

import (
	"sync"
	"time"
)

// maxTrackedKeys caps the number of tracked rate-limit keys to prevent
// memory exhaustion from attackers rotating source IPs.
const maxTrackedKeys = 4096

const rateLimitWindow = 60 * time.Second

type rateLimitEntry struct {
	windowStart time.Time
	count       int
}

// RateLimiter bounds webhook request rates per remote key within a sliding
// one-minute window. Safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	maxHits int // 0 = disabled
	entries map[string]*rateLimitEntry
}

// NewRateLimiter creates a limiter allowing rpm requests per key per
// minute. rpm <= 0 disables limiting.
func NewRateLimiter(rpm int) *RateLimiter {
	return &RateLimiter{maxHits: rpm, entries: make(map[string]*rateLimitEntry)}
}

// Enabled reports whether limiting is active.
func (r *RateLimiter) Enabled() bool { return r.maxHits > 0 }

// Allow returns true if the key is within its budget. Stale entries are
// pruned when the tracked-key cap is reached.
func (r *RateLimiter) Allow(key string) bool {
	if r.maxHits <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	if len(r.entries) >= maxTrackedKeys {
		for k, e := range r.entries {
			if now.Sub(e.windowStart) >= rateLimitWindow {
				delete(r.entries, k)
			}
		}
		for len(r.entries) >= maxTrackedKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[key]
	if !ok || now.Sub(e.windowStart) >= rateLimitWindow {
		r.entries[key] = &rateLimitEntry{windowStart: now, count: 1}
		return true
	}

	e.count++
	return e.count <= r.maxHits
}
