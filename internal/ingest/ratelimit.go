package ingest

import (
	"sync"
	"time"
)

// RateLimiter enforces a minimum interval between location updates
// per driver. Stale entries are pruned opportunistically so the map
// does not grow without bound.
type RateLimiter struct {
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	last      map[string]time.Time
	lastSweep time.Time
}

// NewRateLimiter builds a limiter; interval <= 0 defaults to 2s.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &RateLimiter{
		interval: interval,
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
}

// Allow reports whether the driver may publish now, and records the
// attempt when it may.
func (r *RateLimiter) Allow(driverID string) bool {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.last[driverID]; ok && now.Sub(prev) < r.interval {
		return false
	}
	r.last[driverID] = now
	r.sweepLocked(now)
	return true
}

// sweepLocked drops entries idle for 100 intervals, at most once per
// minute.
func (r *RateLimiter) sweepLocked(now time.Time) {
	if now.Sub(r.lastSweep) < time.Minute {
		return
	}
	r.lastSweep = now
	cutoff := now.Add(-100 * r.interval)
	for id, ts := range r.last {
		if ts.Before(cutoff) {
			delete(r.last, id)
		}
	}
}
