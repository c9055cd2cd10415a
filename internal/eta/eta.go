// Package eta estimates driver arrival times. The great-circle
// estimator is the default; an external routing provider (OSRM) can
// refine it and is consulted at low frequency behind a TTL cache.
package eta

import (
	"fmt"
	"sync"
	"time"

	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/geocell"
	"github.com/An1ketGupta/Ride-sharing-app-sub000/internal/models"
)

// Client is the routing-provider surface used to refine estimates.
type Client interface {
	EstimateSeconds(from, to models.Coord) (float64, error)
}

// EstimateMinutes is the great-circle fallback: distance over an
// assumed average speed, floored at one minute.
func EstimateMinutes(from, to models.Coord, avgSpeedKmh float64) float64 {
	if avgSpeedKmh <= 0 {
		avgSpeedKmh = 30
	}
	d := geocell.HaversineKm(from.Lat, from.Lon, to.Lat, to.Lon)
	m := d / avgSpeedKmh * 60
	if m < 1 {
		m = 1
	}
	return m
}

// Cache is a small TTL cache so the routing provider stays
// low-frequency.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f->%.6f,%.6f", a.Lat, a.Lon, b.Lat, b.Lon)
}

func (c *Cache) Get(a, b models.Coord) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

func (c *Cache) Set(a, b models.Coord, v float64) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}
