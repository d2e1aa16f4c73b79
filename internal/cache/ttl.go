// Package cache provides a small in-process cache with per-entry expiry.
package cache

import (
	"sync"
	"time"
)

// Clock returns the current time. Tests inject a fake.
type Clock func() time.Time

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// TTL is a concurrency-safe map whose entries expire ttl after they were
// stored. Expired entries are evicted on read, and writes sweep the whole
// map at most once per ttl, so keys that are never read again do not
// accumulate.
type TTL[K comparable, V any] struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       Clock
	items     map[K]entry[V]
	lastSweep time.Time
}

// NewTTL creates a cache. A nil clock uses time.Now.
func NewTTL[K comparable, V any](ttl time.Duration, now Clock) *TTL[K, V] {
	if now == nil {
		now = time.Now
	}
	return &TTL[K, V]{ttl: ttl, now: now, items: make(map[K]entry[V]), lastSweep: now()}
}

// Get returns the value for key when it is younger than the TTL.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.expired(e, c.now()) {
		delete(c.items, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, resetting its age.
func (c *TTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.sweep(now)
	c.items[key] = entry[V]{value: value, storedAt: now}
}

// SetIfAbsent stores value under key unless a live entry already exists.
// It reports whether value was stored.
func (c *TTL[K, V]) SetIfAbsent(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.sweep(now)
	if e, ok := c.items[key]; ok && !c.expired(e, now) {
		return false
	}
	c.items[key] = entry[V]{value: value, storedAt: now}
	return true
}

func (c *TTL[K, V]) expired(e entry[V], now time.Time) bool {
	return now.Sub(e.storedAt) >= c.ttl
}

// sweep drops expired entries once at least ttl has passed since the last
// sweep. Callers hold mu.
func (c *TTL[K, V]) sweep(now time.Time) {
	if now.Sub(c.lastSweep) < c.ttl {
		return
	}
	for k, e := range c.items {
		if c.expired(e, now) {
			delete(c.items, k)
		}
	}
	c.lastSweep = now
}

// Delete drops key if present.
func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Len reports the number of stored entries, including expired ones not
// yet evicted.
func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
