// Package cache provides the time-bounded key/value store every route uses to
// avoid repeating identical upstream queries. Entries are fresh while
// now - timestamp < TTL. An optional capacity evicts the oldest inserted key
// (FIFO, reads do not reorder).
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Recorder receives counter increments. *metrics.Manager satisfies it.
type Recorder interface {
	Inc(name string, delta int64)
}

type noopRecorder struct{}

func (noopRecorder) Inc(string, int64) {}

// Options configure one cache instance.
type Options struct {
	Name     string        // label used in metric names and status output
	TTL      time.Duration // freshness window, fixed for the instance
	Capacity int           // maximum entries; 0 means unbounded
	Now      func() time.Time
	Metrics  Recorder
}

// Entry is a stored value and the time it was written.
type Entry[V any] struct {
	Data      V
	Timestamp time.Time
}

// Stats is a point-in-time description of a cache for status reporting.
type Stats struct {
	Name     string `json:"name"`
	Entries  int    `json:"entries"`
	Capacity int    `json:"capacity"`
	TTL      string `json:"ttl"`
}

// Cache is safe for concurrent use.
type Cache[K comparable, V any] struct {
	opts Options

	mu      sync.Mutex
	entries map[K]Entry[V]
	order   []K // insertion order, oldest first

	sf singleflight.Group
}

// New constructs a Cache. A non-positive TTL makes every entry stale.
func New[K comparable, V any](opts Options) *Cache[K, V] {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = noopRecorder{}
	}
	if opts.Capacity < 0 {
		opts.Capacity = 0
	}
	return &Cache[K, V]{opts: opts, entries: make(map[K]Entry[V])}
}

// Name returns the configured label.
func (c *Cache[K, V]) Name() string { return c.opts.Name }

// TTL returns the freshness window.
func (c *Cache[K, V]) TTL() time.Duration { return c.opts.TTL }

// Fresh reports whether e is still inside the TTL window at now.
func (c *Cache[K, V]) Fresh(e Entry[V], now time.Time) bool {
	return now.Sub(e.Timestamp) < c.opts.TTL
}

// Entry returns the stored entry regardless of freshness.
func (c *Cache[K, V]) Entry(key K) (Entry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

// Get returns the value only when a fresh entry exists. Stale entries are left
// in place for the next write or sweep to replace.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if ok && c.Fresh(e, c.opts.Now()) {
		c.opts.Metrics.Inc(c.metric("hits"), 1)
		return e.Data, true
	}
	if ok {
		c.opts.Metrics.Inc(c.metric("stale"), 1)
	}
	c.opts.Metrics.Inc(c.metric("misses"), 1)
	var zero V
	return zero, false
}

// Set stores v under key stamped with the current time, overwriting any prior
// entry. Overwriting keeps the key's original insertion position.
func (c *Cache[K, V]) Set(key K, v V) {
	now := c.opts.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = Entry[V]{Data: v, Timestamp: now}
	for c.opts.Capacity > 0 && len(c.entries) > c.opts.Capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
		c.opts.Metrics.Inc(c.metric("evictions"), 1)
	}
}

// Delete removes key if present.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

// removeLocked must be called with mu held.
func (c *Cache[K, V]) removeLocked(key K) bool {
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of stored entries, fresh or stale.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[K]Entry[V])
	c.order = nil
	c.mu.Unlock()
}

// DeleteExpired removes entries that are stale at t and returns how many were
// removed. It satisfies the janitor's sweep target.
func (c *Cache[K, V]) DeleteExpired(ctx context.Context, t time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.order[:0]
	removed := 0
	for _, k := range c.order {
		if err := ctx.Err(); err != nil {
			// keep the untouched remainder
			kept = append(kept, k)
			continue
		}
		if c.Fresh(c.entries[k], t) {
			kept = append(kept, k)
			continue
		}
		delete(c.entries, k)
		removed++
	}
	c.order = kept
	if removed > 0 {
		c.opts.Metrics.Inc(c.metric("expired"), int64(removed))
	}
	return removed, ctx.Err()
}

// Stats describes the cache.
func (c *Cache[K, V]) Stats() Stats {
	return Stats{Name: c.opts.Name, Entries: c.Len(), Capacity: c.opts.Capacity, TTL: c.opts.TTL.String()}
}

// GetOrLoad returns a fresh cached value, or calls load and stores its result.
// refresh skips the freshness check and always loads. Concurrent loads of the
// same key share one call, which runs detached from the caller that started it
// so one caller's cancellation does not fail the others; each caller still
// returns early when its own ctx is done. hit reports whether the value came
// from the cache. Failed loads leave any existing entry untouched.
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, key K, refresh bool, load func(context.Context) (V, error)) (v V, hit bool, err error) {
	if !refresh {
		if v, ok := c.Get(key); ok {
			return v, true, nil
		}
	}
	ch := c.sf.DoChan(fmt.Sprint(key), func() (any, error) {
		v, err := load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})
	var zero V
	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		return res.Val.(V), false, nil
	}
}

func (c *Cache[K, V]) metric(event string) string {
	if c.opts.Name == "" {
		return "cache_" + event + "_total"
	}
	return "cache_" + c.opts.Name + "_" + event + "_total"
}
