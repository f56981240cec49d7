package resultlog

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cacheKey struct {
	n     int
	order Order
}

type cachedEntries struct {
	entries []Entry
	at      time.Time
}

// Cached wraps a Log and memoizes Entries results for a TTL. Any Append or
// Clear through the wrapper invalidates the cache.
type Cached struct {
	log   Log
	clock Clock
	ttl   time.Duration

	mu    sync.RWMutex
	cache map[cacheKey]cachedEntries
}

var _ Log = (*Cached)(nil)

// NewCached creates a Cached log with the given TTL.
func NewCached(log Log, ttl time.Duration) *Cached {
	return NewCachedWithClock(log, realClock{}, ttl)
}

// NewCachedWithClock creates a Cached log with a custom clock (for testing).
func NewCachedWithClock(log Log, clock Clock, ttl time.Duration) *Cached {
	return &Cached{log: log, clock: clock, ttl: ttl, cache: make(map[cacheKey]cachedEntries)}
}

func (c *Cached) fresh(k cacheKey) ([]Entry, bool) {
	hit, ok := c.cache[k]
	if !ok || !c.clock.Now().Before(hit.at.Add(c.ttl)) {
		return nil, false
	}
	return append([]Entry(nil), hit.entries...), true
}

// Entries serves from cache when fresh and reads through otherwise.
func (c *Cached) Entries(ctx context.Context, n int, order Order) ([]Entry, error) {
	k := cacheKey{n: n, order: order}

	// Fast path: read lock for cache hit.
	c.mu.RLock()
	entries, ok := c.fresh(k)
	c.mu.RUnlock()
	if ok {
		return entries, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock.
	if entries, ok := c.fresh(k); ok {
		return entries, nil
	}

	entries, err := c.log.Entries(ctx, n, order)
	if err != nil {
		return nil, fmt.Errorf("loading log entries: %w", err)
	}
	c.cache[k] = cachedEntries{entries: entries, at: c.clock.Now()}
	return append([]Entry(nil), entries...), nil
}

// Append writes through and invalidates the cache.
func (c *Cached) Append(ctx context.Context, entries ...Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.log.Append(ctx, entries...); err != nil {
		return err
	}
	clear(c.cache)
	return nil
}

// Clear empties the underlying log and the cache.
func (c *Cached) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.log.Clear(ctx); err != nil {
		return err
	}
	clear(c.cache)
	return nil
}
