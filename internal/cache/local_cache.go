// Package cache provides the two cache tiers used by the translator: a bounded
// in-process cache and a durable Redis store, composed by TieredCache.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultLocalMaxSize bounds the local tier
	DefaultLocalMaxSize = 1000

	// DefaultLocalTTL is used when Set is called with a zero TTL
	DefaultLocalTTL = 300 * time.Second

	// DefaultJanitorInterval is how often expired entries are purged
	DefaultJanitorInterval = time.Minute
)

type localEntry struct {
	value     []byte
	expiresAt time.Time
}

// LocalStats is a snapshot of local tier counters
type LocalStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Expired   int64 `json:"expired"`
	Size      int   `json:"size"`
}

// LocalCache is a bounded in-memory cache with per-entry TTL. When full it
// evicts the entry that expires soonest.
type LocalCache struct {
	mu         sync.Mutex
	items      map[string]*localEntry
	maxSize    int
	defaultTTL time.Duration
	now        func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	expired   atomic.Int64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewLocalCache creates a local cache and starts its janitor goroutine.
// Call Close to stop it.
func NewLocalCache(maxSize int, defaultTTL, janitorInterval time.Duration) *LocalCache {
	if maxSize <= 0 {
		maxSize = DefaultLocalMaxSize
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultLocalTTL
	}
	if janitorInterval <= 0 {
		janitorInterval = DefaultJanitorInterval
	}

	c := &LocalCache{
		items:      make(map[string]*localEntry, maxSize),
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		now:        time.Now,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	go c.janitor(janitorInterval)

	return c
}

// Get returns the value for key if present and not expired
func (c *LocalCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	if !c.now().Before(item.expiresAt) {
		delete(c.items, key)
		c.expired.Add(1)
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return item.value, true
}

// Set stores value under key. A non-positive ttl uses the default TTL.
func (c *LocalCache) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxSize {
		c.evictSoonestLocked()
	}

	c.items[key] = &localEntry{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
}

// Delete removes key
func (c *LocalCache) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, including expired ones not yet purged
func (c *LocalCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns a snapshot of the counters
func (c *LocalCache) Stats() LocalStats {
	return LocalStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Expired:   c.expired.Load(),
		Size:      c.Len(),
	}
}

// Close stops the janitor. It is safe to call more than once.
func (c *LocalCache) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.done
	})
}

// evictSoonestLocked removes the entry with the earliest expiry.
// Caller must hold c.mu.
func (c *LocalCache) evictSoonestLocked() {
	var (
		victim   string
		earliest time.Time
		found    bool
	)
	for k, item := range c.items {
		if !found || item.expiresAt.Before(earliest) {
			victim, earliest, found = k, item.expiresAt, true
		}
	}
	if found {
		delete(c.items, victim)
		c.evictions.Add(1)
	}
}

// purgeExpired removes every expired entry and returns how many were dropped
func (c *LocalCache) purgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, item := range c.items {
		if !now.Before(item.expiresAt) {
			delete(c.items, k)
			removed++
		}
	}
	c.expired.Add(int64(removed))
	return removed
}

func (c *LocalCache) janitor(interval time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.purgeExpired()
		case <-c.stop:
			return
		}
	}
}
