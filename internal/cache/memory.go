package cache

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// entry is a cached value with its expiry
type entry struct {
	value   any
	expires time.Time
}

// MemoryCache is a TTL cache. Expired entries are swept periodically until
// Stop is called.
type MemoryCache struct {
	items map[string]entry
	mutex sync.RWMutex
	ttl   time.Duration
	clock clock.Clock
	stop  chan struct{}
	once  sync.Once
}

// NewMemoryCache creates a cache whose entries live for ttl. A nil clock uses
// the wall clock.
func NewMemoryCache(ttl time.Duration, clk clock.Clock) *MemoryCache {
	if clk == nil {
		clk = clock.New()
	}
	c := &MemoryCache{
		items: make(map[string]entry),
		ttl:   ttl,
		clock: clk,
		stop:  make(chan struct{}),
	}

	go c.sweep(clk.Ticker(sweepInterval(ttl)))

	return c
}

func sweepInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > 5*time.Minute {
		return 5 * time.Minute
	}
	return ttl
}

// Set stores value under key
func (c *MemoryCache) Set(key string, value any) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items[key] = entry{value: value, expires: c.clock.Now().Add(c.ttl)}
}

// Get returns the live value stored under key
func (c *MemoryCache) Get(key string) (any, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	e, ok := c.items[key]
	if !ok || !c.clock.Now().Before(e.expires) {
		return nil, false
	}
	return e.value, true
}

// GetString returns the live string stored under key
func (c *MemoryCache) GetString(key string) (string, bool) {
	v, ok := c.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Delete removes key
func (c *MemoryCache) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.items, key)
}

// Size returns the number of stored entries, expired or not
func (c *MemoryCache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.items)
}

// Stop ends the sweeper goroutine
func (c *MemoryCache) Stop() {
	c.once.Do(func() { close(c.stop) })
}

func (c *MemoryCache) sweep(ticker *clock.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *MemoryCache) removeExpired() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.clock.Now()
	for key, e := range c.items {
		if !now.Before(e.expires) {
			delete(c.items, key)
		}
	}
}
