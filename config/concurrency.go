package config

import "sync"

// ConcurrencyCap caches the fleet-wide job limit fetched from QueueAdapter,
// live-reloaded at ConcurrencyCapRefreshInterval (§3). Reads and writes are
// serialized by a mutex since WorkerLoop's claim goroutine and any admin
// introspection path may touch it concurrently.
type ConcurrencyCap struct {
	mu          sync.Mutex
	value       int
	lastRefresh TimestampGenerator
	fetchedAt   int64 // unix nanos of last refresh, 0 if never
}

func NewConcurrencyCap(initial int) *ConcurrencyCap {
	return &ConcurrencyCap{value: initial, lastRefresh: Clock}
}

func (c *ConcurrencyCap) Get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

func (c *ConcurrencyCap) Set(v int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
	c.fetchedAt = c.lastRefresh.GetTime().UnixNano()
}

// Stale reports whether the cached value is older than maxAge.
func (c *ConcurrencyCap) Stale(maxAge int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetchedAt == 0 {
		return true
	}
	return c.lastRefresh.GetTime().UnixNano()-c.fetchedAt > maxAge
}
