// Package jobcache tracks the single in-flight job a WorkerLoop process is
// currently processing, plus a generic mutex-guarded Cache. Adapted from
// the teacher's generic request-keyed cache.
package jobcache

import (
	"sync"

	"github.com/kylelemons/godebug/pretty"
	"github.com/loomrender/renderworker/log"
)

// Cache is a generic, mutex-guarded map keyed by an arbitrary string id.
type Cache[T interface{}] struct {
	cache map[string]T
	mutex sync.Mutex
}

func New[T interface{}]() *Cache[T] {
	return &Cache[T]{
		cache: make(map[string]T),
	}
}

func (c *Cache[T]) Remove(renderID, key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.cache, key)
	log.Log(renderID, "removing from job cache", "key", key)
}

func (c *Cache[T]) Get(key string) (T, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	v, ok := c.cache[key]
	return v, ok
}

func (c *Cache[T]) Store(key string, value T) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cache[key] = value
}

func (c *Cache[T]) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.cache)
}

func (c *Cache[T]) UnittestIntrospection() *map[string]T {
	return &c.cache
}

// DebugDump pretty-prints the cache contents to stdout. It has no
// verbosity gate of its own.
func (c *Cache[T]) DebugDump(label string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	pretty.Print(label, c.cache)
}
