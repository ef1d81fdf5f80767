// Package sfcache implements a small reference-counted, single-flight
// cache generic over key and value types. BufferCache, the DataManager
// uid cache, and the Entry cache in this engine all follow the same
// shape (spec.md §9's "factor a reusable generic cache" note); this
// type is that factoring for the two simpler of the three (DataItem
// and Entry caches). BufferCache keeps its own implementation because
// its eviction path also has to write dirty pages back to the
// PageStore, which doesn't fit a generic evictor cleanly.
package sfcache

import "sync"

// Cache maps keys to reference-counted values, loading on first Get
// and evicting at refcount zero via evict. Concurrent Gets for the
// same absent key single-flight: only one goroutine performs Load; the
// rest wait on a condition variable.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	load    func(K) (V, error)
	evict   func(K, V)
	entries map[K]*slot[V]
	loading map[K]bool
}

type slot[V any] struct {
	value V
	refs  int
}

// New creates a cache that loads absent keys with load and, when a
// value's refcount drops to zero, calls evict before dropping it.
func New[K comparable, V any](load func(K) (V, error), evict func(K, V)) *Cache[K, V] {
	c := &Cache[K, V]{
		load:    load,
		evict:   evict,
		entries: make(map[K]*slot[V]),
		loading: make(map[K]bool),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Get pins and returns the value for key, loading it if absent. The
// caller must call Release(key) exactly once per successful Get.
func (c *Cache[K, V]) Get(key K) (V, error) {
	c.mu.Lock()
	for {
		if s, ok := c.entries[key]; ok {
			s.refs++
			c.mu.Unlock()
			return s.value, nil
		}
		if c.loading[key] {
			c.cond.Wait()
			continue
		}
		c.loading[key] = true
		break
	}
	c.mu.Unlock()

	value, err := c.load(key)

	c.mu.Lock()
	delete(c.loading, key)
	if err != nil {
		c.cond.Broadcast()
		c.mu.Unlock()
		var zero V
		return zero, err
	}
	c.entries[key] = &slot[V]{value: value, refs: 1}
	c.cond.Broadcast()
	c.mu.Unlock()
	return value, nil
}

// Release decrements key's reference count; at zero, evict is called
// and the entry is removed.
func (c *Cache[K, V]) Release(key K) {
	c.mu.Lock()
	s, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	if s.refs > 0 {
		s.refs--
	}
	done := s.refs == 0
	if done {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if done && c.evict != nil {
		c.evict(key, s.value)
	}
}

// Peek returns the cached value for key without affecting its
// refcount, for callers that already hold a pin.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return s.value, true
}
