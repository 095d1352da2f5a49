package generate

import (
	"container/list"
	"sync"
)

// contextCache is a bounded LRU for rendered schema context blocks.
// Rendering a context walks the schema model and its examples, so
// repeated questions over the same table set reuse the cached text.
type contextCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[string]*list.Element
}

type cacheEntry struct {
	key   string
	value string
}

func newContextCache(capacity int) *contextCache {
	return &contextCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get returns the cached value and marks it most recently used.
func (c *contextCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return "", false
	}

	c.order.MoveToFront(elem)

	return elem.Value.(*cacheEntry).value, true
}

// Put stores the value, evicting the least recently used entry when the
// cache is full. A non-positive capacity disables caching.
func (c *contextCache) Put(key, value string) {
	if c.capacity <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*cacheEntry).value = value
		c.order.MoveToFront(elem)

		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).key)
		}
	}

	c.items[key] = c.order.PushFront(&cacheEntry{key: key, value: value})
}

func (c *contextCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.order.Len()
}
