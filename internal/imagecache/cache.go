// Package imagecache implements the bounded in-memory cache of decoded
// images backing the loader.
//
// The cache is byte-budgeted: each entry costs its encoded size, and when
// the budget is exceeded the least recently used entries are evicted.
// Callers cannot control eviction; an entry may disappear under pressure
// but never otherwise.
package imagecache

import (
	"container/list"
	"sync"

	"github.com/quietlight/tilefetch/internal/decode"
)

// Cache is a concurrency-safe LRU cache from canonical URL to decoded image.
type Cache struct {
	mu sync.Mutex

	maxBytes int
	bytes    int
	items    map[string]*list.Element
	lru      *list.List // Front = most recently used
}

type entry struct {
	key string
	img *decode.Image
}

// Stats describes the current cache contents.
type Stats struct {
	Entries  int `json:"entries"`
	Bytes    int `json:"bytes"`
	MaxBytes int `json:"max_bytes"`
}

// New creates a cache bounded to maxBytes of encoded image data.
// maxBytes <= 0 means unbounded.
func New(maxBytes int) *Cache {
	return &Cache{
		maxBytes: maxBytes,
		items:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get returns the cached image for key, marking it recently used.
func (c *Cache) Get(key string) (*decode.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(el)
	return el.Value.(*entry).img, true
}

// Set stores img under key, overwriting any existing entry. An image
// larger than the entire budget is not cached at all.
func (c *Cache) Set(key string, img *decode.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxBytes > 0 && img.Size > c.maxBytes {
		c.removeLocked(key)
		return
	}

	if el, ok := c.items[key]; ok {
		old := el.Value.(*entry)
		c.bytes += img.Size - old.img.Size
		old.img = img
		c.lru.MoveToFront(el)
	} else {
		c.items[key] = c.lru.PushFront(&entry{key: key, img: img})
		c.bytes += img.Size
	}

	for c.maxBytes > 0 && c.bytes > c.maxBytes {
		c.evictOldest()
	}
}

// Remove drops key from the cache if present.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns a snapshot of the cache contents.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:  len(c.items),
		Bytes:    c.bytes,
		MaxBytes: c.maxBytes,
	}
}

// removeLocked must be called with the mutex held.
func (c *Cache) removeLocked(key string) {
	el, ok := c.items[key]
	if !ok {
		return
	}
	c.lru.Remove(el)
	delete(c.items, key)
	c.bytes -= el.Value.(*entry).img.Size
}

// evictOldest must be called with the mutex held and a non-empty list.
func (c *Cache) evictOldest() {
	el := c.lru.Back()
	if el == nil {
		return
	}
	c.removeLocked(el.Value.(*entry).key)
}
