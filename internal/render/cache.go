package render

import (
	"container/list"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// ResultCache is an LRU cache of render results keyed by content
// fingerprint and constraint width. During streaming the same prefix is
// rendered repeatedly as part of longer strings, so identical re-renders
// are common and worth memoizing. Results at differing widths are
// independent entries, never merged.
type ResultCache struct {
	mu      sync.Mutex
	maxSize int
	cache   map[string]*list.Element
	lruList *list.List

	hits   uint64
	misses uint64
}

type resultEntry struct {
	key    string
	result Result
}

// NewResultCache creates a cache with the given maximum entry count.
func NewResultCache(maxSize int) *ResultCache {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &ResultCache{
		maxSize: maxSize,
		cache:   make(map[string]*list.Element),
		lruList: list.New(),
	}
}

// Key fingerprints content plus constraint width.
func Key(content string, width int) string {
	h := xxhash.Sum64String(content)
	return strconv.FormatUint(h, 16) + ":" + strconv.Itoa(width)
}

// Get retrieves a cached result. Access moves the entry to the front of
// the LRU list.
func (c *ResultCache) Get(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lruList.MoveToFront(elem)
		c.hits++
		return elem.Value.(*resultEntry).result, true
	}
	c.misses++
	return Result{}, false
}

// Put stores a result, evicting the least recently used entry at
// capacity.
func (c *ResultCache) Put(key string, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lruList.MoveToFront(elem)
		elem.Value.(*resultEntry).result = result
		return
	}

	if c.lruList.Len() >= c.maxSize {
		c.evictOldest()
	}

	elem := c.lruList.PushFront(&resultEntry{key: key, result: result})
	c.cache[key] = elem
}

// evictOldest removes the least recently used entry. Lock held.
func (c *ResultCache) evictOldest() {
	oldest := c.lruList.Back()
	if oldest != nil {
		entry := oldest.Value.(*resultEntry)
		delete(c.cache, entry.key)
		c.lruList.Remove(oldest)
	}
}

// InvalidateAll clears the cache. Call on width change, when every cached
// render is stale.
func (c *ResultCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*list.Element)
	c.lruList.Init()
}

// Len returns the current entry count.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// Stats returns the cumulative hit and miss counts.
func (c *ResultCache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
