package worldstore

import (
	"container/list"

	"github.com/cqdetdev/worldstore/chunk"
)

// chunkKey uniquely identifies a chunk by position and dimension.
type chunkKey struct {
	dim chunk.Dimension
	pos chunk.Pos
}

// cacheEntry is a resident chunk. The chunk's own dirty flag tells if it has unsaved changes.
type cacheEntry struct {
	key    chunkKey
	loc    chunk.Locator
	c      *chunk.Chunk
	exists bool
}

// chunkCache is an LRU cache of chunks, using container/list for O(1) recency updates. The
// front of the list is the most recently used entry. chunkCache is not safe for concurrent use.
type chunkCache struct {
	entries  map[chunkKey]*list.Element
	lru      *list.List
	capacity int

	hits, misses int64
}

// newChunkCache creates a new chunk cache holding at most capacity entries before eviction is
// needed.
func newChunkCache(capacity int) *chunkCache {
	return &chunkCache{
		entries:  make(map[chunkKey]*list.Element, capacity),
		lru:      list.New(),
		capacity: capacity,
	}
}

// get returns the entry of a chunk and marks it as most recently used, or nil if the chunk is
// not cached.
func (c *chunkCache) get(key chunkKey) *cacheEntry {
	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil
	}
	c.hits++
	c.lru.MoveToFront(elem)
	return elem.Value.(*cacheEntry)
}

// peek returns the entry of a chunk without updating its recency or the hit counters.
func (c *chunkCache) peek(key chunkKey) *cacheEntry {
	if elem, ok := c.entries[key]; ok {
		return elem.Value.(*cacheEntry)
	}
	return nil
}

// put adds an entry as the most recently used one. Callers make room first.
func (c *chunkCache) put(e *cacheEntry) {
	if elem, ok := c.entries[e.key]; ok {
		elem.Value = e
		c.lru.MoveToFront(elem)
		return
	}
	c.entries[e.key] = c.lru.PushFront(e)
}

// remove drops the entry of a chunk.
func (c *chunkCache) remove(key chunkKey) {
	if elem, ok := c.entries[key]; ok {
		c.lru.Remove(elem)
		delete(c.entries, key)
	}
}

// full reports if adding an entry would exceed the capacity.
func (c *chunkCache) full() bool { return len(c.entries) >= c.capacity }

// victim returns the entry to evict next: the least recently used clean entry, or the least
// recently used entry if all are dirty. It returns nil for an empty cache.
func (c *chunkCache) victim() *cacheEntry {
	for elem := c.lru.Back(); elem != nil; elem = elem.Prev() {
		if e := elem.Value.(*cacheEntry); !e.c.Dirty() {
			return e
		}
	}
	if back := c.lru.Back(); back != nil {
		return back.Value.(*cacheEntry)
	}
	return nil
}

// dirty returns all entries with unsaved changes, least recently used first.
func (c *chunkCache) dirty() []*cacheEntry {
	var dirty []*cacheEntry
	for elem := c.lru.Back(); elem != nil; elem = elem.Prev() {
		if e := elem.Value.(*cacheEntry); e.c.Dirty() {
			dirty = append(dirty, e)
		}
	}
	return dirty
}

// len returns the number of entries in the cache.
func (c *chunkCache) len() int { return len(c.entries) }

// clear empties the cache.
func (c *chunkCache) clear() {
	c.entries = make(map[chunkKey]*list.Element)
	c.lru.Init()
}

// hitRate returns the current cache hit rate (0.0 to 1.0).
func (c *chunkCache) hitRate() float64 {
	reads := c.hits + c.misses
	if reads == 0 {
		return 1.0
	}
	return float64(c.hits) / float64(reads)
}
