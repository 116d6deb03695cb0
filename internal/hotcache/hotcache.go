// Package hotcache is the bounded in-process read cache of resolved
// artwork paths consulted before the ledger on the request path.
package hotcache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tracklist/tracklist/internal/artwork"
)

// DefaultSize is the entry limit used when none is configured.
const DefaultSize = 200

// Key identifies one cached path.
type Key struct {
	AlbumID int64
	Variant artwork.Variant
}

// Stats is a point-in-time view of the cache counters.
type Stats struct {
	Entries   int     `json:"entries"`
	Capacity  int     `json:"capacity"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// Cache maps (album, variant) to a web path with least recently used
// eviction. Safe for concurrent use.
type Cache struct {
	entries  *lru.Cache[Key, string]
	capacity int

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	onEvict   func()
}

// Option configures a Cache.
type Option func(*Cache)

// WithEvictionHook calls fn every time an entry is evicted for capacity.
func WithEvictionHook(fn func()) Option {
	return func(c *Cache) { c.onEvict = fn }
}

// New creates a cache holding at most size entries. size <= 0 uses DefaultSize.
func New(size int, opts ...Option) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	c := &Cache{capacity: size}
	for _, opt := range opts {
		opt(c)
	}
	// New only fails for a non-positive size.
	c.entries, _ = lru.New[Key, string](size)
	return c
}

// Get returns the cached path for the album and variant.
func (c *Cache) Get(albumID int64, v artwork.Variant) (string, bool) {
	p, ok := c.entries.Get(Key{AlbumID: albumID, Variant: v})
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return p, ok
}

// Put stores path for the album and variant.
func (c *Cache) Put(albumID int64, v artwork.Variant, path string) {
	// Add reports evictions for capacity only; Remove and Purge do not count.
	if evicted := c.entries.Add(Key{AlbumID: albumID, Variant: v}, path); evicted {
		c.evictions.Add(1)
		if c.onEvict != nil {
			c.onEvict()
		}
	}
}

// Remove drops one entry.
func (c *Cache) Remove(albumID int64, v artwork.Variant) {
	c.entries.Remove(Key{AlbumID: albumID, Variant: v})
}

// InvalidateAlbum drops every variant of the album.
func (c *Cache) InvalidateAlbum(albumID int64) {
	for _, v := range artwork.Variants() {
		c.entries.Remove(Key{AlbumID: albumID, Variant: v})
	}
}

// Clear drops all entries. Counters are kept.
func (c *Cache) Clear() {
	c.entries.Purge()
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	st := Stats{
		Entries:   c.entries.Len(),
		Capacity:  c.capacity,
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evictions.Load(),
	}
	if total := hits + misses; total > 0 {
		st.HitRate = float64(hits) / float64(total)
	}
	return st
}
