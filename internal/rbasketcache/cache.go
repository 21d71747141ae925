// Package rbasketcache caches decompressed basket payloads keyed by the
// branch they came from and their basket index, so that re-ranging a typed
// iterator over the same branch does not re-decompress baskets already seen
// (spec §4.11); the basket record itself is still read from the file.
package rbasketcache

import (
	"hash/maphash"

	"github.com/dgryski/go-tinylfu"
)

// defaultBasketCacheBaskets bounds the cache at a number of baskets rather
// than bytes: basket payloads vary widely in size, but the access pattern
// (sequential walk of one branch at a time) makes a count-based admission
// policy behave the same way the teacher's block cache does for sequential
// file reads.
const defaultBasketCacheBaskets = 4096

type cacheKey struct {
	branch uintptr
	basket int
}

var seed = maphash.MakeSeed()

func hashKey(k cacheKey) uint64 { return maphash.Comparable(seed, k) }

// Cache is an LFU cache of decompressed basket payloads. The zero value is
// not usable; construct with New.
type Cache struct {
	t *tinylfu.T[cacheKey, []byte]
}

// New returns a Cache admitting up to capacity baskets, sized for roughly
// 10x that many samples the way the teacher's spinner cache sizes its
// tinylfu instance.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = defaultBasketCacheBaskets
	}
	return &Cache{t: tinylfu.New[cacheKey, []byte](capacity, capacity*10, hashKey)}
}

// Get returns the cached decompressed payload for (branch, basketIdx), if
// present. branch should be a stable pointer identity for the owning
// Branch value.
func (c *Cache) Get(branch uintptr, basketIdx int) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	return c.t.Get(cacheKey{branch, basketIdx})
}

// Add records payload as the decompressed contents of (branch, basketIdx).
func (c *Cache) Add(branch uintptr, basketIdx int, payload []byte) {
	if c == nil {
		return
	}
	c.t.Add(cacheKey{branch, basketIdx}, payload)
}
