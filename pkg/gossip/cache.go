package gossip

import (
	"sync/atomic"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
)

// DeduplicationCache remembers recently seen event ids so that forwarded
// copies are dropped instead of re-applied and re-forwarded.
type DeduplicationCache struct {
	capacity int
	cache    *lru.Cache

	hits   atomic.Int64
	misses atomic.Int64
}

// NewDeduplicationCache creates a cache holding up to capacity ids
func NewDeduplicationCache(capacity int) *DeduplicationCache {
	if capacity <= 0 {
		capacity = 1000
	}
	// only fails on a non-positive size
	cache, _ := lru.New(capacity)

	return &DeduplicationCache{
		capacity: capacity,
		cache:    cache,
	}
}

// SeenOrAdd reports whether id was already cached, adding it otherwise.
// The check and insert are atomic.
func (dc *DeduplicationCache) SeenOrAdd(id uuid.UUID) bool {
	seen, _ := dc.cache.ContainsOrAdd(id, struct{}{})
	if seen {
		dc.hits.Add(1)
	} else {
		dc.misses.Add(1)
	}
	return seen
}

// Size returns the current number of cached ids
func (dc *DeduplicationCache) Size() int {
	return dc.cache.Len()
}

// GetStats returns cache statistics
func (dc *DeduplicationCache) GetStats() map[string]interface{} {
	size := dc.cache.Len()
	return map[string]interface{}{
		"capacity":    dc.capacity,
		"size":        size,
		"utilization": float64(size) / float64(dc.capacity),
		"hits":        dc.hits.Load(),
		"misses":      dc.misses.Load(),
	}
}
