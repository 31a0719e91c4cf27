// File path: internal/embedding/cache.go
package embedding

import "sync"

// VectorCache holds vectors already persisted by a previous run, keyed by the
// stable entity/relationship keys. Cached vectors are reused verbatim, so an
// unchanged corpus costs zero embedding calls on re-ingest.
type VectorCache struct {
	mu      sync.RWMutex
	vectors map[string][]float32
	hits    int
}

func NewVectorCache() *VectorCache {
	return &VectorCache{vectors: make(map[string][]float32)}
}

func (c *VectorCache) Put(key string, vector []float32) {
	if len(vector) == 0 {
		return
	}
	c.mu.Lock()
	c.vectors[key] = vector
	c.mu.Unlock()
}

// Get returns the stored vector and records the hit.
func (c *VectorCache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.vectors[key]
	if ok {
		c.hits++
	}
	return vec, ok
}

func (c *VectorCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vectors)
}

// Hits reports how many lookups were served from the cache.
func (c *VectorCache) Hits() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits
}
