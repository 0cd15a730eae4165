package embedding

import (
	"container/list"
	"context"
	"sync"
)

// EmbeddingCache is an LRU cache for embeddings keyed by string.
type EmbeddingCache struct {
	capacity int
	cache    map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

type cacheEntry struct {
	key   string
	value []float32
}

// NewEmbeddingCache creates a new cache with the given capacity.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	return &EmbeddingCache{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get returns the cached embedding for key if present and marks it most recently used.
func (c *EmbeddingCache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		return elem.Value.(*cacheEntry).value, true
	}
	return nil, false
}

// Set stores the embedding for key, evicting the oldest entry if at capacity.
func (c *EmbeddingCache) Set(key string, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}

	elem := c.lru.PushFront(&cacheEntry{key: key, value: value})
	c.cache[key] = elem

	if c.lru.Len() > c.capacity {
		if oldest := c.lru.Back(); oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*cacheEntry).key)
		}
	}
}

// Len returns the number of cached embeddings.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

var _ Provider = (*CachedProvider)(nil)

// CachedProvider memoizes Embed results of an underlying provider. The cache key
// includes the endpoint URL and model, so switching models never serves stale vectors.
// ListModels is not cached.
type CachedProvider struct {
	next  Provider
	cache *EmbeddingCache
}

// NewCachedProvider wraps next with an LRU cache of the given capacity.
// A capacity of zero or less disables caching.
func NewCachedProvider(next Provider, capacity int) *CachedProvider {
	cp := &CachedProvider{next: next}
	if capacity > 0 {
		cp.cache = NewEmbeddingCache(capacity)
	}
	return cp
}

// Embed returns a cached embedding or asks the underlying provider. Failures are not cached.
func (p *CachedProvider) Embed(ctx context.Context, ep Endpoint, model, text string) ([]float32, error) {
	if p.cache == nil {
		return p.next.Embed(ctx, ep, model, text)
	}
	key := ep.URL + "\x00" + model + "\x00" + text
	if v, ok := p.cache.Get(key); ok {
		return v, nil
	}
	v, err := p.next.Embed(ctx, ep, model, text)
	if err != nil {
		return nil, err
	}
	p.cache.Set(key, v)
	return v, nil
}

// ListModels delegates to the underlying provider.
func (p *CachedProvider) ListModels(ctx context.Context, ep Endpoint) ([]string, error) {
	return p.next.ListModels(ctx, ep)
}
