package imagepipeline

import (
	"context"
	"sync"

	"ad_publisher/internal/domain"
)

// MemoryCache is an in-process AssetCache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]domain.RemoteResource
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]domain.RemoteResource)}
}

func (c *MemoryCache) Get(_ context.Context, checksum string) (*domain.RemoteResource, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rr, ok := c.entries[checksum]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rr, nil
}

func (c *MemoryCache) PutIfAbsent(_ context.Context, checksum string, rr domain.RemoteResource) (*domain.RemoteResource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[checksum]; ok {
		return &existing, nil
	}
	c.entries[checksum] = rr
	return &rr, nil
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
