package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rl1809/vending/internal/core/domain"
	"github.com/rl1809/vending/internal/port"
)

type memoryEntry struct {
	page      domain.ProductPage
	expiresAt time.Time
}

// MemoryCache is a process-local ListingCache used when Redis is not
// configured.
type MemoryCache struct {
	mu         sync.Mutex
	generation int64
	entries    map[string]memoryEntry
	now        func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

var _ port.ListingCache = (*MemoryCache)(nil)

func (c *MemoryCache) Generation(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation, nil
}

func (c *MemoryCache) Get(ctx context.Context, key string) (*domain.ProductPage, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}

	page := entry.page
	page.Results = append([]domain.Product(nil), entry.page.Results...)
	return &page, true, nil
}

func (c *MemoryCache) Put(ctx context.Context, key string, page domain.ProductPage, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	page.Results = append([]domain.Product(nil), page.Results...)
	c.entries[key] = memoryEntry{page: page, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.entries = make(map[string]memoryEntry)
	return nil
}
