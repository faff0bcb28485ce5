package translate

import (
	"context"
	"sync"
	"time"

	"github.com/FranksOps/docsweep/internal/storage"
)

var _ storage.TranslationCache = (*MemoryCache)(nil)

// MemoryCache is a process-local translation cache. Entries older than ttl are
// treated as misses; a zero ttl keeps entries forever.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[storage.TranslationKey]storage.TranslationCacheEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[storage.TranslationKey]storage.TranslationCacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryCache) GetTranslation(ctx context.Context, key storage.TranslationKey) (*storage.TranslationCacheEntry, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if c.ttl > 0 && c.now().Sub(entry.CreatedAt) > c.ttl {
		return nil, nil
	}
	return &entry, nil
}

func (c *MemoryCache) PutTranslation(ctx context.Context, entry storage.TranslationCacheEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = c.now()
	}
	c.mu.Lock()
	c.entries[entry.TranslationKey] = entry
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, stale ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
