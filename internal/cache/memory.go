package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultMaxEntries bounds a MemoryProvider built with a non-positive size.
const DefaultMaxEntries = 1024

// MemoryProvider is an in-process Provider backed by a size-bounded expiring LRU.
// The LRU evicts on the provider-wide ttl; a shorter per-key ttl passed to Set is
// honored on read.
type MemoryProvider struct {
	lru *expirable.LRU[string, entry]
	now func() time.Time
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryProvider creates an empty in-memory cache holding at most size entries,
// each for at most ttl. A non-positive ttl leaves expiry to the per-key ttl alone.
func NewMemoryProvider(size int, ttl time.Duration) *MemoryProvider {
	if size <= 0 {
		size = DefaultMaxEntries
	}
	return &MemoryProvider{
		lru: expirable.NewLRU[string, entry](size, nil, ttl),
		now: time.Now,
	}
}

// Get returns a copy of the stored value, or ErrCacheMiss when absent or expired.
func (c *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	it, ok := c.lru.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	if !it.expiresAt.IsZero() && c.now().After(it.expiresAt) {
		c.lru.Remove(key)
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), it.value...), nil
}

// Set stores a copy of value; a non-positive ttl falls back to the provider ttl.
func (c *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}
	c.lru.Add(key, entry{value: append([]byte(nil), value...), expiresAt: expires})
	return nil
}

// Del removes an entry.
func (c *MemoryProvider) Del(_ context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

// Len reports how many entries are held, expired ones included until evicted.
func (c *MemoryProvider) Len() int { return c.lru.Len() }

// Close drops all entries.
func (c *MemoryProvider) Close() error {
	c.lru.Purge()
	return nil
}
