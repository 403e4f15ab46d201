// Package cache provides idempotency fast-path caches in front of the
// durable ledger. Cache state is best-effort; the ledger stays the
// source of truth.
package cache

import (
	"context"
	"sync"
	"time"

	domain "github.com/erp/syncengine/internal/domain/sync"
)

// DefaultIdempotencyTTL bounds how long a processed key is remembered
// when no TTL is configured.
const DefaultIdempotencyTTL = 24 * time.Hour

type entry struct {
	expiresAt time.Time
}

// InMemoryIdempotencyCache implements domain.IdempotencyCache using an
// in-memory map. Suitable for single-instance deployments and testing.
type InMemoryIdempotencyCache struct {
	mu        sync.RWMutex
	entries   map[string]entry
	ttl       time.Duration
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryIdempotencyCache creates an in-memory cache whose keys
// expire after ttl. A background goroutine sweeps expired entries.
func NewInMemoryIdempotencyCache(ttl time.Duration) *InMemoryIdempotencyCache {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	c := &InMemoryIdempotencyCache{
		entries:  make(map[string]entry),
		ttl:      ttl,
		stopChan: make(chan struct{}),
	}

	c.wg.Add(1)
	go c.cleanupLoop()

	return c
}

// MarkProcessed marks a key as processed.
// Returns true if the key was newly marked, false if already present.
func (c *InMemoryIdempotencyCache) MarkProcessed(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, exists := c.entries[key]; exists && time.Now().Before(e.expiresAt) {
		return false, nil
	}

	c.entries[key] = entry{expiresAt: time.Now().Add(c.ttl)}
	return true, nil
}

// IsProcessed checks whether a key has been marked and is not expired.
func (c *InMemoryIdempotencyCache) IsProcessed(_ context.Context, key string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, exists := c.entries[key]
	if !exists {
		return false, nil
	}
	if time.Now().After(e.expiresAt) {
		return false, nil
	}
	return true, nil
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (c *InMemoryIdempotencyCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopChan)
		c.wg.Wait()
	})
	return nil
}

func (c *InMemoryIdempotencyCache) cleanupLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

func (c *InMemoryIdempotencyCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// Size returns the number of entries in the cache, for tests and metrics.
func (c *InMemoryIdempotencyCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

var _ domain.IdempotencyCache = (*InMemoryIdempotencyCache)(nil)
