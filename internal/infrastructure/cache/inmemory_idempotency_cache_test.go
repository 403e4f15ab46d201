package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryIdempotencyCache(t *testing.T) {
	ctx := context.Background()

	t.Run("first mark wins, second is a duplicate", func(t *testing.T) {
		cache := NewInMemoryIdempotencyCache(time.Minute)
		defer cache.Close()

		fresh, err := cache.MarkProcessed(ctx, "job-1|sku-100")
		require.NoError(t, err)
		assert.True(t, fresh)

		again, err := cache.MarkProcessed(ctx, "job-1|sku-100")
		require.NoError(t, err)
		assert.False(t, again)
	})

	t.Run("IsProcessed reflects marks", func(t *testing.T) {
		cache := NewInMemoryIdempotencyCache(time.Minute)
		defer cache.Close()

		processed, err := cache.IsProcessed(ctx, "unknown")
		require.NoError(t, err)
		assert.False(t, processed)

		_, err = cache.MarkProcessed(ctx, "job-1|sku-7")
		require.NoError(t, err)

		processed, err = cache.IsProcessed(ctx, "job-1|sku-7")
		require.NoError(t, err)
		assert.True(t, processed)
	})

	t.Run("expired keys can be marked again", func(t *testing.T) {
		cache := NewInMemoryIdempotencyCache(10 * time.Millisecond)
		defer cache.Close()

		_, err := cache.MarkProcessed(ctx, "short-lived")
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)

		processed, err := cache.IsProcessed(ctx, "short-lived")
		require.NoError(t, err)
		assert.False(t, processed)

		fresh, err := cache.MarkProcessed(ctx, "short-lived")
		require.NoError(t, err)
		assert.True(t, fresh)
	})

	t.Run("cleanup removes expired entries", func(t *testing.T) {
		cache := NewInMemoryIdempotencyCache(10 * time.Millisecond)
		defer cache.Close()

		for _, key := range []string{"a", "b", "c"} {
			_, err := cache.MarkProcessed(ctx, key)
			require.NoError(t, err)
		}
		require.Equal(t, 3, cache.Size())

		time.Sleep(20 * time.Millisecond)
		cache.cleanup()

		assert.Zero(t, cache.Size())
	})

	t.Run("close is idempotent", func(t *testing.T) {
		cache := NewInMemoryIdempotencyCache(time.Minute)
		require.NoError(t, cache.Close())
		require.NoError(t, cache.Close())
	})

	t.Run("zero ttl uses the default", func(t *testing.T) {
		cache := NewInMemoryIdempotencyCache(0)
		defer cache.Close()
		assert.Equal(t, DefaultIdempotencyTTL, cache.ttl)
	})
}
