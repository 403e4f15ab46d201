package cache

import (
	"go.uber.org/zap"

	domain "github.com/erp/syncengine/internal/domain/sync"
	"github.com/erp/syncengine/internal/infrastructure/config"
)

// NewIdempotencyCache builds the idempotency fast path from config.
// Redis is used when enabled and reachable; otherwise the in-memory
// cache serves as a single-instance fallback. The returned cache is
// never nil.
func NewIdempotencyCache(cfg *config.Config, logger *zap.Logger) domain.IdempotencyCache {
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.Redis.Enabled {
		store, err := NewRedisIdempotencyCache(RedisOptions{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Engine.IdempotencyTTL,
		})
		if err == nil {
			logger.Info("Using Redis idempotency cache", zap.String("addr", cfg.Redis.Addr()))
			return store
		}
		logger.Warn("Redis unavailable, falling back to in-memory idempotency cache", zap.Error(err))
	}

	logger.Info("Using in-memory idempotency cache")
	return NewInMemoryIdempotencyCache(cfg.Engine.IdempotencyTTL)
}
