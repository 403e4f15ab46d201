package sync

import (
	"context"

	"github.com/erp/syncengine/internal/domain/shared"
)

// Adapter errors. Adapters must return ErrAdapterPermission (possibly
// wrapped) on a permission failure so the resolver can classify AuthError.
var (
	ErrAdapterPermission  = shared.NewDomainError("ADAPTER_PERMISSION", "Target system denied permission")
	ErrAdapterUnavailable = shared.NewDomainError("ADAPTER_UNAVAILABLE", "Target system is unavailable")
	ErrNoAdapter          = shared.NewDomainError("NO_ADAPTER", "No adapter registered for system and entity type")
)

// TargetAdapter applies one resolved payload to an external system. One
// adapter serves one (target system, entity type) pair. The call either
// succeeds or returns an error; the engine owns all retry bookkeeping.
type TargetAdapter interface {
	Apply(ctx context.Context, item *SyncItem, resolved Payload) error
}

// AdapterRegistry resolves the adapter for a (system, entity type) pair.
type AdapterRegistry interface {
	Adapter(system SystemCode, entityType EntityType) (TargetAdapter, error)
}

// RateLimiter bounds outbound calls toward one target system. Acquire
// blocks until n tokens are available or the context is done.
type RateLimiter interface {
	Acquire(ctx context.Context, n int) error
}

// RateLimiterFactory builds a fresh limiter per job per target system.
type RateLimiterFactory interface {
	ForSystem(system SystemCode, requestsPerMinute int) RateLimiter
}

// IdempotencyCache is an optional fast-path set in front of the durable
// ledger. It is best-effort: a cache miss falls through to the store and
// cache errors are never fatal.
type IdempotencyCache interface {
	// MarkProcessed marks a key, returning false if it was already present.
	MarkProcessed(ctx context.Context, key string) (bool, error)
	// IsProcessed checks for a key.
	IsProcessed(ctx context.Context, key string) (bool, error)
	// Close releases resources.
	Close() error
}
