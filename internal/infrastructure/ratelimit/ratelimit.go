// Package ratelimit provides a blocking token-bucket limiter used to
// throttle outbound calls toward external target systems.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	domain "github.com/erp/syncengine/internal/domain/sync"
)

// TokenBucket is a blocking token-bucket rate limiter. Tokens refill
// continuously at the configured per-minute rate; Acquire blocks until
// the requested tokens are available or the context is done.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens per second
	last     time.Time
	now      func() time.Time
}

// NewTokenBucket creates a limiter allowing requestsPerMinute requests
// per minute. The bucket starts full so a job's first batch is not
// artificially delayed. A non-positive rate yields an unlimited bucket.
func NewTokenBucket(requestsPerMinute int) *TokenBucket {
	if requestsPerMinute <= 0 {
		return &TokenBucket{rate: 0, now: time.Now}
	}
	capacity := float64(requestsPerMinute)
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     capacity / 60.0,
		last:     time.Now(),
		now:      time.Now,
	}
}

// Acquire blocks until n tokens are available or ctx is done.
func (b *TokenBucket) Acquire(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	if b.rate == 0 {
		return ctx.Err()
	}
	if float64(n) > b.capacity {
		return fmt.Errorf("ratelimit: requested %d tokens exceeds bucket capacity %.0f", n, b.capacity)
	}

	wait := b.reserve(float64(n))
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		b.release(float64(n))
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// reserve debits n tokens and returns how long the caller must wait
// before the debit is covered by refill. Debiting up front keeps
// concurrent waiters ordered without a queue.
func (b *TokenBucket) reserve(n float64) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	b.tokens -= n
	if b.tokens >= 0 {
		return 0
	}
	return time.Duration(-b.tokens / b.rate * float64(time.Second))
}

// release returns tokens debited by a reservation that was abandoned.
func (b *TokenBucket) release(n float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	b.tokens += n
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

func (b *TokenBucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now
	b.tokens += elapsed * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

// Tokens reports the currently available tokens, for tests and metrics.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

// Factory builds one independent bucket per target system so a slow
// system cannot starve deliveries to the others.
type Factory struct {
	logger *zap.Logger
}

// NewFactory creates a rate limiter factory.
func NewFactory(logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{logger: logger}
}

// ForSystem implements domain.RateLimiterFactory.
func (f *Factory) ForSystem(system domain.SystemCode, requestsPerMinute int) domain.RateLimiter {
	f.logger.Debug("Rate limiter created",
		zap.String("system", string(system)),
		zap.Int("requests_per_minute", requestsPerMinute),
	)
	return NewTokenBucket(requestsPerMinute)
}
