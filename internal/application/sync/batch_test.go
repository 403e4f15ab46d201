package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/erp/syncengine/internal/domain/sync"
)

func newTestJob(t *testing.T, tenantID uuid.UUID, cfg domain.JobConfig) *domain.SyncJob {
	t.Helper()
	job, err := domain.NewSyncJob(tenantID,
		[]domain.SystemCode{"shopify"},
		[]domain.EntityType{domain.EntityTypeProducts},
		cfg,
	)
	require.NoError(t, err)
	require.NoError(t, job.Queue())
	require.NoError(t, job.StartProcessing())
	return job
}

func newQueueItem(t *testing.T, repo *memRepo, tenantID uuid.UUID, externalID, data, delta string) *domain.SyncItem {
	t.Helper()
	item, err := domain.NewSyncItem(tenantID, domain.EntityTypeProducts, "erp", "shopify",
		externalID, payloadOf(t, data), payloadOf(t, delta))
	require.NoError(t, err)
	require.NoError(t, repo.EnqueueItem(context.Background(), item))
	return item
}

func fetchAll(t *testing.T, repo *memRepo, tenantID uuid.UUID) []*domain.SyncItem {
	t.Helper()
	items, err := repo.FetchPendingItems(context.Background(), tenantID, "shopify", domain.EntityTypeProducts, domain.FetchWindow)
	require.NoError(t, err)
	return items
}

func TestBatchProcessor_Process(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("delivers clean items and records the ledger", func(t *testing.T) {
		repo := newMemRepo()
		job := newTestJob(t, tenantID, domain.JobConfig{})
		newQueueItem(t, repo, tenantID, "sku-1", `{"name":"Widget"}`, `{}`)
		newQueueItem(t, repo, tenantID, "sku-2", `{"name":"Gadget"}`, `{}`)
		adapter := &stubAdapter{}
		processor := NewBatchProcessor(repo, nil, nil)

		result, err := processor.Process(ctx, job, fetchAll(t, repo, tenantID), adapter, &stubLimiter{}, instantResolver(3))
		require.NoError(t, err)
		assert.Equal(t, BatchResult{Processed: 2}, result)
		assert.Equal(t, 2, adapter.callCount())
		assert.Equal(t, 2, repo.itemStatusCounts()[domain.ItemStatusCompleted])
		assert.Contains(t, repo.actions(), domain.ActivityBatchDone)
	})

	t.Run("reprocessing skips via the idempotency ledger", func(t *testing.T) {
		repo := newMemRepo()
		job := newTestJob(t, tenantID, domain.JobConfig{})
		item := newQueueItem(t, repo, tenantID, "sku-1", `{"name":"Widget"}`, `{}`)
		adapter := &stubAdapter{}
		processor := NewBatchProcessor(repo, nil, nil)

		first := []*domain.SyncItem{item}
		_, err := processor.Process(ctx, job, first, adapter, &stubLimiter{}, instantResolver(3))
		require.NoError(t, err)
		require.Equal(t, 1, adapter.callCount())

		// Same item offered again, as after a crash between commit and ack.
		replay, err := repo.FindItem(ctx, item.ID)
		require.NoError(t, err)
		replay.Status = domain.ItemStatusPending
		result, err := processor.Process(ctx, job, []*domain.SyncItem{replay}, adapter, &stubLimiter{}, instantResolver(3))
		require.NoError(t, err)
		assert.Equal(t, BatchResult{Skipped: 1}, result)
		assert.Equal(t, 1, adapter.callCount(), "no second delivery")
	})

	t.Run("rate limiter is consulted once per delivery attempt", func(t *testing.T) {
		repo := newMemRepo()
		job := newTestJob(t, tenantID, domain.JobConfig{})
		newQueueItem(t, repo, tenantID, "sku-1", `{"name":"Widget"}`, `{}`)
		newQueueItem(t, repo, tenantID, "sku-2", `{"name":"Gadget"}`, `{}`)
		limiter := &stubLimiter{}
		processor := NewBatchProcessor(repo, nil, nil)

		_, err := processor.Process(ctx, job, fetchAll(t, repo, tenantID), &stubAdapter{}, limiter, instantResolver(3))
		require.NoError(t, err)
		assert.Equal(t, 2, limiter.acquired)
	})

	t.Run("manual conflict fails the item and records it", func(t *testing.T) {
		repo := newMemRepo()
		job := newTestJob(t, tenantID, domain.JobConfig{})
		item := newQueueItem(t, repo, tenantID, "sku-1",
			`{"name":"Widget","email":"bad-address"}`, `{"name":"Widget","email":"bad-address"}`)
		adapter := &stubAdapter{}
		processor := NewBatchProcessor(repo, nil, nil)

		result, err := processor.Process(ctx, job, []*domain.SyncItem{item}, adapter, &stubLimiter{}, instantResolver(3))
		require.NoError(t, err)
		assert.Equal(t, BatchResult{Failed: 1}, result)
		assert.Equal(t, 0, adapter.callCount(), "conflicted item is not delivered")

		conflicts, err := repo.ListUnresolvedConflicts(ctx, job.ID, 10)
		require.NoError(t, err)
		require.Len(t, conflicts, 1)
		assert.Equal(t, domain.ConflictValidationError, conflicts[0].Kind)
		assert.Equal(t, item.ID, conflicts[0].ItemID)
	})

	t.Run("duplicate key skips with a resolved conflict", func(t *testing.T) {
		repo := newMemRepo()
		job := newTestJob(t, tenantID, domain.JobConfig{})
		newQueueItem(t, repo, tenantID, "sku-1", `{"id":"A-1","name":"Widget"}`, `{"id":"B-9","name":"Widget"}`)
		processor := NewBatchProcessor(repo, nil, nil)

		result, err := processor.Process(ctx, job, fetchAll(t, repo, tenantID), &stubAdapter{}, &stubLimiter{}, instantResolver(3))
		require.NoError(t, err)
		assert.Equal(t, BatchResult{Skipped: 1}, result)

		open, err := repo.ListUnresolvedConflicts(ctx, job.ID, 10)
		require.NoError(t, err)
		assert.Empty(t, open, "skip conflicts are recorded already resolved")
		stats, err := repo.GetConflictStats(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.ByKind[domain.ConflictDuplicateKey])
	})

	t.Run("auto retry delivers the merged payload", func(t *testing.T) {
		repo := newMemRepo()
		job := newTestJob(t, tenantID, domain.JobConfig{})
		newQueueItem(t, repo, tenantID, "sku-1", `{"name":"Widget","qty":10}`, `{"name":"Widget","qty":12}`)
		var delivered domain.Payload
		adapter := &stubAdapter{fn: func(_ *domain.SyncItem, payload domain.Payload) error {
			delivered = payload
			return nil
		}}
		processor := NewBatchProcessor(repo, nil, nil)

		result, err := processor.Process(ctx, job, fetchAll(t, repo, tenantID), adapter, &stubLimiter{}, instantResolver(3))
		require.NoError(t, err)
		assert.Equal(t, BatchResult{Processed: 1}, result)
		require.NotNil(t, delivered)
		assert.Equal(t, "12", delivered["qty"].String())
		assert.True(t, delivered["_resolved"].Bool())
	})

	t.Run("transient failure returns the item to the queue", func(t *testing.T) {
		repo := newMemRepo()
		job := newTestJob(t, tenantID, domain.JobConfig{MaxRetries: 3})
		item := newQueueItem(t, repo, tenantID, "sku-1", `{"name":"Widget"}`, `{}`)
		adapter := &stubAdapter{fn: func(*domain.SyncItem, domain.Payload) error {
			return errors.New("connection reset")
		}}
		processor := NewBatchProcessor(repo, nil, nil)

		result, err := processor.Process(ctx, job, []*domain.SyncItem{item}, adapter, &stubLimiter{}, instantResolver(3))
		require.NoError(t, err)
		assert.Equal(t, BatchResult{Retried: 1}, result)

		stored, err := repo.FindItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ItemStatusPending, stored.Status)
		assert.Equal(t, 1, stored.RetryCount)
		assert.Equal(t, "connection reset", stored.LastError)
	})

	t.Run("idempotency key survives retries", func(t *testing.T) {
		repo := newMemRepo()
		job := newTestJob(t, tenantID, domain.JobConfig{MaxRetries: 3})
		item := newQueueItem(t, repo, tenantID, "sku-1", `{"name":"Widget"}`, `{}`)
		adapter := &stubAdapter{fn: func(*domain.SyncItem, domain.Payload) error {
			return errors.New("connection reset")
		}}
		processor := NewBatchProcessor(repo, nil, nil)

		_, err := processor.Process(ctx, job, []*domain.SyncItem{item}, adapter, &stubLimiter{}, instantResolver(3))
		require.NoError(t, err)
		afterFirst, err := repo.FindItem(ctx, item.ID)
		require.NoError(t, err)
		require.NotEmpty(t, afterFirst.IdempotencyKey)

		_, err = processor.Process(ctx, job, []*domain.SyncItem{afterFirst}, adapter, &stubLimiter{}, instantResolver(3))
		require.NoError(t, err)
		afterSecond, err := repo.FindItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, afterFirst.IdempotencyKey, afterSecond.IdempotencyKey)
	})

	t.Run("exhausted retries fail the item with a conflict", func(t *testing.T) {
		repo := newMemRepo()
		job := newTestJob(t, tenantID, domain.JobConfig{MaxRetries: 2})
		item := newQueueItem(t, repo, tenantID, "sku-1", `{"name":"Widget"}`, `{}`)
		item.RetryCount = 1
		adapter := &stubAdapter{fn: func(*domain.SyncItem, domain.Payload) error {
			return errors.New("still down")
		}}
		processor := NewBatchProcessor(repo, nil, nil)

		result, err := processor.Process(ctx, job, []*domain.SyncItem{item}, adapter, &stubLimiter{}, instantResolver(2))
		require.NoError(t, err)
		assert.Equal(t, BatchResult{Failed: 1}, result)

		conflicts, err := repo.ListUnresolvedConflicts(ctx, job.ID, 10)
		require.NoError(t, err)
		require.Len(t, conflicts, 1)
		assert.Equal(t, domain.ConflictRetryExhausted, conflicts[0].Kind)
	})

	t.Run("permission failure is an auth conflict without retries", func(t *testing.T) {
		repo := newMemRepo()
		job := newTestJob(t, tenantID, domain.JobConfig{MaxRetries: 3})
		item := newQueueItem(t, repo, tenantID, "sku-1", `{"name":"Widget"}`, `{}`)
		adapter := &stubAdapter{fn: func(*domain.SyncItem, domain.Payload) error {
			return fmt.Errorf("apply: %w", domain.ErrAdapterPermission)
		}}
		processor := NewBatchProcessor(repo, nil, nil)

		result, err := processor.Process(ctx, job, []*domain.SyncItem{item}, adapter, &stubLimiter{}, instantResolver(3))
		require.NoError(t, err)
		assert.Equal(t, BatchResult{Failed: 1}, result)

		stored, err := repo.FindItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ItemStatusFailed, stored.Status)
		assert.Equal(t, 0, stored.RetryCount)

		conflicts, err := repo.ListUnresolvedConflicts(ctx, job.ID, 10)
		require.NoError(t, err)
		require.Len(t, conflicts, 1)
		assert.Equal(t, domain.ConflictAuthError, conflicts[0].Kind)
	})

	t.Run("one bad item does not sink the batch", func(t *testing.T) {
		repo := newMemRepo()
		job := newTestJob(t, tenantID, domain.JobConfig{MaxRetries: 3})
		newQueueItem(t, repo, tenantID, "sku-1", `{"name":"Widget"}`, `{}`)
		newQueueItem(t, repo, tenantID, "sku-2", `{"name":"","email":"x"}`, `{"name":""}`)
		newQueueItem(t, repo, tenantID, "sku-3", `{"name":"Gear"}`, `{}`)
		processor := NewBatchProcessor(repo, nil, nil)

		result, err := processor.Process(ctx, job, fetchAll(t, repo, tenantID), &stubAdapter{}, &stubLimiter{}, instantResolver(3))
		require.NoError(t, err)
		assert.Equal(t, BatchResult{Processed: 2, Failed: 1}, result)
	})

	t.Run("infrastructure error rolls the batch back", func(t *testing.T) {
		repo := newMemRepo()
		job := newTestJob(t, tenantID, domain.JobConfig{})
		newQueueItem(t, repo, tenantID, "sku-1", `{"name":"Widget"}`, `{}`)
		newQueueItem(t, repo, tenantID, "sku-2", `{"name":"Gadget"}`, `{}`)
		items := fetchAll(t, repo, tenantID)
		repo.failUpdateItemAt = repo.updateItemCalls + 2
		processor := NewBatchProcessor(repo, nil, nil)

		result, err := processor.Process(ctx, job, items, &stubAdapter{}, &stubLimiter{}, instantResolver(3))
		require.Error(t, err)
		assert.Equal(t, BatchResult{}, result)
		assert.Equal(t, 2, repo.itemStatusCounts()[domain.ItemStatusPending], "first item's write was rolled back")
		assert.Contains(t, repo.actions(), domain.ActivityBatchError)
	})
}
