package sync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/syncengine/internal/domain/shared"
	domain "github.com/erp/syncengine/internal/domain/sync"
)

func newTestService(repo *memRepo, adapter domain.TargetAdapter) *Service {
	return NewService(repo, &stubRegistry{adapter: adapter}, &stubLimiterFactory{}, nil, nil)
}

func waitForTerminal(t *testing.T, repo *memRepo, jobID uuid.UUID) *domain.SyncJob {
	t.Helper()
	var job *domain.SyncJob
	require.Eventually(t, func() bool {
		stored, err := repo.FindJob(context.Background(), jobID)
		if err != nil {
			return false
		}
		job = stored
		return stored.Status.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond)
	return job
}

func TestService_StartSync(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("runs a job to completion in the background", func(t *testing.T) {
		repo := newMemRepo()
		seedItems(t, repo, tenantID, 3)
		svc := newTestService(repo, &stubAdapter{})

		job, err := svc.StartSync(ctx, tenantID,
			[]domain.SystemCode{"shopify"},
			[]domain.EntityType{domain.EntityTypeProducts},
			fastConfig(),
		)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusQueued, job.Status)

		stored := waitForTerminal(t, repo, job.ID)
		assert.Equal(t, domain.JobStatusDone, stored.Status)
		assert.Equal(t, 3, stored.ProcessedCount)
	})

	t.Run("rejects invalid job parameters", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo, &stubAdapter{})

		_, err := svc.StartSync(ctx, tenantID, nil, []domain.EntityType{domain.EntityTypeProducts}, fastConfig())
		assert.Error(t, err)

		_, err = svc.StartSync(ctx, tenantID, []domain.SystemCode{"shopify"},
			[]domain.EntityType{"spaceships"}, fastConfig())
		assert.Error(t, err)
	})

	t.Run("caps concurrent jobs per tenant", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo, &stubAdapter{})
		// Pre-seed five active jobs straight into storage.
		for i := 0; i < MaxActiveJobsPerTenant; i++ {
			job := queuedJob(t, repo, tenantID, fastConfig())
			_ = job
		}

		_, err := svc.StartSync(ctx, tenantID,
			[]domain.SystemCode{"shopify"},
			[]domain.EntityType{domain.EntityTypeProducts},
			fastConfig(),
		)
		assert.ErrorIs(t, err, shared.ErrTooManyJobs)

		// A different tenant is unaffected.
		otherTenant := uuid.New()
		_, err = svc.StartSync(ctx, otherTenant,
			[]domain.SystemCode{"shopify"},
			[]domain.EntityType{domain.EntityTypeProducts},
			fastConfig(),
		)
		assert.NoError(t, err)
	})
}

func TestService_Control(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("status of an unknown job is not found", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo, &stubAdapter{})
		_, err := svc.JobStatus(ctx, uuid.New())
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("status of a finished job is served from storage", func(t *testing.T) {
		repo := newMemRepo()
		seedItems(t, repo, tenantID, 2)
		svc := newTestService(repo, &stubAdapter{})

		job, err := svc.StartSync(ctx, tenantID,
			[]domain.SystemCode{"shopify"},
			[]domain.EntityType{domain.EntityTypeProducts},
			fastConfig(),
		)
		require.NoError(t, err)
		waitForTerminal(t, repo, job.ID)

		view, err := svc.JobStatus(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusDone.String(), view.Status)
		assert.Equal(t, 100, view.PercentComplete)
	})

	t.Run("control of a finished job is an invalid state, not missing", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo, &stubAdapter{})
		job, err := svc.StartSync(ctx, tenantID,
			[]domain.SystemCode{"shopify"},
			[]domain.EntityType{domain.EntityTypeProducts},
			fastConfig(),
		)
		require.NoError(t, err)
		waitForTerminal(t, repo, job.ID)

		assert.ErrorIs(t, svc.PauseSync(ctx, job.ID), shared.ErrInvalidState)
		assert.ErrorIs(t, svc.ResumeSync(ctx, job.ID), shared.ErrInvalidState)
		assert.ErrorIs(t, svc.CancelSync(ctx, job.ID), shared.ErrInvalidState)
	})

	t.Run("control of an unknown job is not found", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo, &stubAdapter{})
		assert.ErrorIs(t, svc.PauseSync(ctx, uuid.New()), shared.ErrNotFound)
	})
}

func TestService_EnqueueItem(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	repo := newMemRepo()
	svc := newTestService(repo, &stubAdapter{})

	item, err := svc.EnqueueItem(ctx, tenantID, domain.EntityTypeCustomers, "erp", "shopify",
		"cust-9", payloadOf(t, `{"name":"Jo"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStatusPending, item.Status)

	fetched, err := repo.FetchPendingItems(ctx, tenantID, "shopify", domain.EntityTypeCustomers, 10)
	require.NoError(t, err)
	require.Len(t, fetched, 1)
	assert.Equal(t, item.ID, fetched[0].ID)

	_, err = svc.EnqueueItem(ctx, tenantID, domain.EntityTypeCustomers, "erp", "shopify", "", nil, nil)
	assert.Error(t, err, "external ID is required")
}

func TestService_Conflicts(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	startFailingJob := func(t *testing.T, repo *memRepo, svc *Service, dataJSON string) (*domain.SyncJob, *domain.Conflict, *domain.SyncItem) {
		t.Helper()
		item, err := svc.EnqueueItem(ctx, tenantID, domain.EntityTypeProducts, "erp", "shopify",
			"sku-1", payloadOf(t, dataJSON), payloadOf(t, dataJSON))
		require.NoError(t, err)

		job, err := svc.StartSync(ctx, tenantID,
			[]domain.SystemCode{"shopify"},
			[]domain.EntityType{domain.EntityTypeProducts},
			fastConfig(),
		)
		require.NoError(t, err)
		waitForTerminal(t, repo, job.ID)

		conflicts, _, err := svc.ListConflicts(ctx, job.ID, 10)
		require.NoError(t, err)
		require.Len(t, conflicts, 1)
		return job, conflicts[0], item
	}

	t.Run("lists unresolved conflicts with stats", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo, &stubAdapter{})
		job, conflict, _ := startFailingJob(t, repo, svc, `{"name":"","email":"x"}`)

		assert.Equal(t, domain.ConflictValidationError, conflict.Kind)
		_, stats, err := svc.ListConflicts(ctx, job.ID, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.Total)
		assert.Equal(t, int64(1), stats.Unresolved)
	})

	t.Run("reject closes the conflict and leaves the item failed", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo, &stubAdapter{})
		job, conflict, item := startFailingJob(t, repo, svc, `{"name":"","email":"x"}`)

		resolved, err := svc.ResolveConflict(ctx, conflict.ID, domain.ResolutionReject, nil, "ops@example.com")
		require.NoError(t, err)
		assert.True(t, resolved.Resolved)
		assert.Equal(t, "ops@example.com", resolved.ResolvedBy)
		require.NotNil(t, resolved.ResolvedAt)

		stored, err := repo.FindItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ItemStatusFailed, stored.Status)

		_, stats, err := svc.ListConflicts(ctx, job.ID, 10)
		require.NoError(t, err)
		assert.Zero(t, stats.Unresolved)
	})

	t.Run("accept folds the delta in, re-queues, and a later run delivers", func(t *testing.T) {
		repo := newMemRepo()
		adapter := &stubAdapter{fn: func(*domain.SyncItem, domain.Payload) error {
			return fmt.Errorf("apply: %w", domain.ErrAdapterPermission)
		}}
		svc := newTestService(repo, adapter)

		item, err := svc.EnqueueItem(ctx, tenantID, domain.EntityTypeProducts, "erp", "shopify",
			"sku-1", payloadOf(t, `{"name":"Widget","qty":1}`), payloadOf(t, `{"qty":5}`))
		require.NoError(t, err)

		job, err := svc.StartSync(ctx, tenantID,
			[]domain.SystemCode{"shopify"},
			[]domain.EntityType{domain.EntityTypeProducts},
			fastConfig(),
		)
		require.NoError(t, err)
		waitForTerminal(t, repo, job.ID)

		conflicts, _, err := svc.ListConflicts(ctx, job.ID, 10)
		require.NoError(t, err)
		require.Len(t, conflicts, 1)
		assert.Equal(t, domain.ConflictAuthError, conflicts[0].Kind)

		resolved, err := svc.ResolveConflict(ctx, conflicts[0].ID, domain.ResolutionAccept, nil, "ops")
		require.NoError(t, err)
		assert.True(t, resolved.Resolved)
		assert.Equal(t, domain.ResolutionAccept, resolved.Resolution)

		stored, err := repo.FindItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ItemStatusPending, stored.Status)
		assert.Zero(t, stored.RetryCount)
		assert.Empty(t, stored.IdempotencyKey)
		assert.Empty(t, stored.Delta)
		assert.True(t, stored.Data.Equal(payloadOf(t, `{"name":"Widget","qty":5}`)),
			"target delta folded into the item data")

		adapter.fn = nil
		rerun, err := svc.StartSync(ctx, tenantID,
			[]domain.SystemCode{"shopify"},
			[]domain.EntityType{domain.EntityTypeProducts},
			fastConfig(),
		)
		require.NoError(t, err)
		waitForTerminal(t, repo, rerun.ID)

		stored, err = repo.FindItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ItemStatusCompleted, stored.Status)
	})

	t.Run("custom resolution re-queues the item with replacement data", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo, &stubAdapter{})
		_, conflict, item := startFailingJob(t, repo, svc, `{"name":"","email":"x"}`)

		replacement := payloadOf(t, `{"name":"Fixed","email":"ops@acme.test"}`)
		_, err := svc.ResolveConflict(ctx, conflict.ID, domain.ResolutionCustom, replacement, "ops")
		require.NoError(t, err)

		stored, err := repo.FindItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ItemStatusPending, stored.Status)
		assert.Zero(t, stored.RetryCount)
		assert.Empty(t, stored.IdempotencyKey)
		assert.True(t, stored.Data.Equal(replacement))
	})

	t.Run("custom resolution requires replacement data", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo, &stubAdapter{})
		_, conflict, _ := startFailingJob(t, repo, svc, `{"name":"","email":"x"}`)

		_, err := svc.ResolveConflict(ctx, conflict.ID, domain.ResolutionCustom, nil, "ops")
		assert.Error(t, err)
	})

	t.Run("resolving twice is rejected", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo, &stubAdapter{})
		_, conflict, _ := startFailingJob(t, repo, svc, `{"name":"","email":"x"}`)

		_, err := svc.ResolveConflict(ctx, conflict.ID, domain.ResolutionReject, nil, "ops")
		require.NoError(t, err)
		_, err = svc.ResolveConflict(ctx, conflict.ID, domain.ResolutionReject, nil, "ops")
		assert.ErrorIs(t, err, shared.ErrInvalidState)
	})

	t.Run("unknown conflict is not found", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo, &stubAdapter{})
		_, err := svc.ResolveConflict(ctx, uuid.New(), domain.ResolutionReject, nil, "ops")
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}
