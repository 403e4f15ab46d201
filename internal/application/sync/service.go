package sync

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/syncengine/internal/domain/shared"
	domain "github.com/erp/syncengine/internal/domain/sync"
)

// MaxActiveJobsPerTenant caps concurrently running jobs per tenant.
const MaxActiveJobsPerTenant = 5

// Service is the application facade over the sync engine: it starts and
// controls jobs, feeds the item queue, and handles manual conflict
// resolution. HTTP handlers talk to this type only.
type Service struct {
	repo     domain.Repository
	adapters domain.AdapterRegistry
	limiters domain.RateLimiterFactory
	batches  *BatchProcessor
	registry *Registry
	logger   *zap.Logger

	maxActiveJobs int
	jobDefaults   domain.JobConfig

	// runContext produces the context a job runs under. Detached from
	// the request context so jobs survive the originating request.
	runContext func() context.Context
}

// SetMaxActiveJobs overrides the per-tenant running job cap.
func (s *Service) SetMaxActiveJobs(n int) {
	if n > 0 {
		s.maxActiveJobs = n
	}
}

// SetJobDefaults installs server-level defaults for settings a start
// request leaves unset. Explicit request values still win.
func (s *Service) SetJobDefaults(defaults domain.JobConfig) {
	s.jobDefaults = defaults
}

func (s *Service) applyJobDefaults(cfg domain.JobConfig) domain.JobConfig {
	if cfg.ConflictStrategy == "" {
		cfg.ConflictStrategy = s.jobDefaults.ConflictStrategy
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = s.jobDefaults.BatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = s.jobDefaults.MaxRetries
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = s.jobDefaults.RateLimit
	}
	if cfg.InterBatchDelay <= 0 {
		cfg.InterBatchDelay = s.jobDefaults.InterBatchDelay
	}
	return cfg
}

// NewService wires the service facade.
func NewService(
	repo domain.Repository,
	adapters domain.AdapterRegistry,
	limiters domain.RateLimiterFactory,
	cache domain.IdempotencyCache,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:          repo,
		adapters:      adapters,
		limiters:      limiters,
		batches:       NewBatchProcessor(repo, cache, logger),
		registry:      NewRegistry(),
		logger:        logger,
		maxActiveJobs: MaxActiveJobsPerTenant,
		runContext:    context.Background,
	}
}

// StartSync creates a job, registers its orchestrator and launches the
// run on its own goroutine. It returns once the job is queued.
func (s *Service) StartSync(
	ctx context.Context,
	tenantID uuid.UUID,
	systems []domain.SystemCode,
	entityTypes []domain.EntityType,
	cfg domain.JobConfig,
) (*domain.SyncJob, error) {
	active, err := s.repo.CountActiveJobs(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if active >= int64(s.maxActiveJobs) {
		return nil, shared.ErrTooManyJobs
	}

	job, err := domain.NewSyncJob(tenantID, systems, entityTypes, s.applyJobDefaults(cfg))
	if err != nil {
		return nil, err
	}
	if err := job.Queue(); err != nil {
		return nil, err
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	orch := NewOrchestrator(job, s.repo, s.batches, s.adapters, s.limiters, s.logger)
	s.registry.Add(job.ID, orch)

	go func() {
		defer s.registry.Remove(job.ID)
		// The run error is already recorded on the job and logged.
		_ = orch.Run(s.runContext())
	}()

	s.logger.Info("Sync job queued",
		zap.String("job_id", job.ID.String()),
		zap.String("tenant_id", tenantID.String()),
	)
	return job, nil
}

// PauseSync suspends a running job at its next batch boundary.
func (s *Service) PauseSync(ctx context.Context, jobID uuid.UUID) error {
	orch, err := s.runningOrchestrator(ctx, jobID)
	if err != nil {
		return err
	}
	return orch.Pause(ctx)
}

// ResumeSync continues a paused job.
func (s *Service) ResumeSync(ctx context.Context, jobID uuid.UUID) error {
	orch, err := s.runningOrchestrator(ctx, jobID)
	if err != nil {
		return err
	}
	return orch.Resume(ctx)
}

// CancelSync stops a job before its next batch.
func (s *Service) CancelSync(ctx context.Context, jobID uuid.UUID) error {
	orch, err := s.runningOrchestrator(ctx, jobID)
	if err != nil {
		return err
	}
	return orch.Cancel(ctx)
}

// JobStatus snapshots a job's progress. Running jobs are served through
// their orchestrator; finished jobs are read back from storage.
func (s *Service) JobStatus(ctx context.Context, jobID uuid.UUID) (*JobStatusView, error) {
	if orch, ok := s.registry.Get(jobID); ok {
		return orch.Status(ctx)
	}
	job, err := s.repo.FindJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return BuildStatus(ctx, s.repo, job)
}

// runningOrchestrator resolves the in-process orchestrator for a job.
// A job that exists but is not running here yields an invalid-state
// error rather than not-found.
func (s *Service) runningOrchestrator(ctx context.Context, jobID uuid.UUID) (*Orchestrator, error) {
	if orch, ok := s.registry.Get(jobID); ok {
		return orch, nil
	}
	if _, err := s.repo.FindJob(ctx, jobID); err != nil {
		return nil, err
	}
	return nil, shared.ErrInvalidState
}

// EnqueueItem adds one change to the item queue for a later run.
func (s *Service) EnqueueItem(
	ctx context.Context,
	tenantID uuid.UUID,
	entityType domain.EntityType,
	source, target domain.SystemCode,
	externalID string,
	data, delta domain.Payload,
) (*domain.SyncItem, error) {
	item, err := domain.NewSyncItem(tenantID, entityType, source, target, externalID, data, delta)
	if err != nil {
		return nil, err
	}
	if err := s.repo.EnqueueItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// ListConflicts returns up to limit open conflicts for a job together
// with the job's conflict statistics.
func (s *Service) ListConflicts(ctx context.Context, jobID uuid.UUID, limit int) ([]*domain.Conflict, domain.ConflictStats, error) {
	if limit <= 0 {
		limit = 50
	}
	if _, err := s.repo.FindJob(ctx, jobID); err != nil {
		return nil, domain.ConflictStats{}, err
	}
	conflicts, err := s.repo.ListUnresolvedConflicts(ctx, jobID, limit)
	if err != nil {
		return nil, domain.ConflictStats{}, err
	}
	stats, err := s.repo.GetConflictStats(ctx, jobID)
	if err != nil {
		return nil, domain.ConflictStats{}, err
	}
	return conflicts, stats, nil
}

// ResolveConflict closes a manual-review conflict. Accept re-queues the
// item with the target data folded in; custom re-queues it with the
// operator's replacement data; reject leaves the item failed.
func (s *Service) ResolveConflict(
	ctx context.Context,
	conflictID uuid.UUID,
	action domain.ResolutionAction,
	customData domain.Payload,
	resolvedBy string,
) (*domain.Conflict, error) {
	var resolved *domain.Conflict
	err := s.repo.InTransaction(ctx, func(ctx context.Context, tx domain.Repository) error {
		conflict, err := tx.FindConflict(ctx, conflictID)
		if err != nil {
			return err
		}
		if err := conflict.Resolve(action, resolvedBy, customData); err != nil {
			return err
		}
		if err := tx.UpdateConflict(ctx, conflict); err != nil {
			return err
		}

		if action == domain.ResolutionAccept || action == domain.ResolutionCustom {
			if err := s.requeueItem(ctx, tx, conflict, action, customData); err != nil {
				return err
			}
		}

		tx.AppendActivityLog(ctx, &domain.ActivityLogEntry{
			JobID:  conflict.JobID,
			Action: domain.ActivityConflictFixed,
			Details: map[string]any{
				"conflict_id": conflict.ID.String(),
				"action":      string(action),
				"resolved_by": resolvedBy,
			},
		})
		resolved = conflict
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// requeueItem puts a conflicted item back on the pending queue with a
// fresh retry budget and the resolved payload.
func (s *Service) requeueItem(
	ctx context.Context,
	tx domain.Repository,
	conflict *domain.Conflict,
	action domain.ResolutionAction,
	customData domain.Payload,
) error {
	item, err := tx.FindItem(ctx, conflict.ItemID)
	if err != nil {
		return err
	}
	switch action {
	case domain.ResolutionAccept:
		item.Data = item.Data.Merge(item.Delta)
	case domain.ResolutionCustom:
		item.Data = customData.Clone()
	}
	item.Delta = nil
	item.Requeue()
	return tx.UpdateItem(ctx, item)
}
