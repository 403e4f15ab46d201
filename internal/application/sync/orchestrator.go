package sync

import (
	"context"
	gosync "sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/erp/syncengine/internal/domain/shared"
	domain "github.com/erp/syncengine/internal/domain/sync"
)

// DefaultPausePollInterval is how often a paused run re-checks its flags.
const DefaultPausePollInterval = 100 * time.Millisecond

// Orchestrator drives one sync job end to end: fetch pending items per
// (system, entity type) queue, hand them to the batch processor, pace
// between batches and systems, and finalize the job. One orchestrator
// owns one job; control calls (pause, resume, cancel) may arrive from
// other goroutines and take effect at the next batch boundary.
type Orchestrator struct {
	job      *domain.SyncJob
	repo     domain.Repository
	batches  *BatchProcessor
	resolver *ConflictResolver
	adapters domain.AdapterRegistry
	limiters domain.RateLimiterFactory
	logger   *zap.Logger

	pausePoll time.Duration

	// One bucket per target system, shared by every entity-type queue
	// toward that system so the configured rate bounds the system as a
	// whole. Only the run goroutine touches this map.
	sysLimiters map[domain.SystemCode]domain.RateLimiter

	mu        gosync.Mutex // guards job mutations
	paused    atomic.Bool
	cancelled atomic.Bool
	running   atomic.Bool
}

// NewOrchestrator wires an orchestrator for one queued job.
func NewOrchestrator(
	job *domain.SyncJob,
	repo domain.Repository,
	batches *BatchProcessor,
	adapters domain.AdapterRegistry,
	limiters domain.RateLimiterFactory,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		job:     job,
		repo:    repo,
		batches: batches,
		resolver: NewConflictResolver(ResolverConfig{
			MaxRetries:      job.Config.MaxRetries,
			DefaultStrategy: job.Config.ConflictStrategy,
		}, logger),
		adapters:    adapters,
		limiters:    limiters,
		logger:      logger.With(zap.String("job_id", job.ID.String())),
		pausePoll:   DefaultPausePollInterval,
		sysLimiters: make(map[domain.SystemCode]domain.RateLimiter),
	}
}

// JobID returns the owned job's ID.
func (o *Orchestrator) JobID() string { return o.job.ID.String() }

// TenantID returns the owning tenant.
func (o *Orchestrator) TenantID() string { return o.job.TenantID.String() }

// Run executes the job to completion. It is called once, on its own
// goroutine; the returned error is also recorded on the job itself.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return shared.ErrInvalidState
	}
	defer o.running.Store(false)

	if err := o.updateJob(ctx, (*domain.SyncJob).StartProcessing); err != nil {
		return err
	}
	o.logActivity(ctx, domain.ActivitySyncStarted, map[string]any{
		"systems":      o.job.Systems,
		"entity_types": o.job.EntityTypes,
	})
	o.logger.Info("Sync started",
		zap.Int("systems", len(o.job.Systems)),
		zap.Int("entity_types", len(o.job.EntityTypes)),
	)

	totals, runErr := o.runQueues(ctx)
	return o.finalize(ctx, totals, runErr)
}

// runQueues walks every (system, entity type) queue in order.
func (o *Orchestrator) runQueues(ctx context.Context) (domain.Totals, error) {
	var totals domain.Totals
	interSystemDelay := o.job.Config.InterBatchDelay / 2

	for si, system := range o.job.Systems {
		if si > 0 {
			if err := sleepContext(ctx, interSystemDelay); err != nil {
				return totals, err
			}
		}
		for _, entityType := range o.job.EntityTypes {
			queueTotals, err := o.runQueue(ctx, system, entityType)
			totals = totals.Add(queueTotals)
			if err != nil {
				return totals, err
			}
			if o.cancelled.Load() {
				return totals, nil
			}
		}
	}
	return totals, nil
}

// runQueue drains one queue batch by batch.
func (o *Orchestrator) runQueue(ctx context.Context, system domain.SystemCode, entityType domain.EntityType) (domain.Totals, error) {
	var totals domain.Totals

	adapter, err := o.adapters.Adapter(system, entityType)
	if err != nil {
		return totals, err
	}
	limiter := o.limiterFor(system)

	items, err := o.repo.FetchPendingItems(ctx, o.job.TenantID, system, entityType, domain.FetchWindow)
	if err != nil {
		return totals, err
	}
	if len(items) == 0 {
		o.logActivity(ctx, domain.ActivityNoItems, map[string]any{
			"system": string(system), "entity_type": entityType.String(),
		})
		return totals, nil
	}

	o.logger.Info("Draining queue",
		zap.String("system", string(system)),
		zap.String("entity_type", entityType.String()),
		zap.Int("items", len(items)),
	)

	batchSize := o.job.Config.BatchSize
	for start := 0; start < len(items); start += batchSize {
		if err := ctx.Err(); err != nil {
			return totals, err
		}
		if err := o.waitWhilePaused(ctx); err != nil {
			return totals, err
		}
		if o.cancelled.Load() {
			return totals, nil
		}

		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		result, err := o.batches.Process(ctx, o.job, items[start:end], adapter, limiter, o.resolver)
		if err != nil {
			return totals, err
		}
		totals = totals.Add(result.Totals())

		if end < len(items) {
			if err := sleepContext(ctx, o.job.Config.InterBatchDelay); err != nil {
				return totals, err
			}
		}
	}
	return totals, nil
}

// limiterFor returns this job's token bucket for a target system,
// creating it on first use. Every entity-type queue toward the same
// system draws from the same bucket.
func (o *Orchestrator) limiterFor(system domain.SystemCode) domain.RateLimiter {
	if limiter, ok := o.sysLimiters[system]; ok {
		return limiter
	}
	limiter := o.limiters.ForSystem(system, o.job.Config.RateLimit)
	o.sysLimiters[system] = limiter
	return limiter
}

// waitWhilePaused blocks while the pause flag is set, polling so that
// resume and cancel take effect promptly.
func (o *Orchestrator) waitWhilePaused(ctx context.Context) error {
	for o.paused.Load() && !o.cancelled.Load() {
		if err := sleepContext(ctx, o.pausePoll); err != nil {
			return err
		}
	}
	return nil
}

// finalize persists the job's terminal state and emits the closing
// activity entry. Cancellation was already persisted by Cancel.
func (o *Orchestrator) finalize(ctx context.Context, totals domain.Totals, runErr error) error {
	if runErr != nil {
		o.logger.Error("Sync failed", zap.Error(runErr))
		if err := o.updateJob(ctx, func(j *domain.SyncJob) error {
			j.RecordProgress(totals)
			return j.Fail(runErr.Error())
		}); err != nil {
			o.logger.Error("Failed to persist job failure", zap.Error(err))
		}
		o.logActivity(ctx, domain.ActivitySyncError, map[string]any{"error": runErr.Error()})
		return runErr
	}

	if o.cancelled.Load() {
		// Cancel already moved the job to its terminal status; the work
		// committed before the stop still has to land on the record.
		if err := o.updateJob(ctx, func(j *domain.SyncJob) error {
			j.RecordProgress(totals)
			return nil
		}); err != nil {
			o.logger.Error("Failed to persist cancelled job totals", zap.Error(err))
		}
		o.logger.Info("Sync cancelled",
			zap.Int("processed", totals.Processed),
			zap.Int("failed", totals.Failed),
			zap.Int("skipped", totals.Skipped),
		)
		return nil
	}

	if err := o.updateJob(ctx, func(j *domain.SyncJob) error { return j.Complete(totals) }); err != nil {
		return err
	}
	o.logActivity(ctx, domain.ActivitySyncCompleted, map[string]any{
		"processed": totals.Processed,
		"failed":    totals.Failed,
		"skipped":   totals.Skipped,
	})
	o.logger.Info("Sync completed",
		zap.String("status", o.job.Status.String()),
		zap.Int("processed", totals.Processed),
		zap.Int("failed", totals.Failed),
		zap.Int("skipped", totals.Skipped),
	)
	return nil
}

// Pause suspends processing at the next batch boundary.
func (o *Orchestrator) Pause(ctx context.Context) error {
	if err := o.updateJob(ctx, (*domain.SyncJob).Pause); err != nil {
		return err
	}
	o.paused.Store(true)
	o.logActivity(ctx, domain.ActivitySyncPaused, nil)
	o.logger.Info("Sync paused")
	return nil
}

// Resume continues a paused job.
func (o *Orchestrator) Resume(ctx context.Context) error {
	if err := o.updateJob(ctx, (*domain.SyncJob).Resume); err != nil {
		return err
	}
	o.paused.Store(false)
	o.logActivity(ctx, domain.ActivitySyncResumed, nil)
	o.logger.Info("Sync resumed")
	return nil
}

// Cancel stops the job before its next batch. In-flight work completes;
// items already delivered stay delivered.
func (o *Orchestrator) Cancel(ctx context.Context) error {
	if err := o.updateJob(ctx, (*domain.SyncJob).Cancel); err != nil {
		return err
	}
	o.cancelled.Store(true)
	o.paused.Store(false)
	o.logActivity(ctx, domain.ActivitySyncCancelled, nil)
	o.logger.Info("Cancellation requested")
	return nil
}

// Status snapshots the job's progress.
func (o *Orchestrator) Status(ctx context.Context) (*JobStatusView, error) {
	o.mu.Lock()
	snapshot := *o.job
	o.mu.Unlock()
	return BuildStatus(ctx, o.repo, &snapshot)
}

// updateJob applies a state transition under the job mutex and persists
// the result.
func (o *Orchestrator) updateJob(ctx context.Context, fn func(*domain.SyncJob) error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := fn(o.job); err != nil {
		return err
	}
	return o.repo.UpdateJob(ctx, o.job)
}

func (o *Orchestrator) logActivity(ctx context.Context, action domain.ActivityAction, details map[string]any) {
	o.repo.AppendActivityLog(ctx, &domain.ActivityLogEntry{
		JobID:    o.job.ID,
		TenantID: o.job.TenantID,
		Action:   action,
		Details:  details,
	})
}
