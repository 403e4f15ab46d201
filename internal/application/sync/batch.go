package sync

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/syncengine/internal/domain/shared"
	domain "github.com/erp/syncengine/internal/domain/sync"
)

// BatchResult reports the outcome of one committed batch. Results are
// value types; the orchestrator folds them into running totals instead
// of sharing mutable counters with the processor.
type BatchResult struct {
	Processed int
	Failed    int
	Skipped   int
	Retried   int
}

// Totals converts the result into job-level counters. Items returned to
// the queue for retry are not counted until they terminate.
func (r BatchResult) Totals() domain.Totals {
	return domain.Totals{Processed: r.Processed, Failed: r.Failed, Skipped: r.Skipped}
}

func (r BatchResult) add(other BatchResult) BatchResult {
	return BatchResult{
		Processed: r.Processed + other.Processed,
		Failed:    r.Failed + other.Failed,
		Skipped:   r.Skipped + other.Skipped,
		Retried:   r.Retried + other.Retried,
	}
}

// BatchProcessor pushes one batch of queue items through resolution and
// delivery inside a single transaction. A business failure on one item
// never aborts the batch; only infrastructure errors roll it back.
type BatchProcessor struct {
	repo   domain.Repository
	cache  domain.IdempotencyCache
	logger *zap.Logger
}

// NewBatchProcessor creates a batch processor. cache may be nil; the
// durable ledger inside the repository remains authoritative either way.
func NewBatchProcessor(repo domain.Repository, cache domain.IdempotencyCache, logger *zap.Logger) *BatchProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchProcessor{repo: repo, cache: cache, logger: logger}
}

// Process handles every item of the batch in one transaction and returns
// the committed outcome counts. On an infrastructure error the
// transaction rolls back and the error propagates with a zero result.
func (p *BatchProcessor) Process(
	ctx context.Context,
	job *domain.SyncJob,
	items []*domain.SyncItem,
	adapter domain.TargetAdapter,
	limiter domain.RateLimiter,
	resolver *ConflictResolver,
) (BatchResult, error) {
	var result BatchResult
	var appliedKeys []string

	err := p.repo.InTransaction(ctx, func(ctx context.Context, tx domain.Repository) error {
		for _, item := range items {
			outcome, key, err := p.processItem(ctx, tx, job, item, adapter, limiter, resolver)
			if err != nil {
				return err
			}
			result = result.add(outcome)
			if key != "" {
				appliedKeys = append(appliedKeys, key)
			}
		}
		return nil
	})
	if err != nil {
		p.logger.Error("Batch rolled back",
			zap.String("job_id", job.ID.String()),
			zap.Int("batch_size", len(items)),
			zap.Error(err),
		)
		p.repo.AppendActivityLog(ctx, &domain.ActivityLogEntry{
			JobID:    job.ID,
			TenantID: job.TenantID,
			Action:   domain.ActivityBatchError,
			Details:  map[string]any{"batch_size": len(items), "error": err.Error()},
		})
		return BatchResult{}, err
	}

	// The ledger rows are committed; the cache is only a fast front.
	if p.cache != nil {
		for _, key := range appliedKeys {
			if _, err := p.cache.MarkProcessed(ctx, key); err != nil {
				p.logger.Warn("Idempotency cache write failed", zap.Error(err))
			}
		}
	}

	p.repo.AppendActivityLog(ctx, &domain.ActivityLogEntry{
		JobID:    job.ID,
		TenantID: job.TenantID,
		Action:   domain.ActivityBatchDone,
		Details: map[string]any{
			"batch_size": len(items),
			"processed":  result.Processed,
			"failed":     result.Failed,
			"skipped":    result.Skipped,
			"retried":    result.Retried,
		},
	})
	return result, nil
}

// processItem runs one item through the pipeline. It returns the item's
// outcome counts and, when the item was delivered, its idempotency key
// for the cache. A non-nil error means infrastructure failure.
func (p *BatchProcessor) processItem(
	ctx context.Context,
	tx domain.Repository,
	job *domain.SyncJob,
	item *domain.SyncItem,
	adapter domain.TargetAdapter,
	limiter domain.RateLimiter,
	resolver *ConflictResolver,
) (BatchResult, string, error) {
	item.EnsureIdempotencyKey(job.ID)

	dup, err := p.alreadyProcessed(ctx, tx, job.ID, item.IdempotencyKey)
	if err != nil {
		return BatchResult{}, "", err
	}
	if dup {
		item.MarkSkipped("duplicate delivery suppressed by idempotency ledger")
		if err := tx.UpdateItem(ctx, item); err != nil {
			return BatchResult{}, "", err
		}
		return BatchResult{Skipped: 1}, "", nil
	}

	if err := limiter.Acquire(ctx, 1); err != nil {
		return BatchResult{}, "", err
	}

	res, err := resolver.Resolve(ctx, Candidate{
		Source:     item.Data,
		Target:     item.Delta,
		RetryCount: item.RetryCount,
	})
	if err != nil {
		return BatchResult{}, "", err
	}

	if res.Conflict {
		switch res.Strategy {
		case domain.StrategyManual:
			return p.failWithConflict(ctx, tx, job, item, res.Kind, res.Reason)
		case domain.StrategySkip:
			return p.skipWithConflict(ctx, tx, job, item, res.Kind, res.Reason)
		}
	}

	payload := item.Data
	if res.Merged != nil {
		payload = res.Merged
	}

	if err := adapter.Apply(ctx, item, payload); err != nil {
		return p.handleDeliveryFailure(ctx, tx, job, item, err)
	}

	item.MarkCompleted()
	if err := tx.UpdateItem(ctx, item); err != nil {
		return BatchResult{}, "", err
	}
	if err := tx.RecordIdempotency(ctx, job.ID, item.IdempotencyKey); err != nil {
		// A concurrent delivery won the race; treat ours as duplicate.
		if errors.Is(err, shared.ErrAlreadyExists) {
			item.MarkSkipped("duplicate delivery suppressed by idempotency ledger")
			if uerr := tx.UpdateItem(ctx, item); uerr != nil {
				return BatchResult{}, "", uerr
			}
			return BatchResult{Skipped: 1}, "", nil
		}
		return BatchResult{}, "", err
	}
	return BatchResult{Processed: 1}, item.IdempotencyKey, nil
}

// alreadyProcessed consults the cache first, then the durable ledger.
func (p *BatchProcessor) alreadyProcessed(ctx context.Context, tx domain.Repository, jobID uuid.UUID, key string) (bool, error) {
	if p.cache != nil {
		if hit, err := p.cache.IsProcessed(ctx, key); err == nil && hit {
			return true, nil
		}
	}
	return tx.CheckIdempotency(ctx, jobID, key)
}

// handleDeliveryFailure applies the retry policy to an adapter error.
func (p *BatchProcessor) handleDeliveryFailure(
	ctx context.Context,
	tx domain.Repository,
	job *domain.SyncJob,
	item *domain.SyncItem,
	applyErr error,
) (BatchResult, string, error) {
	if errors.Is(applyErr, domain.ErrAdapterPermission) {
		return p.failWithConflict(ctx, tx, job, item, domain.ConflictAuthError,
			"target system denied permission: "+applyErr.Error())
	}

	if item.RetryCount+1 < job.Config.MaxRetries {
		item.MarkRetrying(applyErr.Error())
		if err := tx.UpdateItem(ctx, item); err != nil {
			return BatchResult{}, "", err
		}
		p.logger.Debug("Item returned to queue for retry",
			zap.String("item_id", item.ID.String()),
			zap.Int("retry_count", item.RetryCount),
			zap.Error(applyErr),
		)
		return BatchResult{Retried: 1}, "", nil
	}

	item.RetryCount++
	return p.failWithConflict(ctx, tx, job, item, domain.ConflictRetryExhausted,
		"delivery failed after "+strconv.Itoa(item.RetryCount)+" attempts: "+applyErr.Error())
}

// failWithConflict records an unresolved conflict and fails the item.
func (p *BatchProcessor) failWithConflict(
	ctx context.Context,
	tx domain.Repository,
	job *domain.SyncJob,
	item *domain.SyncItem,
	kind domain.ConflictKind,
	reason string,
) (BatchResult, string, error) {
	conflict, err := domain.NewConflict(job.ID, item.ID, item.EntityType, kind, item.Data, reason)
	if err != nil {
		return BatchResult{}, "", err
	}
	if err := tx.RecordConflict(ctx, conflict); err != nil {
		return BatchResult{}, "", err
	}
	item.MarkFailed(reason)
	if err := tx.UpdateItem(ctx, item); err != nil {
		return BatchResult{}, "", err
	}
	tx.AppendActivityLog(ctx, &domain.ActivityLogEntry{
		JobID:    job.ID,
		TenantID: job.TenantID,
		Action:   domain.ActivityConflictFound,
		Details:  map[string]any{"item_id": item.ID.String(), "kind": kind.String(), "reason": reason},
	})
	return BatchResult{Failed: 1}, "", nil
}

// skipWithConflict records an already-resolved conflict and skips the
// item, used for the skip strategy (duplicates).
func (p *BatchProcessor) skipWithConflict(
	ctx context.Context,
	tx domain.Repository,
	job *domain.SyncJob,
	item *domain.SyncItem,
	kind domain.ConflictKind,
	reason string,
) (BatchResult, string, error) {
	conflict, err := domain.NewConflict(job.ID, item.ID, item.EntityType, kind, item.Data, reason)
	if err != nil {
		return BatchResult{}, "", err
	}
	if err := conflict.Resolve(domain.ResolutionSkipped, "system", nil); err != nil {
		return BatchResult{}, "", err
	}
	if err := tx.RecordConflict(ctx, conflict); err != nil {
		return BatchResult{}, "", err
	}
	item.MarkSkipped(reason)
	if err := tx.UpdateItem(ctx, item); err != nil {
		return BatchResult{}, "", err
	}
	return BatchResult{Skipped: 1}, "", nil
}
