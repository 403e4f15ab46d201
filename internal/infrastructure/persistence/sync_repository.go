package persistence

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/erp/syncengine/internal/domain/shared"
	sync "github.com/erp/syncengine/internal/domain/sync"
	"github.com/erp/syncengine/internal/infrastructure/persistence/models"
)

// GormSyncRepository implements sync.Repository using GORM
type GormSyncRepository struct {
	db *gorm.DB
}

// NewGormSyncRepository creates a new GormSyncRepository
func NewGormSyncRepository(db *gorm.DB) *GormSyncRepository {
	return &GormSyncRepository{db: db}
}

// CreateJob persists a new job with its configuration snapshot
func (r *GormSyncRepository) CreateJob(ctx context.Context, job *sync.SyncJob) error {
	var model models.SyncJobModel
	model.FromDomain(job)
	return r.db.WithContext(ctx).Create(&model).Error
}

// UpdateJob persists job status and counters
func (r *GormSyncRepository) UpdateJob(ctx context.Context, job *sync.SyncJob) error {
	var model models.SyncJobModel
	model.FromDomain(job)
	result := r.db.WithContext(ctx).Model(&models.SyncJobModel{}).
		Where("id = ?", model.ID).
		Updates(map[string]any{
			"status":          model.Status,
			"started_at":      model.StartedAt,
			"completed_at":    model.CompletedAt,
			"error_msg":       model.ErrorMsg,
			"processed_count": model.ProcessedCount,
			"failed_count":    model.FailedCount,
			"skipped_count":   model.SkippedCount,
			"updated_at":      model.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// FindJob loads a job by ID
func (r *GormSyncRepository) FindJob(ctx context.Context, jobID uuid.UUID) (*sync.SyncJob, error) {
	var model models.SyncJobModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// CountActiveJobs counts non-terminal jobs for a tenant
func (r *GormSyncRepository) CountActiveJobs(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.SyncJobModel{}).
		Where("tenant_id = ? AND status IN ?", tenantID, []sync.JobStatus{
			sync.JobStatusQueued, sync.JobStatusProcessing, sync.JobStatusPaused,
		}).
		Count(&count).Error
	return count, err
}

// EnqueueItem adds an item to the queue
func (r *GormSyncRepository) EnqueueItem(ctx context.Context, item *sync.SyncItem) error {
	var model models.SyncItemModel
	model.FromDomain(item)
	return r.db.WithContext(ctx).Create(&model).Error
}

// FetchPendingItems returns up to limit pending or failed items for one
// (tenant, system, entity type) queue, oldest first
func (r *GormSyncRepository) FetchPendingItems(ctx context.Context, tenantID uuid.UUID, system sync.SystemCode, entityType sync.EntityType, limit int) ([]*sync.SyncItem, error) {
	var rows []models.SyncItemModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND target_system = ? AND entity_type = ? AND status IN ?",
			tenantID, system, entityType, []sync.ItemStatus{sync.ItemStatusPending, sync.ItemStatusFailed}).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	items := make([]*sync.SyncItem, 0, len(rows))
	for i := range rows {
		items = append(items, rows[i].ToDomain())
	}
	return items, nil
}

// FindItem loads an item by ID
func (r *GormSyncRepository) FindItem(ctx context.Context, itemID uuid.UUID) (*sync.SyncItem, error) {
	var model models.SyncItemModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", itemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// UpdateItem persists item status, retry count and last error
func (r *GormSyncRepository) UpdateItem(ctx context.Context, item *sync.SyncItem) error {
	var model models.SyncItemModel
	model.FromDomain(item)
	result := r.db.WithContext(ctx).Model(&models.SyncItemModel{}).
		Where("id = ?", model.ID).
		Updates(map[string]any{
			"data":            model.Data,
			"delta":           model.Delta,
			"idempotency_key": model.IdempotencyKey,
			"retry_count":     model.RetryCount,
			"last_error":      model.LastError,
			"status":          model.Status,
			"updated_at":      model.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// QueueStats aggregates item counts for one queue
func (r *GormSyncRepository) QueueStats(ctx context.Context, tenantID uuid.UUID, system sync.SystemCode, entityType sync.EntityType) (sync.QueueStats, error) {
	var rows []struct {
		Status sync.ItemStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&models.SyncItemModel{}).
		Select("status, count(*) as count").
		Where("tenant_id = ? AND target_system = ? AND entity_type = ?", tenantID, system, entityType).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return sync.QueueStats{}, err
	}

	var stats sync.QueueStats
	for _, row := range rows {
		stats.Total += row.Count
		switch row.Status {
		case sync.ItemStatusCompleted:
			stats.Processed += row.Count
		case sync.ItemStatusFailed:
			stats.Failed += row.Count
		case sync.ItemStatusSkipped:
			stats.Skipped += row.Count
		case sync.ItemStatusPending, sync.ItemStatusProcessing:
			stats.Pending += row.Count
		}
	}
	return stats, nil
}

// CheckIdempotency reports whether a key was already applied for a job
func (r *GormSyncRepository) CheckIdempotency(ctx context.Context, jobID uuid.UUID, key string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.IdempotencyRecordModel{}).
		Where("job_id = ? AND key = ?", jobID, key).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// RecordIdempotency marks a key applied. The unique constraint on
// (job_id, key) turns a concurrent duplicate write into ErrAlreadyExists.
func (r *GormSyncRepository) RecordIdempotency(ctx context.Context, jobID uuid.UUID, key string) error {
	record := models.IdempotencyRecordModel{
		ID:        uuid.New(),
		JobID:     jobID,
		Key:       key,
		CreatedAt: time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		if isDuplicateKeyError(err) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// RecordConflict persists a conflict record
func (r *GormSyncRepository) RecordConflict(ctx context.Context, conflict *sync.Conflict) error {
	var model models.ConflictModel
	model.FromDomain(conflict)
	return r.db.WithContext(ctx).Create(&model).Error
}

// FindConflict loads a conflict by ID
func (r *GormSyncRepository) FindConflict(ctx context.Context, conflictID uuid.UUID) (*sync.Conflict, error) {
	var model models.ConflictModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", conflictID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ListUnresolvedConflicts returns up to limit open conflicts for a job, oldest first
func (r *GormSyncRepository) ListUnresolvedConflicts(ctx context.Context, jobID uuid.UUID, limit int) ([]*sync.Conflict, error) {
	var rows []models.ConflictModel
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND resolved = ?", jobID, false).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	conflicts := make([]*sync.Conflict, 0, len(rows))
	for i := range rows {
		conflicts = append(conflicts, rows[i].ToDomain())
	}
	return conflicts, nil
}

// UpdateConflict persists resolution state
func (r *GormSyncRepository) UpdateConflict(ctx context.Context, conflict *sync.Conflict) error {
	var model models.ConflictModel
	model.FromDomain(conflict)
	result := r.db.WithContext(ctx).Model(&models.ConflictModel{}).
		Where("id = ?", model.ID).
		Updates(map[string]any{
			"resolved":    model.Resolved,
			"resolution":  model.Resolution,
			"custom_data": model.CustomData,
			"resolved_by": model.ResolvedBy,
			"resolved_at": model.ResolvedAt,
			"updated_at":  model.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// GetConflictStats aggregates conflict counts for a job
func (r *GormSyncRepository) GetConflictStats(ctx context.Context, jobID uuid.UUID) (sync.ConflictStats, error) {
	var rows []struct {
		Kind     sync.ConflictKind
		Resolved bool
		Count    int64
	}
	err := r.db.WithContext(ctx).Model(&models.ConflictModel{}).
		Select("kind, resolved, count(*) as count").
		Where("job_id = ?", jobID).
		Group("kind, resolved").
		Scan(&rows).Error
	if err != nil {
		return sync.ConflictStats{}, err
	}

	stats := sync.ConflictStats{ByKind: make(map[sync.ConflictKind]int64)}
	for _, row := range rows {
		stats.Total += row.Count
		stats.ByKind[row.Kind] += row.Count
		if !row.Resolved {
			stats.Unresolved += row.Count
		}
	}
	return stats, nil
}

// AppendActivityLog appends one audit entry. Failures are swallowed so
// audit writes never break the operation they describe.
func (r *GormSyncRepository) AppendActivityLog(ctx context.Context, entry *sync.ActivityLogEntry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	var model models.ActivityLogModel
	model.FromDomain(entry)
	_ = r.db.WithContext(ctx).Create(&model).Error
}

// InTransaction runs fn against a repository bound to one transaction
func (r *GormSyncRepository) InTransaction(ctx context.Context, fn func(ctx context.Context, repo sync.Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, NewGormSyncRepository(tx))
	})
}

// isDuplicateKeyError recognizes a unique-constraint violation across
// the translated GORM error and the raw Postgres SQLSTATE.
func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "duplicate key") ||
		strings.Contains(err.Error(), "SQLSTATE 23505")
}

var _ sync.Repository = (*GormSyncRepository)(nil)
