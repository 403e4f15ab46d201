package sync

import (
	"context"

	"github.com/google/uuid"
)

// QueueStats aggregates item counts for one (system, entity type) queue.
type QueueStats struct {
	Total     int64 `json:"total"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
	Pending   int64 `json:"pending"`
}

// Repository is the narrow persistence contract the engine depends on.
// The store must provide row-level transactions and a unique constraint
// on (job_id, idempotency_key); everything else is implementation detail.
type Repository interface {
	// CreateJob persists a new job with its configuration snapshot.
	CreateJob(ctx context.Context, job *SyncJob) error
	// UpdateJob persists job status and counters.
	UpdateJob(ctx context.Context, job *SyncJob) error
	// FindJob loads a job by ID.
	FindJob(ctx context.Context, jobID uuid.UUID) (*SyncJob, error)
	// CountActiveJobs counts non-terminal jobs for a tenant.
	CountActiveJobs(ctx context.Context, tenantID uuid.UUID) (int64, error)

	// EnqueueItem adds an item to the queue (used by upstream producers
	// and by manual conflict resolution when an item re-enters the queue).
	EnqueueItem(ctx context.Context, item *SyncItem) error
	// FetchPendingItems returns up to limit pending or failed items for
	// one (tenant, system, entity type) queue, oldest first.
	FetchPendingItems(ctx context.Context, tenantID uuid.UUID, system SystemCode, entityType EntityType, limit int) ([]*SyncItem, error)
	// FindItem loads an item by ID.
	FindItem(ctx context.Context, itemID uuid.UUID) (*SyncItem, error)
	// UpdateItem persists item status, retry count and last error.
	UpdateItem(ctx context.Context, item *SyncItem) error
	// QueueStats aggregates item counts for one queue.
	QueueStats(ctx context.Context, tenantID uuid.UUID, system SystemCode, entityType EntityType) (QueueStats, error)

	// CheckIdempotency reports whether a key was already applied for a job.
	CheckIdempotency(ctx context.Context, jobID uuid.UUID, key string) (bool, error)
	// RecordIdempotency marks a key applied; the unique constraint on
	// (job_id, key) is the duplicate-write guard.
	RecordIdempotency(ctx context.Context, jobID uuid.UUID, key string) error

	// RecordConflict persists a conflict record.
	RecordConflict(ctx context.Context, conflict *Conflict) error
	// FindConflict loads a conflict by ID.
	FindConflict(ctx context.Context, conflictID uuid.UUID) (*Conflict, error)
	// ListUnresolvedConflicts returns up to limit open conflicts for a job.
	ListUnresolvedConflicts(ctx context.Context, jobID uuid.UUID, limit int) ([]*Conflict, error)
	// UpdateConflict persists resolution state.
	UpdateConflict(ctx context.Context, conflict *Conflict) error
	// GetConflictStats aggregates conflict counts for a job.
	GetConflictStats(ctx context.Context, jobID uuid.UUID) (ConflictStats, error)

	// AppendActivityLog appends one audit entry. Implementations must
	// treat failures as best-effort; callers never see them.
	AppendActivityLog(ctx context.Context, entry *ActivityLogEntry)

	// InTransaction runs fn against a repository bound to one storage
	// transaction. An error from fn rolls everything back.
	InTransaction(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}
