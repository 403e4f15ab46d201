package sync

import (
	"time"

	"github.com/google/uuid"
)

// ActivityAction identifies an orchestration event in the audit trail.
type ActivityAction string

const (
	ActivitySyncStarted   ActivityAction = "SYNC_STARTED"
	ActivitySyncPaused    ActivityAction = "SYNC_PAUSED"
	ActivitySyncResumed   ActivityAction = "SYNC_RESUMED"
	ActivitySyncCancelled ActivityAction = "SYNC_CANCELLED"
	ActivitySyncCompleted ActivityAction = "SYNC_COMPLETED"
	ActivitySyncError     ActivityAction = "SYNC_ERROR"
	ActivityBatchDone     ActivityAction = "BATCH_PROCESSED"
	ActivityBatchError    ActivityAction = "BATCH_ERROR"
	ActivityNoItems       ActivityAction = "NO_ITEMS_TO_SYNC"
	ActivityConflictFound ActivityAction = "CONFLICT_RECORDED"
	ActivityConflictFixed ActivityAction = "CONFLICT_RESOLVED"
)

// ActivityLogEntry is one append-only audit record. The engine never
// mutates or deletes entries; they are read by observability tooling.
type ActivityLogEntry struct {
	ID        uuid.UUID
	JobID     uuid.UUID
	TenantID  uuid.UUID
	Action    ActivityAction
	Details   map[string]any
	CreatedAt time.Time
}
