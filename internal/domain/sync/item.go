package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/google/uuid"
)

// ItemStatus represents the queue status of a sync item
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "PENDING"
	ItemStatusProcessing ItemStatus = "PROCESSING"
	ItemStatusCompleted  ItemStatus = "COMPLETED"
	ItemStatusFailed     ItemStatus = "FAILED"
	ItemStatusSkipped    ItemStatus = "SKIPPED"
)

// IsValid checks if the status is a valid ItemStatus
func (s ItemStatus) IsValid() bool {
	switch s {
	case ItemStatusPending, ItemStatusProcessing, ItemStatusCompleted, ItemStatusFailed, ItemStatusSkipped:
		return true
	}
	return false
}

// String returns the string representation of ItemStatus
func (s ItemStatus) String() string {
	return string(s)
}

// IsTerminal returns true for statuses an item does not leave automatically
func (s ItemStatus) IsTerminal() bool {
	switch s {
	case ItemStatusCompleted, ItemStatusFailed, ItemStatusSkipped:
		return true
	}
	return false
}

// SyncItem is one entity instance pending synchronization toward one
// target system. Items are enqueued by an upstream producer and
// consumed by the batch processor in FIFO order.
type SyncItem struct {
	shared.BaseEntity
	TenantID       uuid.UUID
	EntityType     EntityType
	SourceSystem   SystemCode
	TargetSystem   SystemCode
	ExternalID     string
	LocalID        *uuid.UUID
	Data           Payload // source snapshot
	Delta          Payload // pending change observed on the target
	IdempotencyKey string
	RetryCount     int
	LastError      string
	Status         ItemStatus
}

// NewSyncItem creates a pending sync item.
func NewSyncItem(tenantID uuid.UUID, entityType EntityType, source, target SystemCode, externalID string, data, delta Payload) (*SyncItem, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if !entityType.IsValid() {
		return nil, shared.NewDomainError("INVALID_ENTITY_TYPE", "Unknown entity type: "+entityType.String())
	}
	if target == "" {
		return nil, shared.NewDomainError("INVALID_SYSTEM", "Target system cannot be empty")
	}
	if externalID == "" {
		return nil, shared.NewDomainError("INVALID_EXTERNAL_ID", "External ID cannot be empty")
	}
	if data == nil {
		data = Payload{}
	}
	if delta == nil {
		delta = Payload{}
	}

	return &SyncItem{
		BaseEntity:   shared.NewBaseEntity(),
		TenantID:     tenantID,
		EntityType:   entityType,
		SourceSystem: source,
		TargetSystem: target,
		ExternalID:   externalID,
		Data:         data,
		Delta:        delta,
		Status:       ItemStatusPending,
	}, nil
}

// ComputeIdempotencyKey derives the stable key for one logical change of
// one item within one job. The key hashes the item identity and its
// content, never the attempt, so retries of the same change share a key
// while a new logical change gets a new one.
func ComputeIdempotencyKey(jobID, itemID uuid.UUID, data, delta Payload) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|", jobID, itemID)
	// Go map marshaling sorts keys, so this is deterministic.
	if b, err := json.Marshal(data); err == nil {
		h.Write(b)
	}
	h.Write([]byte{'|'})
	if b, err := json.Marshal(delta); err == nil {
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// EnsureIdempotencyKey computes and stores the item's key for the given
// job if the producer did not stamp one.
func (i *SyncItem) EnsureIdempotencyKey(jobID uuid.UUID) {
	if i.IdempotencyKey == "" {
		i.IdempotencyKey = ComputeIdempotencyKey(jobID, i.ID, i.Data, i.Delta)
	}
}

// MarkCompleted marks the item as successfully applied
func (i *SyncItem) MarkCompleted() {
	i.Status = ItemStatusCompleted
	i.LastError = ""
	i.Touch()
}

// MarkSkipped marks the item as skipped for this job
func (i *SyncItem) MarkSkipped(reason string) {
	i.Status = ItemStatusSkipped
	i.LastError = reason
	i.Touch()
}

// MarkFailed marks the item as terminally failed with a reason
func (i *SyncItem) MarkFailed(reason string) {
	i.Status = ItemStatusFailed
	i.LastError = reason
	i.Touch()
}

// MarkRetrying returns the item to the pending queue for a future pass
// and counts the attempt.
func (i *SyncItem) MarkRetrying(reason string) {
	i.Status = ItemStatusPending
	i.LastError = reason
	i.RetryCount++
	i.Touch()
}

// Requeue returns the item to the pending queue with a fresh retry
// budget after manual resolution. The idempotency key is cleared so the
// re-delivery of changed content is not suppressed by the ledger.
func (i *SyncItem) Requeue() {
	i.Status = ItemStatusPending
	i.LastError = ""
	i.RetryCount = 0
	i.IdempotencyKey = ""
	i.Touch()
}
