package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	sync "github.com/erp/syncengine/internal/domain/sync"
)

// marshalJSON renders v as a jsonb column value, falling back to an
// empty object on marshal failure so a bad payload never blocks a write.
func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func parsePayload(raw string) sync.Payload {
	p, err := sync.ParsePayload([]byte(raw))
	if err != nil {
		return sync.Payload{}
	}
	return p
}

// SyncJobModel is the persistence model for the SyncJob domain entity.
type SyncJobModel struct {
	BaseModel
	TenantID       uuid.UUID      `gorm:"type:uuid;not null;index:idx_sync_jobs_tenant_status,priority:1"`
	Systems        string         `gorm:"type:jsonb;not null"`
	EntityTypes    string         `gorm:"type:jsonb;not null"`
	Config         string         `gorm:"type:jsonb;not null"`
	Status         sync.JobStatus `gorm:"type:varchar(20);not null;index:idx_sync_jobs_tenant_status,priority:2"`
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ErrorMsg       string `gorm:"type:text"`
	ProcessedCount int    `gorm:"not null"`
	FailedCount    int    `gorm:"not null"`
	SkippedCount   int    `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncJobModel) TableName() string {
	return "sync_jobs"
}

// ToDomain converts the persistence model to a domain SyncJob.
func (m *SyncJobModel) ToDomain() *sync.SyncJob {
	job := &sync.SyncJob{
		BaseEntity:     m.BaseModel.ToDomain(),
		TenantID:       m.TenantID,
		Status:         m.Status,
		StartedAt:      m.StartedAt,
		CompletedAt:    m.CompletedAt,
		ErrorMsg:       m.ErrorMsg,
		ProcessedCount: m.ProcessedCount,
		FailedCount:    m.FailedCount,
		SkippedCount:   m.SkippedCount,
	}
	_ = json.Unmarshal([]byte(m.Systems), &job.Systems)
	_ = json.Unmarshal([]byte(m.EntityTypes), &job.EntityTypes)
	_ = json.Unmarshal([]byte(m.Config), &job.Config)
	return job
}

// FromDomain populates the persistence model from a domain SyncJob.
func (m *SyncJobModel) FromDomain(job *sync.SyncJob) {
	m.FromDomainBaseEntity(job.BaseEntity)
	m.TenantID = job.TenantID
	m.Systems = marshalJSON(job.Systems)
	m.EntityTypes = marshalJSON(job.EntityTypes)
	m.Config = marshalJSON(job.Config)
	m.Status = job.Status
	m.StartedAt = job.StartedAt
	m.CompletedAt = job.CompletedAt
	m.ErrorMsg = job.ErrorMsg
	m.ProcessedCount = job.ProcessedCount
	m.FailedCount = job.FailedCount
	m.SkippedCount = job.SkippedCount
}

// SyncItemModel is the persistence model for the SyncItem domain entity.
// The composite queue index serves FetchPendingItems, which always
// filters by tenant, target system, entity type and status.
type SyncItemModel struct {
	BaseModel
	TenantID       uuid.UUID       `gorm:"type:uuid;not null;index:idx_sync_items_queue,priority:1"`
	EntityType     sync.EntityType `gorm:"type:varchar(20);not null;index:idx_sync_items_queue,priority:3"`
	SourceSystem   sync.SystemCode `gorm:"type:varchar(50)"`
	TargetSystem   sync.SystemCode `gorm:"type:varchar(50);not null;index:idx_sync_items_queue,priority:2"`
	ExternalID     string          `gorm:"type:varchar(100);not null"`
	LocalID        *uuid.UUID      `gorm:"type:uuid"`
	Data           string          `gorm:"type:jsonb;not null"`
	Delta          string          `gorm:"type:jsonb;not null"`
	IdempotencyKey string          `gorm:"type:varchar(64)"`
	RetryCount     int             `gorm:"not null"`
	LastError      string          `gorm:"type:text"`
	Status         sync.ItemStatus `gorm:"type:varchar(20);not null;index:idx_sync_items_queue,priority:4"`
}

// TableName returns the table name for GORM
func (SyncItemModel) TableName() string {
	return "sync_items"
}

// ToDomain converts the persistence model to a domain SyncItem.
func (m *SyncItemModel) ToDomain() *sync.SyncItem {
	return &sync.SyncItem{
		BaseEntity:     m.BaseModel.ToDomain(),
		TenantID:       m.TenantID,
		EntityType:     m.EntityType,
		SourceSystem:   m.SourceSystem,
		TargetSystem:   m.TargetSystem,
		ExternalID:     m.ExternalID,
		LocalID:        m.LocalID,
		Data:           parsePayload(m.Data),
		Delta:          parsePayload(m.Delta),
		IdempotencyKey: m.IdempotencyKey,
		RetryCount:     m.RetryCount,
		LastError:      m.LastError,
		Status:         m.Status,
	}
}

// FromDomain populates the persistence model from a domain SyncItem.
func (m *SyncItemModel) FromDomain(item *sync.SyncItem) {
	m.FromDomainBaseEntity(item.BaseEntity)
	m.TenantID = item.TenantID
	m.EntityType = item.EntityType
	m.SourceSystem = item.SourceSystem
	m.TargetSystem = item.TargetSystem
	m.ExternalID = item.ExternalID
	m.LocalID = item.LocalID
	m.Data = marshalJSON(item.Data)
	m.Delta = marshalJSON(item.Delta)
	m.IdempotencyKey = item.IdempotencyKey
	m.RetryCount = item.RetryCount
	m.LastError = item.LastError
	m.Status = item.Status
}

// ConflictModel is the persistence model for the Conflict domain entity.
type ConflictModel struct {
	BaseModel
	JobID      uuid.UUID             `gorm:"type:uuid;not null;index:idx_conflicts_job_resolved,priority:1"`
	ItemID     uuid.UUID             `gorm:"type:uuid;not null;index"`
	EntityType sync.EntityType       `gorm:"type:varchar(20);not null"`
	Kind       sync.ConflictKind     `gorm:"type:varchar(30);not null"`
	Snapshot   string                `gorm:"type:jsonb;not null"`
	Reason     string                `gorm:"type:text"`
	Resolved   bool                  `gorm:"not null;index:idx_conflicts_job_resolved,priority:2"`
	Resolution sync.ResolutionAction `gorm:"type:varchar(20)"`
	CustomData string                `gorm:"type:jsonb"`
	ResolvedBy string                `gorm:"type:varchar(100)"`
	ResolvedAt *time.Time
}

// TableName returns the table name for GORM
func (ConflictModel) TableName() string {
	return "sync_conflicts"
}

// ToDomain converts the persistence model to a domain Conflict.
func (m *ConflictModel) ToDomain() *sync.Conflict {
	c := &sync.Conflict{
		BaseEntity: m.BaseModel.ToDomain(),
		JobID:      m.JobID,
		ItemID:     m.ItemID,
		EntityType: m.EntityType,
		Kind:       m.Kind,
		Snapshot:   parsePayload(m.Snapshot),
		Reason:     m.Reason,
		Resolved:   m.Resolved,
		Resolution: m.Resolution,
		ResolvedBy: m.ResolvedBy,
		ResolvedAt: m.ResolvedAt,
	}
	if m.CustomData != "" {
		c.CustomData = parsePayload(m.CustomData)
	}
	return c
}

// FromDomain populates the persistence model from a domain Conflict.
func (m *ConflictModel) FromDomain(c *sync.Conflict) {
	m.FromDomainBaseEntity(c.BaseEntity)
	m.JobID = c.JobID
	m.ItemID = c.ItemID
	m.EntityType = c.EntityType
	m.Kind = c.Kind
	m.Snapshot = marshalJSON(c.Snapshot)
	m.Reason = c.Reason
	m.Resolved = c.Resolved
	m.Resolution = c.Resolution
	if len(c.CustomData) > 0 {
		m.CustomData = marshalJSON(c.CustomData)
	}
	m.ResolvedBy = c.ResolvedBy
	m.ResolvedAt = c.ResolvedAt
}

// IdempotencyRecordModel is one row of the durable idempotency ledger.
// The unique index on (job_id, key) is the duplicate-write guard the
// engine relies on.
type IdempotencyRecordModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	JobID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_sync_idempotency_job_key,priority:1"`
	Key       string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_sync_idempotency_job_key,priority:2"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (IdempotencyRecordModel) TableName() string {
	return "sync_idempotency_records"
}

// ActivityLogModel is one append-only audit row.
type ActivityLogModel struct {
	ID        uuid.UUID           `gorm:"type:uuid;primary_key"`
	JobID     uuid.UUID           `gorm:"type:uuid;not null;index"`
	TenantID  uuid.UUID           `gorm:"type:uuid;not null"`
	Action    sync.ActivityAction `gorm:"type:varchar(30);not null"`
	Details   string              `gorm:"type:jsonb"`
	CreatedAt time.Time           `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ActivityLogModel) TableName() string {
	return "sync_activity_log"
}

// ToDomain converts the persistence model to a domain ActivityLogEntry.
func (m *ActivityLogModel) ToDomain() *sync.ActivityLogEntry {
	entry := &sync.ActivityLogEntry{
		ID:        m.ID,
		JobID:     m.JobID,
		TenantID:  m.TenantID,
		Action:    m.Action,
		CreatedAt: m.CreatedAt,
	}
	if m.Details != "" {
		_ = json.Unmarshal([]byte(m.Details), &entry.Details)
	}
	return entry
}

// FromDomain populates the persistence model from a domain ActivityLogEntry.
func (m *ActivityLogModel) FromDomain(entry *sync.ActivityLogEntry) {
	m.ID = entry.ID
	m.JobID = entry.JobID
	m.TenantID = entry.TenantID
	m.Action = entry.Action
	if len(entry.Details) > 0 {
		m.Details = marshalJSON(entry.Details)
	}
	m.CreatedAt = entry.CreatedAt
}
