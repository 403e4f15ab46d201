package sync

import (
	"time"

	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/google/uuid"
)

// JobStatus represents the status of a sync job
type JobStatus string

const (
	JobStatusDraft      JobStatus = "DRAFT"
	JobStatusQueued     JobStatus = "QUEUED"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusPaused     JobStatus = "PAUSED"
	JobStatusDone       JobStatus = "DONE"
	JobStatusPartial    JobStatus = "PARTIAL"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

// IsValid checks if the status is a valid JobStatus
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusDraft, JobStatusQueued, JobStatusProcessing, JobStatusPaused,
		JobStatusDone, JobStatusPartial, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// String returns the string representation of JobStatus
func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal returns true once a job can no longer change state
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusDone, JobStatusPartial, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo checks if the status can transition to the target status.
// Transitions are monotonic except processing ⇄ paused.
func (s JobStatus) CanTransitionTo(target JobStatus) bool {
	switch s {
	case JobStatusDraft:
		return target == JobStatusQueued
	case JobStatusQueued:
		return target == JobStatusProcessing || target == JobStatusCancelled || target == JobStatusFailed
	case JobStatusProcessing:
		return target == JobStatusPaused || target.IsTerminal()
	case JobStatusPaused:
		return target == JobStatusProcessing || target == JobStatusCancelled || target == JobStatusFailed
	}
	return false
}

// Default and maximum values for job configuration. The caps mirror
// what the upstream systems tolerate.
const (
	DefaultBatchSize       = 50
	MaxBatchSize           = 200
	DefaultMaxRetries      = 3
	MaxMaxRetries          = 5
	DefaultRateLimit       = 10 // requests per minute per target system
	MaxRateLimit           = 50
	DefaultInterBatchDelay = 2 * time.Second

	// FetchWindow caps how many pending items one (system, entity type)
	// pass will pull from the queue.
	FetchWindow = 10000
)

// JobConfig is the configuration snapshot a job is created with.
type JobConfig struct {
	ConflictStrategy Strategy      `json:"conflict_strategy"`
	BatchSize        int           `json:"batch_size"`
	MaxRetries       int           `json:"max_retries"`
	RateLimit        int           `json:"rate_limit"`
	InterBatchDelay  time.Duration `json:"inter_batch_delay"`
}

// Normalize applies defaults and clamps values to their caps.
func (c *JobConfig) Normalize() {
	if c.ConflictStrategy == "" {
		c.ConflictStrategy = StrategyAutoRetry
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchSize > MaxBatchSize {
		c.BatchSize = MaxBatchSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MaxRetries > MaxMaxRetries {
		c.MaxRetries = MaxMaxRetries
	}
	if c.RateLimit <= 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.RateLimit > MaxRateLimit {
		c.RateLimit = MaxRateLimit
	}
	if c.InterBatchDelay <= 0 {
		c.InterBatchDelay = DefaultInterBatchDelay
	}
}

// Totals aggregates per-item outcomes across a job run.
type Totals struct {
	Processed int
	Failed    int
	Skipped   int
}

// Add folds another set of totals into this one.
func (t Totals) Add(other Totals) Totals {
	return Totals{
		Processed: t.Processed + other.Processed,
		Failed:    t.Failed + other.Failed,
		Skipped:   t.Skipped + other.Skipped,
	}
}

// SyncJob is one orchestrated synchronization run across the configured
// systems and entity types. It is created by the orchestrator and
// mutated only by the owning orchestrator instance.
type SyncJob struct {
	shared.BaseEntity
	TenantID    uuid.UUID
	Systems     []SystemCode
	EntityTypes []EntityType
	Config      JobConfig
	Status      JobStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
	ErrorMsg    string

	ProcessedCount int
	FailedCount    int
	SkippedCount   int
}

// NewSyncJob creates a job in draft state with a normalized configuration snapshot.
func NewSyncJob(tenantID uuid.UUID, systems []SystemCode, entityTypes []EntityType, cfg JobConfig) (*SyncJob, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if len(systems) == 0 {
		return nil, shared.NewDomainError("INVALID_SYSTEMS", "At least one target system is required")
	}
	for _, s := range systems {
		if s == "" {
			return nil, shared.NewDomainError("INVALID_SYSTEMS", "System code cannot be empty")
		}
	}
	if len(entityTypes) == 0 {
		return nil, shared.NewDomainError("INVALID_ENTITY_TYPES", "At least one entity type is required")
	}
	for _, e := range entityTypes {
		if !e.IsValid() {
			return nil, shared.NewDomainError("INVALID_ENTITY_TYPES", "Unknown entity type: "+e.String())
		}
	}

	cfg.Normalize()

	return &SyncJob{
		BaseEntity:  shared.NewBaseEntity(),
		TenantID:    tenantID,
		Systems:     systems,
		EntityTypes: entityTypes,
		Config:      cfg,
		Status:      JobStatusDraft,
	}, nil
}

// transition moves the job to the target status or fails with an
// invalid-state error. Terminal jobs are immutable.
func (j *SyncJob) transition(target JobStatus) error {
	if !j.Status.CanTransitionTo(target) {
		return shared.ErrInvalidState
	}
	j.Status = target
	j.Touch()
	return nil
}

// Queue marks the persisted job as ready to run
func (j *SyncJob) Queue() error {
	return j.transition(JobStatusQueued)
}

// StartProcessing marks the job as actively processing and records the start time
func (j *SyncJob) StartProcessing() error {
	if err := j.transition(JobStatusProcessing); err != nil {
		return err
	}
	if j.StartedAt == nil {
		now := time.Now()
		j.StartedAt = &now
	}
	return nil
}

// Pause suspends the job; only valid while processing
func (j *SyncJob) Pause() error {
	if j.Status != JobStatusProcessing {
		return shared.ErrInvalidState
	}
	return j.transition(JobStatusPaused)
}

// Resume continues a paused job; only valid while paused
func (j *SyncJob) Resume() error {
	if j.Status != JobStatusPaused {
		return shared.ErrInvalidState
	}
	return j.transition(JobStatusProcessing)
}

// Cancel stops the job before the next batch starts
func (j *SyncJob) Cancel() error {
	if j.Status.IsTerminal() {
		return shared.ErrInvalidState
	}
	if err := j.transition(JobStatusCancelled); err != nil {
		return err
	}
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

// Complete finalizes the job from its aggregated totals: done iff no
// item failed or was skipped, partial otherwise.
func (j *SyncJob) Complete(totals Totals) error {
	target := JobStatusDone
	if totals.Failed > 0 || totals.Skipped > 0 {
		target = JobStatusPartial
	}
	if err := j.transition(target); err != nil {
		return err
	}
	j.ProcessedCount = totals.Processed
	j.FailedCount = totals.Failed
	j.SkippedCount = totals.Skipped
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

// RecordProgress stores the counters accumulated so far without touching
// the status, so an interrupted run leaves its committed work visible.
func (j *SyncJob) RecordProgress(totals Totals) {
	j.ProcessedCount = totals.Processed
	j.FailedCount = totals.Failed
	j.SkippedCount = totals.Skipped
	j.Touch()
}

// Fail records an unrecovered orchestration error
func (j *SyncJob) Fail(msg string) error {
	if err := j.transition(JobStatusFailed); err != nil {
		return err
	}
	j.ErrorMsg = msg
	now := time.Now()
	j.CompletedAt = &now
	return nil
}
