package sync

import (
	"time"

	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/google/uuid"
)

// ConflictKind classifies a disagreement between source and target data.
type ConflictKind string

const (
	// ConflictDataMismatch means one or more fields differ between the
	// source and target payloads.
	ConflictDataMismatch ConflictKind = "DataMismatch"
	// ConflictDuplicateKey means both payloads carry a business
	// identifier and the identifiers differ.
	ConflictDuplicateKey ConflictKind = "DuplicateKey"
	// ConflictValidationError means the target payload fails baseline
	// schema rules.
	ConflictValidationError ConflictKind = "ValidationError"
	// ConflictAuthError is reported by the external adapter on a
	// permission failure; it is a classification input, not detected here.
	ConflictAuthError ConflictKind = "AuthError"
	// ConflictRetryExhausted is the derived state once auto-retry has
	// been attempted the configured maximum number of times.
	ConflictRetryExhausted ConflictKind = "RetryExhausted"
	// ConflictManualReviewRequired is the fallback when a decision has
	// no default strategy.
	ConflictManualReviewRequired ConflictKind = "ManualReviewRequired"
)

// IsValid checks if the kind is a known ConflictKind
func (k ConflictKind) IsValid() bool {
	switch k {
	case ConflictDataMismatch, ConflictDuplicateKey, ConflictValidationError,
		ConflictAuthError, ConflictRetryExhausted, ConflictManualReviewRequired:
		return true
	}
	return false
}

// String returns the string representation of ConflictKind
func (k ConflictKind) String() string {
	return string(k)
}

// Strategy is what the resolver decides to do about a conflict.
type Strategy string

const (
	StrategyAutoRetry Strategy = "auto-retry"
	StrategyManual    Strategy = "manual"
	StrategySkip      Strategy = "skip"
)

// IsValid checks if the strategy is known
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyAutoRetry, StrategyManual, StrategySkip:
		return true
	}
	return false
}

// ResolutionAction is how a human disposes of a manual-review conflict.
type ResolutionAction string

const (
	// ResolutionAccept applies the captured target data as-is.
	ResolutionAccept ResolutionAction = "accept"
	// ResolutionReject keeps the source data and closes the conflict.
	ResolutionReject ResolutionAction = "reject"
	// ResolutionCustom applies operator-supplied replacement data.
	ResolutionCustom ResolutionAction = "custom"
	// ResolutionSkipped records a policy skip decided by the engine.
	ResolutionSkipped ResolutionAction = "skipped"
)

// IsValid checks if the action is known
func (a ResolutionAction) IsValid() bool {
	switch a {
	case ResolutionAccept, ResolutionReject, ResolutionCustom, ResolutionSkipped:
		return true
	}
	return false
}

// Conflict records a disagreement between source and target data for one
// item. An unresolved conflict blocks its item from re-entering the
// automatic queue until a human acts on it.
type Conflict struct {
	shared.BaseEntity
	JobID      uuid.UUID
	ItemID     uuid.UUID
	EntityType EntityType
	Kind       ConflictKind
	Snapshot   Payload // data captured at detection time
	Reason     string
	Resolved   bool
	Resolution ResolutionAction
	CustomData Payload
	ResolvedBy string
	ResolvedAt *time.Time
}

// NewConflict creates an unresolved conflict for an item.
func NewConflict(jobID, itemID uuid.UUID, entityType EntityType, kind ConflictKind, snapshot Payload, reason string) (*Conflict, error) {
	if jobID == uuid.Nil || itemID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_CONFLICT", "Job and item IDs are required")
	}
	if !kind.IsValid() {
		return nil, shared.NewDomainError("INVALID_CONFLICT", "Unknown conflict kind: "+kind.String())
	}
	return &Conflict{
		BaseEntity: shared.NewBaseEntity(),
		JobID:      jobID,
		ItemID:     itemID,
		EntityType: entityType,
		Kind:       kind,
		Snapshot:   snapshot,
		Reason:     reason,
	}, nil
}

// Resolve closes the conflict with the given action and provenance.
func (c *Conflict) Resolve(action ResolutionAction, resolvedBy string, customData Payload) error {
	if c.Resolved {
		return shared.ErrInvalidState
	}
	if !action.IsValid() {
		return shared.NewDomainError("INVALID_RESOLUTION", "Unknown resolution action: "+string(action))
	}
	if action == ResolutionCustom && len(customData) == 0 {
		return shared.NewDomainError("INVALID_RESOLUTION", "Custom resolution requires replacement data")
	}
	now := time.Now()
	c.Resolved = true
	c.Resolution = action
	c.ResolvedBy = resolvedBy
	c.CustomData = customData
	c.ResolvedAt = &now
	c.Touch()
	return nil
}

// ConflictStats aggregates conflicts for one job.
type ConflictStats struct {
	Total      int64
	Unresolved int64
	ByKind     map[ConflictKind]int64
}
