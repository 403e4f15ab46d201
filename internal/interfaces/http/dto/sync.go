package dto

import "encoding/json"

// StartSyncRequest is the request body for starting a sync job
type StartSyncRequest struct {
	Systems     []string        `json:"systems" binding:"required,min=1,dive,syscode,max=50"`
	EntityTypes []string        `json:"entity_types" binding:"required,min=1,dive,oneof=customers products orders inventory payments"`
	Config      *SyncJobOptions `json:"config"`
}

// SyncJobOptions carries optional per-job configuration overrides.
// Omitted or zero values fall back to the engine defaults; values above
// the documented caps are clamped, not rejected.
type SyncJobOptions struct {
	ConflictStrategy string `json:"conflict_strategy" binding:"omitempty,oneof=auto-retry manual skip"`
	BatchSize        int    `json:"batch_size" binding:"omitempty,min=1"`
	MaxRetries       int    `json:"max_retries" binding:"omitempty,min=1"`
	RateLimit        int    `json:"rate_limit" binding:"omitempty,min=1"`
	InterBatchDelay  int    `json:"inter_batch_delay_ms" binding:"omitempty,min=0"`
}

// EnqueueItemRequest is the request body for adding an item to the queue
type EnqueueItemRequest struct {
	EntityType   string          `json:"entity_type" binding:"required,oneof=customers products orders inventory payments"`
	SourceSystem string          `json:"source_system" binding:"omitempty,syscode,max=50"`
	TargetSystem string          `json:"target_system" binding:"required,syscode,max=50"`
	ExternalID   string          `json:"external_id" binding:"required,min=1,max=100"`
	LocalID      string          `json:"local_id" binding:"omitempty,uuid"`
	Data         json.RawMessage `json:"data"`
	Delta        json.RawMessage `json:"delta"`
}

// ResolveConflictRequest is the request body for resolving a conflict
type ResolveConflictRequest struct {
	Action     string          `json:"action" binding:"required,oneof=accept reject custom"`
	ResolvedBy string          `json:"resolved_by" binding:"required,min=1,max=100"`
	CustomData json.RawMessage `json:"custom_data"`
}

// ListConflictsRequest holds query parameters for listing conflicts
type ListConflictsRequest struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=200"`
}

// EnqueueItemResponse confirms an enqueued item
type EnqueueItemResponse struct {
	ItemID string `json:"item_id"`
	Status string `json:"status"`
}

// StartSyncResponse confirms a started job
type StartSyncResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}
