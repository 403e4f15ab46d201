package sync

import (
	"context"
	"time"

	domain "github.com/erp/syncengine/internal/domain/sync"
)

// QueueStatusView is one (system, entity type) queue's counters.
type QueueStatusView struct {
	System     string            `json:"system"`
	EntityType string            `json:"entity_type"`
	Stats      domain.QueueStats `json:"stats"`
}

// ConflictSummaryView is a conflict awaiting manual review.
type ConflictSummaryView struct {
	ID         string `json:"id"`
	ItemID     string `json:"item_id"`
	EntityType string `json:"entity_type"`
	Kind       string `json:"kind"`
	Reason     string `json:"reason"`
	CreatedAt  string `json:"created_at"`
}

// JobStatusView is the full progress snapshot returned by the status
// operation: job state, per-queue counters, open conflicts and a linear
// completion estimate.
type JobStatusView struct {
	JobID       string     `json:"job_id"`
	TenantID    string     `json:"tenant_id"`
	Status      string     `json:"status"`
	Systems     []string   `json:"systems"`
	EntityTypes []string   `json:"entity_types"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`

	Queues    []QueueStatusView     `json:"queues"`
	Conflicts []ConflictSummaryView `json:"conflicts"`

	ConflictCount   int64 `json:"conflict_count"`
	PercentComplete int   `json:"percent_complete"`
	// EstimatedRemainingMS extrapolates linearly from per-item throughput
	// so far. Zero when nothing has been processed yet.
	EstimatedRemainingMS int64 `json:"estimated_remaining_ms"`
}

// conflictPreviewLimit caps how many open conflicts the status payload
// inlines; the conflicts operation pages through the rest.
const conflictPreviewLimit = 20

// BuildStatus aggregates the status view from persisted queue and
// conflict state. It works for running and finished jobs alike.
func BuildStatus(ctx context.Context, repo domain.Repository, job *domain.SyncJob) (*JobStatusView, error) {
	view := &JobStatusView{
		JobID:       job.ID.String(),
		TenantID:    job.TenantID.String(),
		Status:      job.Status.String(),
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		Error:       job.ErrorMsg,
	}
	for _, s := range job.Systems {
		view.Systems = append(view.Systems, string(s))
	}
	for _, e := range job.EntityTypes {
		view.EntityTypes = append(view.EntityTypes, e.String())
	}

	var total, settled int64
	for _, system := range job.Systems {
		for _, entityType := range job.EntityTypes {
			stats, err := repo.QueueStats(ctx, job.TenantID, system, entityType)
			if err != nil {
				return nil, err
			}
			view.Queues = append(view.Queues, QueueStatusView{
				System:     string(system),
				EntityType: entityType.String(),
				Stats:      stats,
			})
			total += stats.Total
			settled += stats.Processed + stats.Failed + stats.Skipped
		}
	}

	conflictStats, err := repo.GetConflictStats(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	view.ConflictCount = conflictStats.Unresolved

	open, err := repo.ListUnresolvedConflicts(ctx, job.ID, conflictPreviewLimit)
	if err != nil {
		return nil, err
	}
	for _, c := range open {
		view.Conflicts = append(view.Conflicts, ConflictSummaryView{
			ID:         c.ID.String(),
			ItemID:     c.ItemID.String(),
			EntityType: c.EntityType.String(),
			Kind:       c.Kind.String(),
			Reason:     c.Reason,
			CreatedAt:  c.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	view.PercentComplete, view.EstimatedRemainingMS = estimateProgress(job, total, settled)
	return view, nil
}

// estimateProgress computes percent complete and a linear remaining-time
// estimate from per-item throughput since the job started.
func estimateProgress(job *domain.SyncJob, total, settled int64) (int, int64) {
	if total <= 0 {
		if job.Status.IsTerminal() {
			return 100, 0
		}
		return 0, 0
	}

	percent := int(settled * 100 / total)
	if percent > 100 {
		percent = 100
	}
	if job.Status.IsTerminal() {
		return percent, 0
	}

	if job.StartedAt == nil || settled == 0 {
		return percent, 0
	}
	elapsed := time.Since(*job.StartedAt)
	perItem := elapsed / time.Duration(settled)
	remaining := time.Duration(total-settled) * perItem
	return percent, remaining.Milliseconds()
}
