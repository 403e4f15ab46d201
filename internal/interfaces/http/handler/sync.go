package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	syncapp "github.com/erp/syncengine/internal/application/sync"
	domain "github.com/erp/syncengine/internal/domain/sync"
	"github.com/erp/syncengine/internal/interfaces/http/dto"
)

// SyncHandler handles sync engine API endpoints
type SyncHandler struct {
	BaseHandler
	service *syncapp.Service
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(service *syncapp.Service) *SyncHandler {
	return &SyncHandler{service: service}
}

// RegisterRoutes registers sync routes on the given group
func (h *SyncHandler) RegisterRoutes(rg *gin.RouterGroup) {
	jobs := rg.Group("/sync/jobs")
	{
		jobs.POST("", h.StartSync)
		jobs.GET("/:id", h.JobStatus)
		jobs.POST("/:id/pause", h.PauseSync)
		jobs.POST("/:id/resume", h.ResumeSync)
		jobs.POST("/:id/cancel", h.CancelSync)
		jobs.GET("/:id/conflicts", h.ListConflicts)
	}
	rg.POST("/sync/items", h.EnqueueItem)
	rg.POST("/sync/conflicts/:id/resolve", h.ResolveConflict)
}

// StartSync creates and launches a sync job
// POST /api/v1/sync/jobs
func (h *SyncHandler) StartSync(c *gin.Context) {
	var req dto.StartSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	systems := make([]domain.SystemCode, 0, len(req.Systems))
	for _, s := range req.Systems {
		systems = append(systems, domain.SystemCode(s))
	}
	entityTypes := make([]domain.EntityType, 0, len(req.EntityTypes))
	for _, e := range req.EntityTypes {
		entityTypes = append(entityTypes, domain.EntityType(e))
	}

	var cfg domain.JobConfig
	if req.Config != nil {
		cfg = domain.JobConfig{
			ConflictStrategy: domain.Strategy(req.Config.ConflictStrategy),
			BatchSize:        req.Config.BatchSize,
			MaxRetries:       req.Config.MaxRetries,
			RateLimit:        req.Config.RateLimit,
			InterBatchDelay:  time.Duration(req.Config.InterBatchDelay) * time.Millisecond,
		}
	}

	job, err := h.service.StartSync(c.Request.Context(), tenantID, systems, entityTypes, cfg)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Accepted(c, dto.StartSyncResponse{
		JobID:  job.ID.String(),
		Status: job.Status.String(),
	})
}

// JobStatus returns the live status view of a job
// GET /api/v1/sync/jobs/:id
func (h *SyncHandler) JobStatus(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	status, err := h.service.JobStatus(c.Request.Context(), jobID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, status)
}

// PauseSync pauses a running job at the next batch boundary
// POST /api/v1/sync/jobs/:id/pause
func (h *SyncHandler) PauseSync(c *gin.Context) {
	h.control(c, h.service.PauseSync)
}

// ResumeSync resumes a paused job
// POST /api/v1/sync/jobs/:id/resume
func (h *SyncHandler) ResumeSync(c *gin.Context) {
	h.control(c, h.service.ResumeSync)
}

// CancelSync cancels a job before its next batch
// POST /api/v1/sync/jobs/:id/cancel
func (h *SyncHandler) CancelSync(c *gin.Context) {
	h.control(c, h.service.CancelSync)
}

// ListConflicts returns open conflicts and conflict statistics for a job
// GET /api/v1/sync/jobs/:id/conflicts
func (h *SyncHandler) ListConflicts(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	var req dto.ListConflictsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, "Invalid query parameters: "+err.Error())
		return
	}

	conflicts, stats, err := h.service.ListConflicts(c.Request.Context(), jobID, req.Limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	views := make([]conflictView, 0, len(conflicts))
	for _, conflict := range conflicts {
		views = append(views, newConflictView(conflict))
	}

	h.Success(c, gin.H{
		"conflicts": views,
		"stats": gin.H{
			"total":      stats.Total,
			"unresolved": stats.Unresolved,
			"by_kind":    stats.ByKind,
		},
	})
}

// ResolveConflict closes a manual-review conflict
// POST /api/v1/sync/conflicts/:id/resolve
func (h *SyncHandler) ResolveConflict(c *gin.Context) {
	var uri dto.IDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		h.BadRequest(c, "Invalid conflict ID")
		return
	}
	conflictID := uuid.MustParse(uri.ID)

	var req dto.ResolveConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	var customData domain.Payload
	if len(req.CustomData) > 0 {
		parsed, err := domain.ParsePayload(req.CustomData)
		if err != nil {
			h.BadRequest(c, "Invalid custom data: "+err.Error())
			return
		}
		customData = parsed
	}

	conflict, err := h.service.ResolveConflict(c.Request.Context(), conflictID,
		domain.ResolutionAction(req.Action), customData, req.ResolvedBy)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, newConflictView(conflict))
}

// EnqueueItem adds an item to the sync queue
// POST /api/v1/sync/items
func (h *SyncHandler) EnqueueItem(c *gin.Context) {
	var req dto.EnqueueItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	data, err := domain.ParsePayload(req.Data)
	if err != nil {
		h.BadRequest(c, "Invalid data payload: "+err.Error())
		return
	}
	delta, err := domain.ParsePayload(req.Delta)
	if err != nil {
		h.BadRequest(c, "Invalid delta payload: "+err.Error())
		return
	}

	item, err := h.service.EnqueueItem(c.Request.Context(), tenantID,
		domain.EntityType(req.EntityType),
		domain.SystemCode(req.SourceSystem), domain.SystemCode(req.TargetSystem),
		req.ExternalID, data, delta)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, dto.EnqueueItemResponse{
		ItemID: item.ID.String(),
		Status: item.Status.String(),
	})
}

// jobID binds and parses the :id path parameter
func (h *SyncHandler) jobID(c *gin.Context) (uuid.UUID, bool) {
	var uri dto.IDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		h.BadRequest(c, "Invalid job ID")
		return uuid.Nil, false
	}
	return uuid.MustParse(uri.ID), true
}

// control runs one pause/resume/cancel action against a job
func (h *SyncHandler) control(c *gin.Context, action func(ctx context.Context, jobID uuid.UUID) error) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}
	if err := action(c.Request.Context(), jobID); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{"job_id": jobID.String()})
}

type conflictView struct {
	ID         string         `json:"id"`
	JobID      string         `json:"job_id"`
	ItemID     string         `json:"item_id"`
	EntityType string         `json:"entity_type"`
	Kind       string         `json:"kind"`
	Reason     string         `json:"reason"`
	Snapshot   domain.Payload `json:"snapshot"`
	Resolved   bool           `json:"resolved"`
	Resolution string         `json:"resolution,omitempty"`
	ResolvedBy string         `json:"resolved_by,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

func newConflictView(c *domain.Conflict) conflictView {
	return conflictView{
		ID:         c.ID.String(),
		JobID:      c.JobID.String(),
		ItemID:     c.ItemID.String(),
		EntityType: c.EntityType.String(),
		Kind:       c.Kind.String(),
		Reason:     c.Reason,
		Snapshot:   c.Snapshot,
		Resolved:   c.Resolved,
		Resolution: string(c.Resolution),
		ResolvedBy: c.ResolvedBy,
		CreatedAt:  c.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}
