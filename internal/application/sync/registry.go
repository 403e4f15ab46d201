package sync

import (
	gosync "sync"

	"github.com/google/uuid"
)

// Registry tracks the orchestrators currently running in this process.
// Control operations only reach jobs registered here; finished jobs are
// served from storage.
type Registry struct {
	mu     gosync.RWMutex
	active map[uuid.UUID]*Orchestrator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[uuid.UUID]*Orchestrator)}
}

// Add registers a running orchestrator under its job ID.
func (r *Registry) Add(jobID uuid.UUID, orch *Orchestrator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[jobID] = orch
}

// Remove drops a finished orchestrator.
func (r *Registry) Remove(jobID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, jobID)
}

// Get returns the orchestrator for a job, if it is running here.
func (r *Registry) Get(jobID uuid.UUID) (*Orchestrator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	orch, ok := r.active[jobID]
	return orch, ok
}

// Len returns the number of running orchestrators.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}
