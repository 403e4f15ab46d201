// Package adapter hosts the outbound connectors toward external target
// systems and the registry that routes deliveries to them.
package adapter

import (
	"fmt"
	"sync"

	domain "github.com/erp/syncengine/internal/domain/sync"
)

type registryKey struct {
	system     domain.SystemCode
	entityType domain.EntityType
}

// StaticRegistry is a concurrency-safe adapter registry populated at
// startup. A system-wide adapter serves every entity type of its system
// unless a more specific (system, entity type) adapter is registered.
type StaticRegistry struct {
	mu       sync.RWMutex
	adapters map[registryKey]domain.TargetAdapter
}

// NewStaticRegistry creates an empty registry.
func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{adapters: make(map[registryKey]domain.TargetAdapter)}
}

// Register binds an adapter to one (system, entity type) pair.
func (r *StaticRegistry) Register(system domain.SystemCode, entityType domain.EntityType, a domain.TargetAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[registryKey{system: system, entityType: entityType}] = a
}

// RegisterSystem binds an adapter to every entity type of one system.
func (r *StaticRegistry) RegisterSystem(system domain.SystemCode, a domain.TargetAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[registryKey{system: system}] = a
}

// Adapter implements domain.AdapterRegistry.
func (r *StaticRegistry) Adapter(system domain.SystemCode, entityType domain.EntityType) (domain.TargetAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if a, ok := r.adapters[registryKey{system: system, entityType: entityType}]; ok {
		return a, nil
	}
	if a, ok := r.adapters[registryKey{system: system}]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: %s/%s", domain.ErrNoAdapter, system, entityType)
}

var _ domain.AdapterRegistry = (*StaticRegistry)(nil)
