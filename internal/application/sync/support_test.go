package sync

import (
	"context"
	"fmt"
	"sort"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/erp/syncengine/internal/domain/shared"
	domain "github.com/erp/syncengine/internal/domain/sync"
)

// memRepo is an in-memory Repository for application-layer tests. It
// clones rows on read and write so state only changes through the
// repository, and InTransaction restores a snapshot on error.
type memRepo struct {
	mu         gosync.Mutex
	jobs       map[uuid.UUID]domain.SyncJob
	items      map[uuid.UUID]domain.SyncItem
	itemOrder  []uuid.UUID
	conflicts  map[uuid.UUID]domain.Conflict
	ledger     map[string]bool
	activities []domain.ActivityLogEntry

	// fault injection
	updateItemCalls  int
	failUpdateItemAt int // fail the Nth UpdateItem call (1-based), 0 = never
}

func newMemRepo() *memRepo {
	return &memRepo{
		jobs:      make(map[uuid.UUID]domain.SyncJob),
		items:     make(map[uuid.UUID]domain.SyncItem),
		conflicts: make(map[uuid.UUID]domain.Conflict),
		ledger:    make(map[string]bool),
	}
}

func (r *memRepo) CreateJob(_ context.Context, job *domain.SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return shared.ErrAlreadyExists
	}
	r.jobs[job.ID] = *job
	return nil
}

func (r *memRepo) UpdateJob(_ context.Context, job *domain.SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; !ok {
		return shared.ErrNotFound
	}
	r.jobs[job.ID] = *job
	return nil
}

func (r *memRepo) FindJob(_ context.Context, jobID uuid.UUID) (*domain.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := job
	return &copied, nil
}

func (r *memRepo) CountActiveJobs(_ context.Context, tenantID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, job := range r.jobs {
		if job.TenantID == tenantID && !job.Status.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) EnqueueItem(_ context.Context, item *domain.SyncItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[item.ID]; ok {
		return shared.ErrAlreadyExists
	}
	r.items[item.ID] = *item
	r.itemOrder = append(r.itemOrder, item.ID)
	return nil
}

func (r *memRepo) FetchPendingItems(_ context.Context, tenantID uuid.UUID, system domain.SystemCode, entityType domain.EntityType, limit int) ([]*domain.SyncItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.SyncItem
	for _, id := range r.itemOrder {
		item := r.items[id]
		if item.TenantID != tenantID || item.TargetSystem != system || item.EntityType != entityType {
			continue
		}
		if item.Status != domain.ItemStatusPending && item.Status != domain.ItemStatusFailed {
			continue
		}
		copied := item
		out = append(out, &copied)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *memRepo) FindItem(_ context.Context, itemID uuid.UUID) (*domain.SyncItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[itemID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := item
	return &copied, nil
}

func (r *memRepo) UpdateItem(_ context.Context, item *domain.SyncItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateItemCalls++
	if r.failUpdateItemAt > 0 && r.updateItemCalls == r.failUpdateItemAt {
		return fmt.Errorf("storage unavailable")
	}
	if _, ok := r.items[item.ID]; !ok {
		return shared.ErrNotFound
	}
	r.items[item.ID] = *item
	return nil
}

func (r *memRepo) QueueStats(_ context.Context, tenantID uuid.UUID, system domain.SystemCode, entityType domain.EntityType) (domain.QueueStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stats domain.QueueStats
	for _, item := range r.items {
		if item.TenantID != tenantID || item.TargetSystem != system || item.EntityType != entityType {
			continue
		}
		stats.Total++
		switch item.Status {
		case domain.ItemStatusCompleted:
			stats.Processed++
		case domain.ItemStatusFailed:
			stats.Failed++
		case domain.ItemStatusSkipped:
			stats.Skipped++
		case domain.ItemStatusPending, domain.ItemStatusProcessing:
			stats.Pending++
		}
	}
	return stats, nil
}

func ledgerKey(jobID uuid.UUID, key string) string {
	return jobID.String() + "|" + key
}

func (r *memRepo) CheckIdempotency(_ context.Context, jobID uuid.UUID, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger[ledgerKey(jobID, key)], nil
}

func (r *memRepo) RecordIdempotency(_ context.Context, jobID uuid.UUID, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lk := ledgerKey(jobID, key)
	if r.ledger[lk] {
		return shared.ErrAlreadyExists
	}
	r.ledger[lk] = true
	return nil
}

func (r *memRepo) RecordConflict(_ context.Context, conflict *domain.Conflict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts[conflict.ID] = *conflict
	return nil
}

func (r *memRepo) FindConflict(_ context.Context, conflictID uuid.UUID) (*domain.Conflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conflicts[conflictID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := c
	return &copied, nil
}

func (r *memRepo) ListUnresolvedConflicts(_ context.Context, jobID uuid.UUID, limit int) ([]*domain.Conflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Conflict
	for _, c := range r.conflicts {
		if c.JobID == jobID && !c.Resolved {
			copied := c
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) UpdateConflict(_ context.Context, conflict *domain.Conflict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conflicts[conflict.ID]; !ok {
		return shared.ErrNotFound
	}
	r.conflicts[conflict.ID] = *conflict
	return nil
}

func (r *memRepo) GetConflictStats(_ context.Context, jobID uuid.UUID) (domain.ConflictStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := domain.ConflictStats{ByKind: make(map[domain.ConflictKind]int64)}
	for _, c := range r.conflicts {
		if c.JobID != jobID {
			continue
		}
		stats.Total++
		stats.ByKind[c.Kind]++
		if !c.Resolved {
			stats.Unresolved++
		}
	}
	return stats, nil
}

func (r *memRepo) AppendActivityLog(_ context.Context, entry *domain.ActivityLogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities = append(r.activities, *entry)
}

func (r *memRepo) InTransaction(ctx context.Context, fn func(ctx context.Context, repo domain.Repository) error) error {
	r.mu.Lock()
	snapItems := make(map[uuid.UUID]domain.SyncItem, len(r.items))
	for k, v := range r.items {
		snapItems[k] = v
	}
	snapConflicts := make(map[uuid.UUID]domain.Conflict, len(r.conflicts))
	for k, v := range r.conflicts {
		snapConflicts[k] = v
	}
	snapLedger := make(map[string]bool, len(r.ledger))
	for k, v := range r.ledger {
		snapLedger[k] = v
	}
	r.mu.Unlock()

	if err := fn(ctx, r); err != nil {
		r.mu.Lock()
		r.items = snapItems
		r.conflicts = snapConflicts
		r.ledger = snapLedger
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *memRepo) actions() []domain.ActivityAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ActivityAction, 0, len(r.activities))
	for _, e := range r.activities {
		out = append(out, e.Action)
	}
	return out
}

func (r *memRepo) itemStatusCounts() map[domain.ItemStatus]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[domain.ItemStatus]int)
	for _, item := range r.items {
		out[item.Status]++
	}
	return out
}

// stubAdapter applies via a configurable function and records calls.
type stubAdapter struct {
	mu    gosync.Mutex
	calls int
	fn    func(item *domain.SyncItem, payload domain.Payload) error
}

func (a *stubAdapter) Apply(_ context.Context, item *domain.SyncItem, payload domain.Payload) error {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	if a.fn == nil {
		return nil
	}
	return a.fn(item, payload)
}

func (a *stubAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// stubRegistry serves one adapter for every pair, or an error.
type stubRegistry struct {
	adapter domain.TargetAdapter
	err     error
}

func (r *stubRegistry) Adapter(domain.SystemCode, domain.EntityType) (domain.TargetAdapter, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.adapter, nil
}

// stubLimiter counts acquisitions without blocking.
type stubLimiter struct {
	mu       gosync.Mutex
	acquired int
}

func (l *stubLimiter) Acquire(_ context.Context, n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquired += n
	return nil
}

func (l *stubLimiter) acquiredTokens() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquired
}

type stubLimiterFactory struct {
	limiter *stubLimiter
}

func (f *stubLimiterFactory) ForSystem(domain.SystemCode, int) domain.RateLimiter {
	if f.limiter == nil {
		f.limiter = &stubLimiter{}
	}
	return f.limiter
}

// mintingLimiterFactory hands out a fresh limiter on every call, the way
// the real factory does, and records what it minted.
type mintingLimiterFactory struct {
	mu     gosync.Mutex
	minted map[domain.SystemCode][]*stubLimiter
}

func (f *mintingLimiterFactory) ForSystem(system domain.SystemCode, _ int) domain.RateLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.minted == nil {
		f.minted = make(map[domain.SystemCode][]*stubLimiter)
	}
	l := &stubLimiter{}
	f.minted[system] = append(f.minted[system], l)
	return l
}

func (f *mintingLimiterFactory) mintedFor(system domain.SystemCode) []*stubLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.minted[system]
}

// instantResolver builds a resolver whose backoff sleeps return at once.
func instantResolver(maxRetries int) *ConflictResolver {
	r := NewConflictResolver(ResolverConfig{MaxRetries: maxRetries}, nil)
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}
