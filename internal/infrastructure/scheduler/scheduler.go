// Package scheduler starts recurring sync jobs on a fixed interval so
// tenants stay current without an operator triggering every run.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/syncengine/internal/domain/shared"
	domain "github.com/erp/syncengine/internal/domain/sync"
)

var (
	// ErrSchedulerNotRunning is returned when controlling a stopped scheduler
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")
)

// JobStarter launches a sync run. Satisfied by the application service.
type JobStarter interface {
	StartSync(ctx context.Context, tenantID uuid.UUID, systems []domain.SystemCode, entityTypes []domain.EntityType, cfg domain.JobConfig) (*domain.SyncJob, error)
}

// Config holds scheduler configuration.
type Config struct {
	Enabled     bool
	Interval    time.Duration
	TenantID    uuid.UUID
	Systems     []domain.SystemCode
	EntityTypes []domain.EntityType
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return ErrInvalidConfig
	}
	if c.TenantID == uuid.Nil {
		return ErrInvalidConfig
	}
	if len(c.Systems) == 0 || len(c.EntityTypes) == 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Scheduler triggers a sync job every interval. A tick that finds the
// tenant already at its running-job cap is skipped, not queued.
type Scheduler struct {
	config  Config
	starter JobStarter
	logger  *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// New creates a scheduler.
func New(config Config, starter JobStarter, logger *zap.Logger) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		config:  config,
		starter: starter,
		logger:  logger.Named("scheduler"),
	}, nil
}

// Start starts the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("Scheduler started",
		zap.Duration("interval", s.config.Interval),
		zap.String("tenant_id", s.config.TenantID.String()),
	)
	return nil
}

// Stop stops the tick loop and waits for it to exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.isRunning = false
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out")
		return ctx.Err()
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.trigger(ctx)
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context) {
	job, err := s.starter.StartSync(ctx, s.config.TenantID, s.config.Systems, s.config.EntityTypes, domain.JobConfig{})
	if err != nil {
		if errors.Is(err, shared.ErrTooManyJobs) {
			s.logger.Debug("Scheduled sync skipped, tenant at job cap",
				zap.String("tenant_id", s.config.TenantID.String()),
			)
			return
		}
		s.logger.Error("Scheduled sync failed to start",
			zap.String("tenant_id", s.config.TenantID.String()),
			zap.Error(err),
		)
		return
	}

	s.logger.Info("Scheduled sync started",
		zap.String("job_id", job.ID.String()),
		zap.String("tenant_id", job.TenantID.String()),
	)
}
