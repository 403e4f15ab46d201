package adapter

import (
	"context"

	"go.uber.org/zap"

	domain "github.com/erp/syncengine/internal/domain/sync"
)

// LogAdapter is a dry-run connector that records each delivery instead of
// calling an external system. It backs local development and acts as
// the default binding until a real connector is registered.
type LogAdapter struct {
	system domain.SystemCode
	logger *zap.Logger
}

// NewLogAdapter creates a dry-run adapter for one system.
func NewLogAdapter(system domain.SystemCode, logger *zap.Logger) *LogAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogAdapter{system: system, logger: logger}
}

// Apply implements domain.TargetAdapter.
func (a *LogAdapter) Apply(ctx context.Context, item *domain.SyncItem, resolved domain.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.logger.Info("Dry-run delivery",
		zap.String("system", a.system.String()),
		zap.String("entity_type", item.EntityType.String()),
		zap.String("external_id", item.ExternalID),
		zap.Int("fields", len(resolved)),
	)
	return nil
}

var _ domain.TargetAdapter = (*LogAdapter)(nil)
