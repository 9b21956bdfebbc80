package repository

import (
	"context"

	"petshop-provenance-ledger/internal/domain/entity"
)

// MetricsRepository interface for metrics data operations
type MetricsRepository interface {
	// Ledger metrics operations
	SaveLedgerMetrics(ctx context.Context, metrics *entity.LedgerMetrics) error
	GetLatestLedgerMetrics(ctx context.Context, instance string) (*entity.LedgerMetrics, error)

	// System health operations
	SaveSystemHealth(ctx context.Context, health *entity.SystemHealth) error
	GetLatestSystemHealth(ctx context.Context, instance string) (*entity.SystemHealth, error)
}
