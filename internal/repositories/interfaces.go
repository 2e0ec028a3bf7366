package repositories

import (
	"context"

	domain "github.com/simplecartfees/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	FeeConfigs() FeeConfigRepository
	Selections() SelectionRepository
	AppliedFees() AppliedFeeRepository
	TaxTables() TaxTableSource
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// FeeConfigRepository stores the ordered fee configuration as one replaceable list.
type FeeConfigRepository interface {
	// Load returns the current configuration; an empty configuration when none was saved yet.
	Load(ctx context.Context) (domain.FeeConfiguration, error)
	// Replace persists the full list when the stored revision still matches expectedRevision.
	Replace(ctx context.Context, cfg domain.FeeConfiguration, expectedRevision int64) (domain.FeeConfiguration, error)
}

// SelectionRepository holds the optional fee ids each cart session opted into.
// Toggle must add or remove a single id atomically without rewriting the whole set.
type SelectionRepository interface {
	Get(ctx context.Context, sessionID string) (map[string]struct{}, error)
	Toggle(ctx context.Context, sessionID, feeID string, checked bool) error
	Clear(ctx context.Context, sessionID string) error
}

// AppliedFeeRepository persists write-once applied fee records keyed by order id.
type AppliedFeeRepository interface {
	// Create fails with a conflict error when the order already has a record.
	Create(ctx context.Context, record domain.AppliedFeeRecord) error
	FindByOrderID(ctx context.Context, orderID string) (domain.AppliedFeeRecord, error)
}

// TaxTableSource loads the tax-rate table used to convert gross fee prices.
type TaxTableSource interface {
	LoadTaxTable(ctx context.Context) (domain.TaxTable, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
