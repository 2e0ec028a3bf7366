package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/simplecartfees/api/internal/domain"
	"github.com/simplecartfees/api/internal/repositories"
)

// TaxRateResolver returns the aggregate rate percentage for a tax class.
// Implementations never fail: unknown classes and lookup errors resolve to 0.
type TaxRateResolver interface {
	AggregateRate(ctx context.Context, taxClass string) decimal.Decimal
}

// TaxRateResolverFunc adapts a function to TaxRateResolver.
type TaxRateResolverFunc func(ctx context.Context, taxClass string) decimal.Decimal

// AggregateRate implements TaxRateResolver.
func (f TaxRateResolverFunc) AggregateRate(ctx context.Context, taxClass string) decimal.Decimal {
	if f == nil {
		return decimal.Zero
	}
	return f(ctx, taxClass)
}

// StaticTaxRateResolver resolves rates from a fixed table.
type StaticTaxRateResolver struct {
	Table domain.TaxTable
}

// AggregateRate implements TaxRateResolver.
func (r StaticTaxRateResolver) AggregateRate(_ context.Context, taxClass string) decimal.Decimal {
	return aggregateFromTable(r.Table, taxClass)
}

// ValidateTaxTable rejects tables containing rates below -100%.
func ValidateTaxTable(table domain.TaxTable) error {
	for class, rates := range table.Classes {
		for _, rate := range rates {
			if err := ValidateRate(rate.Rate); err != nil {
				return fmt.Errorf("tax class %q rate %q: %w", class, rate.Name, err)
			}
		}
	}
	return nil
}

func aggregateFromTable(table domain.TaxTable, taxClass string) decimal.Decimal {
	if !table.Enabled {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, rate := range table.Rates(taxClass) {
		total = total.Add(rate.Rate)
	}
	return total
}

// TaxTableResolverDeps bundles collaborators for the table backed resolver.
type TaxTableResolverDeps struct {
	Source   repositories.TaxTableSource
	CacheTTL time.Duration
	Clock    func() time.Time
	Logger   func(context.Context, string, map[string]any)
}

// TaxTableResolver loads the tax table from a source and caches it for CacheTTL.
type TaxTableResolver struct {
	source repositories.TaxTableSource
	ttl    time.Duration
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)

	mu       sync.RWMutex
	table    domain.TaxTable
	loadedAt time.Time
	loaded   bool
}

var _ TaxRateResolver = (*TaxTableResolver)(nil)

// NewTaxTableResolver constructs a caching resolver over the configured tax table source.
func NewTaxTableResolver(deps TaxTableResolverDeps) (*TaxTableResolver, error) {
	if deps.Source == nil {
		return nil, errors.New("tax rate resolver: tax table source is required")
	}
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &TaxTableResolver{
		source: deps.Source,
		ttl:    ttl,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// AggregateRate implements TaxRateResolver.
func (r *TaxTableResolver) AggregateRate(ctx context.Context, taxClass string) decimal.Decimal {
	table, ok := r.currentTable(ctx)
	if !ok {
		return decimal.Zero
	}
	return aggregateFromTable(table, taxClass)
}

// Invalidate drops the cached table so the next lookup reloads it.
func (r *TaxTableResolver) Invalidate() {
	r.mu.Lock()
	r.loaded = false
	r.mu.Unlock()
}

// Ping loads the table bypassing the cache; used by readiness checks.
func (r *TaxTableResolver) Ping(ctx context.Context) error {
	_, err := r.source.LoadTaxTable(ctx)
	return err
}

func (r *TaxTableResolver) currentTable(ctx context.Context) (domain.TaxTable, bool) {
	now := r.clock()

	r.mu.RLock()
	if r.loaded && now.Sub(r.loadedAt) < r.ttl {
		table := r.table
		r.mu.RUnlock()
		return table, true
	}
	stale, staleAt, hadStale := r.table, r.loadedAt, r.loaded
	r.mu.RUnlock()

	table, err := r.source.LoadTaxTable(ctx)
	if err == nil {
		err = ValidateTaxTable(table)
	}
	if err != nil {
		r.logger(ctx, "tax rate resolver: load failed", map[string]any{
			"error":     err.Error(),
			"useStale":  hadStale,
			"staleAge":  now.Sub(staleAt).String(),
			"component": "tax_table",
		})
		if hadStale {
			return stale, true
		}
		return domain.TaxTable{}, false
	}

	r.mu.Lock()
	// A slower concurrent load must not replace a newer table.
	if !r.loaded || !now.Before(r.loadedAt) {
		r.table = table
		r.loadedAt = now
		r.loaded = true
	}
	r.mu.Unlock()
	return table, true
}

// memoizedRates caches aggregate rates for the duration of one evaluation pass.
type memoizedRates struct {
	ctx    context.Context
	source TaxRateResolver
	rates  map[string]decimal.Decimal
}

func newMemoizedRates(ctx context.Context, source TaxRateResolver) *memoizedRates {
	return &memoizedRates{ctx: ctx, source: source, rates: make(map[string]decimal.Decimal)}
}

func (m *memoizedRates) rate(taxClass string) decimal.Decimal {
	key := domain.NormalizeTaxClass(taxClass)
	if rate, ok := m.rates[key]; ok {
		return rate
	}
	rate := decimal.Zero
	if m.source != nil {
		rate = m.source.AggregateRate(m.ctx, taxClass)
	}
	m.rates[key] = rate
	return rate
}
