package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/simplecartfees/api/internal/platform/config"
	pfirestore "github.com/simplecartfees/api/internal/platform/firestore"
	"github.com/simplecartfees/api/internal/repositories"
	fileRepo "github.com/simplecartfees/api/internal/repositories/file"
	firestoreRepo "github.com/simplecartfees/api/internal/repositories/firestore"
	memoryRepo "github.com/simplecartfees/api/internal/repositories/memory"
	redisRepo "github.com/simplecartfees/api/internal/repositories/redis"
	"github.com/simplecartfees/api/internal/services"
)

// RegistryDeps carries the clients backends may draw on. The registry takes ownership and
// closes them on Close.
type RegistryDeps struct {
	Firestore *pfirestore.Provider
	Redis     goredis.UniversalClient
	Clock     func() time.Time
}

type registry struct {
	fees       repositories.FeeConfigRepository
	selections repositories.SelectionRepository
	applied    repositories.AppliedFeeRepository
	taxes      repositories.TaxTableSource
	health     repositories.HealthRepository

	firestore *pfirestore.Provider
	redis     goredis.UniversalClient
}

var _ repositories.Registry = (*registry)(nil)

// NewRegistry selects the fee store, selection store and tax source named by cfg.
func NewRegistry(cfg config.Config, deps RegistryDeps) (repositories.Registry, error) {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	reg := &registry{firestore: deps.Firestore, redis: deps.Redis}
	var checks []repositories.DependencyCheck

	if cfg.UsesFirestore() {
		if deps.Firestore == nil {
			return nil, errors.New("registry: firestore provider is required")
		}
		checks = append(checks, repositories.DependencyCheck{Name: "firestore", Check: deps.Firestore.Ping})
	}

	switch cfg.Store.Backend {
	case "memory":
		reg.fees = memoryRepo.NewFeeConfigRepository()
		reg.applied = memoryRepo.NewAppliedFeeRepository()
	case "firestore":
		fees, err := firestoreRepo.NewFeeConfigRepository(deps.Firestore)
		if err != nil {
			return nil, fmt.Errorf("build fee config repository: %w", err)
		}
		applied, err := firestoreRepo.NewAppliedFeeRepository(deps.Firestore)
		if err != nil {
			return nil, fmt.Errorf("build applied fee repository: %w", err)
		}
		reg.fees, reg.applied = fees, applied
	default:
		return nil, fmt.Errorf("registry: unsupported store backend %q", cfg.Store.Backend)
	}

	switch cfg.Selection.Backend {
	case "memory":
		reg.selections = memoryRepo.NewSelectionRepository(cfg.Selection.TTL, clock)
	case "redis":
		if deps.Redis == nil {
			return nil, errors.New("registry: redis client is required")
		}
		selections, err := redisRepo.NewSelectionRepository(deps.Redis, redisRepo.Options{
			KeyPrefix: cfg.Selection.KeyPrefix,
			TTL:       cfg.Selection.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("build redis selection repository: %w", err)
		}
		reg.selections = selections
		checks = append(checks, repositories.DependencyCheck{Name: "redis", Check: selections.Ping})
	case "firestore":
		selections, err := firestoreRepo.NewSelectionRepository(deps.Firestore, clock)
		if err != nil {
			return nil, fmt.Errorf("build firestore selection repository: %w", err)
		}
		reg.selections = selections
	default:
		return nil, fmt.Errorf("registry: unsupported selection backend %q", cfg.Selection.Backend)
	}

	switch cfg.Tax.Source {
	case "none":
		reg.taxes = memoryRepo.TaxTableSource{}
	case "file":
		source, err := fileRepo.NewTaxTableSource(cfg.Tax.FilePath)
		if err != nil {
			return nil, fmt.Errorf("build file tax source: %w", err)
		}
		reg.taxes = source
	case "firestore":
		source, err := firestoreRepo.NewTaxTableSource(deps.Firestore)
		if err != nil {
			return nil, fmt.Errorf("build firestore tax source: %w", err)
		}
		reg.taxes = source
	default:
		return nil, fmt.Errorf("registry: unsupported tax source %q", cfg.Tax.Source)
	}
	checks = append(checks, repositories.DependencyCheck{Name: "tax_table", Check: taxTableCheck(reg.taxes)})

	health, err := repositories.NewDependencyHealthRepository(checks, repositories.WithDependencyClock(clock))
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}
	reg.health = health
	return reg, nil
}

func taxTableCheck(source repositories.TaxTableSource) func(context.Context) error {
	return func(ctx context.Context) error {
		table, err := source.LoadTaxTable(ctx)
		if err != nil {
			return err
		}
		return services.ValidateTaxTable(table)
	}
}

func (r *registry) FeeConfigs() repositories.FeeConfigRepository   { return r.fees }
func (r *registry) Selections() repositories.SelectionRepository   { return r.selections }
func (r *registry) AppliedFees() repositories.AppliedFeeRepository { return r.applied }
func (r *registry) TaxTables() repositories.TaxTableSource         { return r.taxes }
func (r *registry) Health() repositories.HealthRepository          { return r.health }

// Close releases the Redis client and the Firestore provider.
func (r *registry) Close(ctx context.Context) error {
	var errs []error
	if r.redis != nil {
		if err := r.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if r.firestore != nil {
		if err := r.firestore.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close firestore: %w", err))
		}
	}
	return errors.Join(errs...)
}
