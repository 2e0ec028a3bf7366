package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/simplecartfees/api/internal/platform/config"
	"github.com/simplecartfees/api/internal/platform/observability"
	"github.com/simplecartfees/api/internal/repositories"
	"github.com/simplecartfees/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Fees       services.FeeConfigService
	Selections services.SelectionService
	Carts      services.CartFeeService
	Orders     services.OrderFeeService
	System     services.SystemService
	TaxRates   *services.TaxTableResolver
}

// Container wires repositories, services and the event publisher for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services

	publisher services.FeeEventPublisher
}

// Option customises container construction.
type Option func(*containerOptions)

type containerOptions struct {
	publisher services.FeeEventPublisher
	metrics   services.FeeMetrics
	logger    *zap.Logger
	build     services.BuildInfo
	clock     func() time.Time
}

// WithPublisher sets the publisher notified after fees are recorded on an order.
func WithPublisher(publisher services.FeeEventPublisher) Option {
	return func(o *containerOptions) {
		o.publisher = publisher
	}
}

// WithMetrics sets the fee metrics sink.
func WithMetrics(metrics services.FeeMetrics) Option {
	return func(o *containerOptions) {
		o.metrics = metrics
	}
}

// WithLogger sets the fallback logger services use outside request scope.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		o.logger = logger
	}
}

// WithBuildInfo sets the build metadata reported by readiness checks.
func WithBuildInfo(info services.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = info
	}
}

// WithClock overrides the time source shared by services.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies on top of reg.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	options := containerOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.build.StartedAt.IsZero() {
		options.build.StartedAt = options.clock().UTC()
	}
	if options.build.Environment == "" {
		options.build.Environment = cfg.Security.Environment
	}

	svc, err := buildServices(ctx, cfg, reg, options)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
		publisher:    options.publisher,
	}, nil
}

// Close flushes the publisher and releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if closer, ok := c.publisher.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildServices(ctx context.Context, cfg config.Config, reg repositories.Registry, opts containerOptions) (Services, error) {
	logger := observability.ServiceLogger(opts.logger)
	var svc Services

	rates, err := services.NewTaxTableResolver(services.TaxTableResolverDeps{
		Source:   reg.TaxTables(),
		CacheTTL: cfg.Tax.CacheTTL,
		Clock:    opts.clock,
		Logger:   logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build tax rate resolver: %w", err)
	}
	if err := rates.Ping(ctx); err != nil {
		logger(ctx, "tax rates: initial load failed", map[string]any{"error": err.Error()})
	}
	svc.TaxRates = rates

	svc.Fees, err = services.NewFeeConfigService(services.FeeConfigServiceDeps{
		Repository: reg.FeeConfigs(),
		Clock:      opts.clock,
		Logger:     logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build fee config service: %w", err)
	}

	svc.Selections, err = services.NewSelectionService(services.SelectionServiceDeps{
		Fees:       reg.FeeConfigs(),
		Selections: reg.Selections(),
		Metrics:    opts.metrics,
		Logger:     logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build selection service: %w", err)
	}

	svc.Carts, err = services.NewCartFeeService(services.CartFeeServiceDeps{
		Fees:       reg.FeeConfigs(),
		Selections: reg.Selections(),
		Rates:      rates,
		Metrics:    opts.metrics,
		Clock:      opts.clock,
		Logger:     logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart fee service: %w", err)
	}

	svc.Orders, err = services.NewOrderFeeService(services.OrderFeeServiceDeps{
		Fees:        reg.FeeConfigs(),
		Selections:  reg.Selections(),
		AppliedFees: reg.AppliedFees(),
		Rates:       rates,
		Publisher:   opts.publisher,
		Metrics:     opts.metrics,
		Clock:       opts.clock,
		Logger:      logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order fee service: %w", err)
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		svc.System, err = services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Fees:             reg.FeeConfigs(),
			Clock:            opts.clock,
			Build:            opts.build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
	}

	return svc, nil
}
