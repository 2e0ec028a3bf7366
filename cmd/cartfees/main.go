// Command cartfees serves the cart fee evaluation API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/simplecartfees/api/internal/di"
	"github.com/simplecartfees/api/internal/handlers"
	"github.com/simplecartfees/api/internal/platform/auth"
	"github.com/simplecartfees/api/internal/platform/config"
	"github.com/simplecartfees/api/internal/platform/observability"
)

const (
	// webhookSecretName scopes the HMAC secret shared by the order webhook and email line routes.
	webhookSecretName = "orders"

	drainTimeout    = 10 * time.Second
	teardownTimeout = 5 * time.Second
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cartfees: logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named("cartfees")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(observability.WithLogger(ctx, logger), logger)
	stop()
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		} else {
			logger.Error("cartfees stopped", zap.Error(err))
		}
	}
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// run wires the service and blocks until ctx is cancelled or the listener fails. Deferred
// teardown runs in reverse order of acquisition.
func run(ctx context.Context, logger *zap.Logger) error {
	startedAt := time.Now().UTC()

	env, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	fetcher, err := newSecretFetcher(ctx, logger.Named("secrets"), env)
	if err != nil {
		return fmt.Errorf("secret fetcher: %w", err)
	}
	defer closeQuietly(logger, "secret fetcher", fetcher.Close)

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(fmt.Sprintf("Security.HMAC.Secrets[%s]", webhookSecretName)),
	)
	if err != nil {
		return err
	}

	build := buildInfo(env, cfg, startedAt)
	metrics := observability.NewMetrics()
	backends := openBackends(cfg)

	registry, err := di.NewRegistry(cfg, di.RegistryDeps{Firestore: backends.firestore, Redis: backends.redis})
	if err != nil {
		return fmt.Errorf("repositories: %w", err)
	}
	publisher, releasePublisher, err := newFeePublisher(ctx, cfg, logger.Named("events"))
	if err != nil {
		return fmt.Errorf("fee event publisher: %w", err)
	}
	defer releasePublisher()

	container, err := di.NewContainer(ctx, cfg, registry,
		di.WithPublisher(publisher),
		di.WithMetrics(metrics),
		di.WithLogger(logger.Named("services")),
		di.WithBuildInfo(build),
	)
	if err != nil {
		return fmt.Errorf("services: %w", err)
	}
	defer closeQuietly(logger, "container", func() error {
		teardownCtx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		return container.Close(teardownCtx)
	})

	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, auth.WithRevocationCheck(cfg.Firebase.CheckRevoked))
	if err != nil {
		return fmt.Errorf("firebase verifier: %w", err)
	}
	requireSignature, err := signatureMiddleware(cfg, backends.redis, metrics, logger.Named("auth"))
	if err != nil {
		return fmt.Errorf("webhook verification: %w", err)
	}

	httpLogger := logger.Named("http")
	orders := handlers.NewOrderFeeHandlers(container.Services.Orders)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(observability.WithCartSession(cfg.Checkout.SessionHeader, cfg.Checkout.SessionCookie)),
			observability.MetricsMiddleware(metrics),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthBuildInfo(build),
			handlers.WithHealthSystemService(container.Services.System),
		)),
		handlers.WithMetricsHandler(metrics.Handler()),
		handlers.WithAdminRoutes(handlers.NewAdminFeeHandlers(handlers.AdminFeeHandlersDeps{
			Authenticator: auth.NewAuthenticator(verifier,
				auth.WithAuthMetrics(metrics),
				auth.WithMaxAuthAge(cfg.Security.AdminMaxAuthAge),
			),
			Roles:  cfg.Security.AdminRoles,
			Fees:   container.Services.Fees,
			Carts:  container.Services.Carts,
			Orders: container.Services.Orders,
		}).Routes),
		handlers.WithCheckoutRoutes(handlers.NewCheckoutHandlers(
			container.Services.Selections,
			container.Services.Carts,
			handlers.WithSessionSource(cfg.Checkout.SessionHeader, cfg.Checkout.SessionCookie),
			handlers.WithToggleRateLimit(cfg.Checkout.ToggleLimit, cfg.Checkout.ToggleWindow, nil),
		).Routes),
		handlers.WithOrderRoutes(orders.Routes),
		handlers.WithOrderMiddlewares(requireSignature),
		handlers.WithWebhookRoutes(orders.WebhookRoutes),
		handlers.WithWebhookMiddlewares(requireSignature),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return serve(ctx, server, httpLogger.With(
		zap.String("addr", server.Addr),
		zap.String("store", cfg.Store.Backend),
		zap.String("selection", cfg.Selection.Backend),
		zap.String("tax", cfg.Tax.Source),
		zap.String("events", cfg.Events.Backend),
	))
}

// serve runs server until ctx ends, then drains in-flight requests.
func serve(ctx context.Context, server *http.Server, logger *zap.Logger) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("cart fees api listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("draining requests", zap.Duration("timeout", drainTimeout))
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		return server.Shutdown(drainCtx)
	})
	return group.Wait()
}

func closeQuietly(logger *zap.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Warn("close failed", zap.String("component", what), zap.Error(err))
	}
}
