package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/simplecartfees/api/internal/platform/auth"
	"github.com/simplecartfees/api/internal/platform/config"
	pfirestore "github.com/simplecartfees/api/internal/platform/firestore"
	"github.com/simplecartfees/api/internal/platform/jobs"
	"github.com/simplecartfees/api/internal/platform/observability"
	"github.com/simplecartfees/api/internal/platform/secrets"
	redisRepo "github.com/simplecartfees/api/internal/repositories/redis"
	"github.com/simplecartfees/api/internal/services"
)

// backends holds the storage clients the registry takes ownership of.
type backends struct {
	firestore *pfirestore.Provider
	redis     goredis.UniversalClient
}

func openBackends(cfg config.Config) backends {
	var b backends
	if cfg.UsesFirestore() {
		b.firestore = pfirestore.NewProvider(cfg.Firestore)
	}
	if cfg.Selection.Backend == "redis" {
		b.redis = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	return b
}

func buildInfo(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	return services.BuildInfo{
		Version:     valueOr(env["CARTFEES_BUILD_VERSION"], "dev"),
		CommitSHA:   valueOr(env["CARTFEES_BUILD_COMMIT_SHA"], "unknown"),
		Environment: valueOr(cfg.Security.Environment, "local"),
		StartedAt:   started,
	}
}

// newFeePublisher returns the configured publisher and a func releasing any client it opened.
// The container closes the publisher itself.
func newFeePublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (services.FeeEventPublisher, func(), error) {
	release := func() {}
	switch cfg.Events.Backend {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.Events.PubSubProjectID)
		if err != nil {
			return nil, release, fmt.Errorf("pubsub client: %w", err)
		}
		topic := client.Topic(cfg.Events.Topic)
		topic.EnableMessageOrdering = true
		publisher, err := jobs.NewPubSubFeePublisher(topic)
		if err != nil {
			_ = client.Close()
			return nil, release, err
		}
		return publisher, func() { closeQuietly(logger, "pubsub client", client.Close) }, nil
	case "kafka":
		publisher, err := jobs.NewKafkaFeePublisher(cfg.Events.KafkaBrokers, cfg.Events.Topic)
		return publisher, release, err
	default:
		return jobs.NewLogFeePublisher(observability.ServiceLogger(logger)), release, nil
	}
}

// signatureMiddleware verifies HMAC-signed order traffic. Nonces live in Redis when the selection
// store does, so replays are caught across instances.
func signatureMiddleware(cfg config.Config, redisClient goredis.UniversalClient, metrics *observability.Metrics, logger *zap.Logger) (func(http.Handler) http.Handler, error) {
	hmacCfg := cfg.Security.HMAC
	provider := auth.SecretProviderFunc(func(_ context.Context, name string) (string, error) {
		key := strings.ToLower(strings.TrimSpace(name))
		if secret := hmacCfg.Secrets[key]; secret != "" {
			return secret, nil
		}
		return "", fmt.Errorf("auth: hmac secret %q not configured", key)
	})

	var nonces auth.NonceStore = auth.NewInMemoryNonceStore()
	if redisClient != nil {
		store, err := redisRepo.NewNonceStore(redisClient, cfg.Selection.KeyPrefix+":nonce")
		if err != nil {
			return nil, err
		}
		nonces = store
	}

	return auth.NewHMACValidator(provider, nonces,
		auth.WithHMACLogger(observability.NewPrintfAdapter(logger)),
		auth.WithHMACMetrics(metrics),
		auth.WithHMACHeaders(hmacCfg.SignatureHeader, hmacCfg.TimestampHeader, hmacCfg.NonceHeader),
		auth.WithHMACClockSkew(hmacCfg.ClockSkew),
		auth.WithHMACNonceTTL(hmacCfg.NonceTTL),
	).RequireHMAC(webhookSecretName), nil
}

func traceProjectID(cfg config.Config) string {
	return valueOr(cfg.Firebase.ProjectID, cfg.Firestore.ProjectID)
}

// newSecretFetcher is built from raw environment values because the fetcher has to exist
// before config.Load can resolve secret references.
func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	get := func(key string) string { return strings.TrimSpace(env[key]) }

	opts := []secrets.Option{
		secrets.WithEnvironment(strings.ToLower(valueOr(get("CARTFEES_SECURITY_ENVIRONMENT"), "local"))),
		secrets.WithLogger(logger),
		secrets.WithFallbackFile(valueOr(get("CARTFEES_SECRET_FALLBACK_FILE"), ".secrets.local")),
	}
	if projects := projectMap(get("CARTFEES_SECRET_PROJECT_IDS")); len(projects) > 0 {
		opts = append(opts, secrets.WithProjectMap(projects))
	}
	if project := valueOr(get("CARTFEES_SECRET_DEFAULT_PROJECT_ID"), get("CARTFEES_FIREBASE_PROJECT_ID")); project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if ttl, err := time.ParseDuration(get("CARTFEES_SECRET_CACHE_TTL")); err == nil && ttl > 0 {
		opts = append(opts, secrets.WithCacheTTL(ttl, nil))
	}
	if file := get("CARTFEES_FIREBASE_CREDENTIALS_FILE"); file != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(file)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// projectMap parses "env=project" pairs separated by commas. Malformed pairs are skipped.
func projectMap(raw string) map[string]string {
	projects := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		env, project, ok := strings.Cut(entry, "=")
		env, project = strings.ToLower(strings.TrimSpace(env)), strings.TrimSpace(project)
		if ok && env != "" && project != "" {
			projects[env] = project
		}
	}
	return projects
}

func valueOr(value, fallback string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return strings.TrimSpace(fallback)
}
