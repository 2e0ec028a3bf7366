// Package config loads the cart fees service settings from the environment, an optional dotenv
// file and Secret Manager references.
package config

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Config is the full runtime configuration grouped by concern.
type Config struct {
	Server    ServerConfig
	Firebase  FirebaseConfig
	Firestore FirestoreConfig
	Store     StoreConfig
	Selection SelectionConfig
	Redis     RedisConfig
	Tax       TaxConfig
	Events    EventsConfig
	Checkout  CheckoutConfig
	Security  SecurityConfig
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig identifies the project whose ID tokens admins present.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	CheckRevoked    bool
}

// FirestoreConfig locates the Firestore database. EmulatorHost wins over ambient credentials.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StoreConfig picks the backend for fee settings and applied fee records: firestore or memory.
type StoreConfig struct {
	Backend string
}

// SelectionConfig picks the store for per-session optional fee choices: memory, redis or firestore.
type SelectionConfig struct {
	Backend   string
	KeyPrefix string
	TTL       time.Duration
}

// RedisConfig is used when Selection.Backend is redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// TaxConfig picks where tax rates come from (firestore, file or none) and how long they are cached.
type TaxConfig struct {
	Source   string
	FilePath string
	CacheTTL time.Duration
}

// EventsConfig picks where "fees applied" order events go: none, pubsub or kafka.
type EventsConfig struct {
	Backend         string
	Topic           string
	PubSubProjectID string
	KafkaBrokers    []string
}

// CheckoutConfig controls the storefront endpoints.
type CheckoutConfig struct {
	SessionHeader string
	SessionCookie string
	ToggleLimit   int
	ToggleWindow  time.Duration
}

// SecurityConfig groups admin and webhook authentication.
type SecurityConfig struct {
	Environment     string
	AdminRoles      []string
	AdminMaxAuthAge time.Duration
	HMAC            HMACConfig
}

// HMACConfig describes how shop platform callbacks are signed. Secrets maps a secret name to its
// value or secret reference.
type HMACConfig struct {
	Secrets         map[string]string
	SignatureHeader string
	TimestampHeader string
	NonceHeader     string
	ClockSkew       time.Duration
	NonceTTL        time.Duration
}

// UsesFirestore reports whether any configured backend needs a Firestore client.
func (c Config) UsesFirestore() bool {
	return c.Store.Backend == "firestore" || c.Selection.Backend == "firestore" || c.Tax.Source == "firestore"
}

// Option customises Load and EnvironmentValues.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	resolver              SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: ".env", useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// WithEnvFile reads dotenv values from path. An empty path skips the file.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver resolves secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.resolver = resolver }
}

// WithRequiredSecrets names secret fields that must resolve to a non-empty value, for example
// "Redis.Password" or "Security.HMAC.Secrets[orders]".
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// WithPanicOnMissingSecrets makes Load panic with a *MissingSecretsError instead of returning it.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) { o.panicOnMissingSecrets = true }
}

// EnvironmentValues returns the merged environment Load would see, so dependencies such as the
// secret fetcher can be built before Load runs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	env, err := newEnviron(newLoaderOptions(opts))
	if err != nil {
		return nil, err
	}
	return env.values(), nil
}

// Load reads, resolves and validates the configuration. Precedence is dotenv, then the process
// environment, then WithEnvMap.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	env, err := newEnviron(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         env.str("CARTFEES_SERVER_PORT", "8080"),
			ReadTimeout:  env.duration("CARTFEES_SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: env.duration("CARTFEES_SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  env.duration("CARTFEES_SERVER_IDLE_TIMEOUT", 2*time.Minute),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("CARTFEES_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("CARTFEES_FIREBASE_CREDENTIALS_FILE", ""),
			CheckRevoked:    env.boolean("CARTFEES_FIREBASE_CHECK_REVOKED", false),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("CARTFEES_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("CARTFEES_FIRESTORE_EMULATOR_HOST", ""),
		},
		Store: StoreConfig{
			Backend: env.lower("CARTFEES_STORE_BACKEND", "firestore"),
		},
		Selection: SelectionConfig{
			Backend:   env.lower("CARTFEES_SELECTION_BACKEND", "memory"),
			KeyPrefix: env.str("CARTFEES_SELECTION_KEY_PREFIX", "cartfees:selection"),
			TTL:       env.duration("CARTFEES_SELECTION_TTL", 48*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     env.str("CARTFEES_REDIS_ADDR", "localhost:6379"),
			Password: env.str("CARTFEES_REDIS_PASSWORD", ""),
			DB:       env.integer("CARTFEES_REDIS_DB", 0),
		},
		Tax: TaxConfig{
			Source:   env.lower("CARTFEES_TAX_SOURCE", "firestore"),
			FilePath: env.str("CARTFEES_TAX_FILE", ""),
			CacheTTL: env.duration("CARTFEES_TAX_CACHE_TTL", 5*time.Minute),
		},
		Events: EventsConfig{
			Backend:         env.lower("CARTFEES_EVENTS_BACKEND", "none"),
			Topic:           env.str("CARTFEES_EVENTS_TOPIC", "order.fees_applied"),
			PubSubProjectID: env.str("CARTFEES_EVENTS_PUBSUB_PROJECT_ID", ""),
			KafkaBrokers:    env.list("CARTFEES_EVENTS_KAFKA_BROKERS"),
		},
		Checkout: CheckoutConfig{
			SessionHeader: env.str("CARTFEES_CHECKOUT_SESSION_HEADER", "X-Cart-Session"),
			SessionCookie: env.str("CARTFEES_CHECKOUT_SESSION_COOKIE", "cart_session"),
			ToggleLimit:   env.integer("CARTFEES_CHECKOUT_TOGGLE_LIMIT", 60),
			ToggleWindow:  env.duration("CARTFEES_CHECKOUT_TOGGLE_WINDOW", time.Minute),
		},
		Security: SecurityConfig{
			Environment:     env.lower("CARTFEES_SECURITY_ENVIRONMENT", "local"),
			AdminRoles:      env.list("CARTFEES_SECURITY_ADMIN_ROLES"),
			AdminMaxAuthAge: env.duration("CARTFEES_SECURITY_ADMIN_MAX_AUTH_AGE", 0),
			HMAC: HMACConfig{
				Secrets:         env.pairs("CARTFEES_SECURITY_HMAC_SECRETS"),
				SignatureHeader: env.str("CARTFEES_SECURITY_HMAC_HEADER_SIGNATURE", "X-Signature"),
				TimestampHeader: env.str("CARTFEES_SECURITY_HMAC_HEADER_TIMESTAMP", "X-Signature-Timestamp"),
				NonceHeader:     env.str("CARTFEES_SECURITY_HMAC_HEADER_NONCE", "X-Signature-Nonce"),
				ClockSkew:       env.duration("CARTFEES_SECURITY_HMAC_CLOCK_SKEW", 5*time.Minute),
				NonceTTL:        env.duration("CARTFEES_SECURITY_HMAC_NONCE_TTL", 5*time.Minute),
			},
		},
	}
	applyDerivedDefaults(&cfg)

	secrets := newSecretSet(options.resolver)
	for name, value := range cfg.Security.HMAC.Secrets {
		if cfg.Security.HMAC.Secrets[name], err = secrets.resolve(ctx, fmt.Sprintf("Security.HMAC.Secrets[%s]", name), value); err != nil {
			return Config{}, err
		}
	}
	if cfg.Redis.Password, err = secrets.resolve(ctx, "Redis.Password", cfg.Redis.Password); err != nil {
		return Config{}, err
	}

	if err := validate(cfg, env.invalid); err != nil {
		return Config{}, err
	}
	if missing := secrets.missing(options.requiredSecrets); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %v\n", missing)
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

func applyDerivedDefaults(cfg *Config) {
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Events.PubSubProjectID == "" {
		cfg.Events.PubSubProjectID = cfg.Firestore.ProjectID
	}
	if len(cfg.Security.AdminRoles) == 0 {
		cfg.Security.AdminRoles = []string{"shop_manager", "admin"}
	}
}
