// Package secrets resolves secret:// references against Google Secret Manager, with a local file
// fallback for development and emulator setups.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrNotFound reports a reference that neither Secret Manager nor the fallback file could answer.
var ErrNotFound = errors.New("secrets: not found")

// ErrCorrupted reports a payload whose checksum did not match.
var ErrCorrupted = errors.New("secrets: payload checksum mismatch")

var crc32c = crc32.MakeTable(crc32.Castagnoli)

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// AccessClient is the Secret Manager call the fetcher depends on.
type AccessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves references, caching values per secret version.
type Fetcher struct {
	client     AccessClient
	ownsClient bool
	logger     *zap.Logger
	project    string
	ttl        time.Duration
	now        func() time.Time

	fallbackPath string
	fallbackOnce sync.Once
	fallback     fallbackFile
	fallbackErr  error

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]cached

	latency metric.Float64Histogram
	hits    metric.Int64Counter
}

type cached struct {
	value     string
	fetchedAt time.Time
}

type settings struct {
	logger       *zap.Logger
	environment  string
	project      string
	projects     map[string]string
	fallbackPath string
	ttl          time.Duration
	clock        func() time.Time
	meter        metric.Meter
	client       AccessClient
	clientOpts   []option.ClientOption
}

// Option customises NewFetcher.
type Option func(*settings)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithEnvironment selects which WithProjectMap entry applies.
func WithEnvironment(env string) Option {
	return func(s *settings) { s.environment = strings.ToLower(strings.TrimSpace(env)) }
}

// WithDefaultProject is used when no environment mapping matches and the reference names no project.
func WithDefaultProject(projectID string) Option {
	return func(s *settings) { s.project = strings.TrimSpace(projectID) }
}

// WithProjectMap maps environment labels to Secret Manager projects.
func WithProjectMap(projects map[string]string) Option {
	return func(s *settings) {
		s.projects = make(map[string]string, len(projects))
		for env, project := range projects {
			s.projects[strings.ToLower(strings.TrimSpace(env))] = strings.TrimSpace(project)
		}
	}
}

// WithFallbackFile reads local values from path. Empty disables the fallback.
func WithFallbackFile(path string) Option {
	return func(s *settings) { s.fallbackPath = strings.TrimSpace(path) }
}

// WithCacheTTL expires cached values after ttl. Zero keeps them for the process lifetime.
func WithCacheTTL(ttl time.Duration, clock func() time.Time) Option {
	return func(s *settings) {
		s.ttl = ttl
		s.clock = clock
	}
}

// WithMeter records fetch latency and cache hits on m instead of the global meter.
func WithMeter(m metric.Meter) Option {
	return func(s *settings) { s.meter = m }
}

// WithAccessClient uses client instead of dialling Secret Manager.
func WithAccessClient(client AccessClient) Option {
	return func(s *settings) { s.client = client }
}

// WithClientOptions is forwarded when dialling Secret Manager.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) { s.clientOpts = append(s.clientOpts, opts...) }
}

// NewFetcher builds a Fetcher. When Secret Manager cannot be dialled the fetcher answers from the
// fallback file only.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	s := settings{environment: "local", fallbackPath: ".secrets.local"}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.meter == nil {
		s.meter = otel.GetMeterProvider().Meter("github.com/simplecartfees/api/internal/platform/secrets")
	}

	f := &Fetcher{
		client:       s.client,
		logger:       s.logger,
		project:      s.project,
		ttl:          s.ttl,
		now:          s.clock,
		fallbackPath: s.fallbackPath,
		cache:        make(map[string]cached),
	}
	if project := s.projects[s.environment]; project != "" {
		f.project = project
	}

	var err error
	if f.latency, err = s.meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret resolution latency by source"),
	); err != nil {
		s.logger.Warn("secrets: latency histogram unavailable", zap.Error(err))
	}
	if f.hits, err = s.meter.Int64Counter("secrets.fetch.cache_hits",
		metric.WithDescription("Secret resolutions answered from cache"),
	); err != nil {
		s.logger.Warn("secrets: cache hit counter unavailable", zap.Error(err))
	}

	if f.client == nil {
		client, err := newSecretManagerClient(ctx, s.clientOpts...)
		if err != nil {
			s.logger.Warn("secrets: secret manager unavailable, using fallback file only", zap.Error(err))
			return f, nil
		}
		f.client = client
		f.ownsClient = true
	}
	return f, nil
}

// Close releases a Secret Manager client the fetcher dialled itself.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret satisfies config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the value behind raw. Concurrent calls for the same version share one fetch.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	ref, err := ParseReference(raw)
	if err != nil {
		return "", err
	}
	start := f.now()
	if value, ok := f.cached(ref.key()); ok {
		if f.hits != nil {
			f.hits.Add(ctx, 1)
		}
		f.observe(ctx, start, "cache")
		return value, nil
	}

	result, err, _ := f.group.Do(ref.key(), func() (any, error) {
		value, source, err := f.fetch(ctx, ref)
		f.observe(ctx, start, source)
		if err != nil {
			return "", err
		}
		f.mu.Lock()
		f.cache[ref.key()] = cached{value: value, fetchedAt: f.now()}
		f.mu.Unlock()
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Invalidate drops every cached version of the referenced secret.
func (f *Fetcher) Invalidate(raw string) {
	ref, err := ParseReference(raw)
	if err != nil {
		return
	}
	prefix := ref.URI() + "#"
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.cache {
		if strings.HasPrefix(key, prefix) {
			delete(f.cache, key)
		}
	}
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[key]
	if !ok || (f.ttl > 0 && f.now().Sub(entry.fetchedAt) >= f.ttl) {
		return "", false
	}
	return entry.value, true
}

// fetch asks Secret Manager first. Only outages and permission problems fall through to the local
// file; a secret that does not exist remotely stays an error.
func (f *Fetcher) fetch(ctx context.Context, ref Reference) (string, string, error) {
	project := ref.Project
	if project == "" {
		project = f.project
	}
	if f.client != nil && project != "" {
		value, err := f.access(ctx, ref.resource(project))
		if err == nil {
			return value, "remote", nil
		}
		if !fallbackAllowed(err) {
			return "", "error", fmt.Errorf("secrets: access %s: %w", ref.URI(), err)
		}
		f.logger.Debug("secrets: remote unavailable, trying fallback file", zap.String("ref", ref.URI()), zap.Error(err))
	}

	f.fallbackOnce.Do(func() {
		f.fallback, f.fallbackErr = readFallbackFile(f.fallbackPath)
	})
	if f.fallbackErr != nil {
		return "", "error", f.fallbackErr
	}
	if value, ok := f.fallback.lookup(ref); ok {
		return value, "fallback", nil
	}
	return "", "error", fmt.Errorf("%w: %s", ErrNotFound, ref.URI())
}

func (f *Fetcher) access(ctx context.Context, resource string) (string, error) {
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", err
	}
	payload := resp.GetPayload()
	if payload == nil {
		return "", fmt.Errorf("%w: empty payload for %s", ErrNotFound, resource)
	}
	if payload.DataCrc32C != nil && int64(crc32.Checksum(payload.GetData(), crc32c)) != payload.GetDataCrc32C() {
		return "", fmt.Errorf("%w: %s", ErrCorrupted, resource)
	}
	return string(payload.GetData()), nil
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string) {
	if f.latency == nil {
		return
	}
	elapsed := f.now().Sub(start)
	f.latency.Record(ctx, float64(elapsed)/float64(time.Millisecond), metric.WithAttributes(attribute.String("source", source)))
}

func fallbackAllowed(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
