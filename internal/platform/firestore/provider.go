package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/simplecartfees/api/internal/platform/config"
)

const (
	defaultDialTimeout = 10 * time.Second
	envEmulatorHost    = "FIRESTORE_EMULATOR_HOST"
	envGoogleProjectID = "GOOGLE_CLOUD_PROJECT"
)

// ErrProviderClosed is returned by Client after Close.
var ErrProviderClosed = errors.New("firestore: provider is closed")

// Provider owns the Firestore client shared by the fee, selection, applied-fee and tax
// repositories. The client is dialled on first use, so a process on memory storage never
// needs Google credentials.
type Provider struct {
	cfg         config.FirestoreConfig
	dialTimeout time.Duration
	clientOpts  []option.ClientOption
	pingPath    [2]string

	dials  singleflight.Group
	mu     sync.RWMutex
	client *firestore.Client
	closed bool
}

// ProviderOption customises a Provider.
type ProviderOption func(*Provider)

// WithDialTimeout bounds client creation.
func WithDialTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.dialTimeout = timeout
		}
	}
}

// WithClientOptions appends Google API client options such as a credentials file.
func WithClientOptions(opts ...option.ClientOption) ProviderOption {
	return func(p *Provider) { p.clientOpts = append(p.clientOpts, opts...) }
}

// WithPingDocument changes the document Ping reads. It does not need to exist.
func WithPingDocument(collection, document string) ProviderOption {
	return func(p *Provider) {
		if collection != "" && document != "" {
			p.pingPath = [2]string{collection, document}
		}
	}
}

func NewProvider(cfg config.FirestoreConfig, opts ...ProviderOption) *Provider {
	p := &Provider{
		cfg:         cfg,
		dialTimeout: defaultDialTimeout,
		pingPath:    [2]string{"cartFeeSettings", "health"},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// ProjectID is the configured project, else GOOGLE_CLOUD_PROJECT.
func (p *Provider) ProjectID() string {
	return firstNonBlank(p.cfg.ProjectID, os.Getenv(envGoogleProjectID))
}

// Client returns the shared client. Concurrent first callers share one dial, and each caller
// stops waiting when its own ctx ends.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	if ctx == nil {
		return nil, errors.New("firestore: context is required")
	}
	if client, err := p.current(); client != nil || err != nil {
		return client, err
	}

	result := p.dials.DoChan("client", func() (any, error) {
		if client, err := p.current(); client != nil || err != nil {
			return client, err
		}
		client, err := p.dial()
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			_ = client.Close()
			return nil, ErrProviderClosed
		}
		p.client = client
		return client, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*firestore.Client), nil
	}
}

func (p *Provider) current() (*firestore.Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrProviderClosed
	}
	return p.client, nil
}

// dial runs detached from any single caller so an impatient caller cannot fail the dial for
// the others.
func (p *Provider) dial() (*firestore.Client, error) {
	projectID := p.ProjectID()
	if projectID == "" {
		return nil, errors.New("firestore: project id is required")
	}
	opts := append(append([]option.ClientOption(nil), p.clientOpts...), p.emulatorOptions()...)

	ctx, cancel := context.WithTimeout(context.Background(), p.dialTimeout)
	defer cancel()
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client for %s: %w", projectID, err)
	}
	return client, nil
}

func (p *Provider) emulatorOptions() []option.ClientOption {
	host := firstNonBlank(p.cfg.EmulatorHost, os.Getenv(envEmulatorHost))
	if host == "" {
		return nil
	}
	// The client library only switches to emulator mode through the environment.
	if os.Getenv(envEmulatorHost) == "" {
		_ = os.Setenv(envEmulatorHost, host)
	}
	return []option.ClientOption{
		option.WithoutAuthentication(),
		option.WithEndpoint(host),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	}
}

// Close releases the client. Later calls to Client fail with ErrProviderClosed.
func (p *Provider) Close(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	client := p.client
	p.client, p.closed = nil, true
	p.mu.Unlock()
	if client == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	done := make(chan error, 1)
	go func() { done <- client.Close() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Ping reads the ping document. NotFound counts as reachable.
func (p *Provider) Ping(ctx context.Context) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	_, err = client.Collection(p.pingPath[0]).Doc(p.pingPath[1]).Get(ctx)
	if err == nil || isNotFound(err) {
		return nil
	}
	return wrap("firestore.ping", err)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}
