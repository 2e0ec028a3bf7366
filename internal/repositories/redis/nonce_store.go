package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultNoncePrefix = "cartfees:nonce"

// NonceStore records webhook signature nonces with SET NX so replays are rejected across instances.
type NonceStore struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewNonceStore constructs a Redis-backed nonce registry.
func NewNonceStore(client goredis.UniversalClient, prefix string) (*NonceStore, error) {
	if client == nil {
		return nil, errors.New("redis nonce store: client is required")
	}
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultNoncePrefix
	}
	return &NonceStore{client: client, prefix: prefix, now: time.Now}, nil
}

// UseNonce stores the nonce until expiry and reports false when it was already present.
func (s *NonceStore) UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("redis nonce store: scope and nonce are required")
	}
	ttl := expiry.Sub(s.now())
	if ttl <= 0 {
		return false, errors.New("redis nonce store: nonce expiry is in the past")
	}
	stored, err := s.client.SetNX(ctx, s.prefix+":"+scope+":"+nonce, 1, ttl).Result()
	if err != nil {
		return false, wrapError("redis.nonce.use", err)
	}
	return stored, nil
}
