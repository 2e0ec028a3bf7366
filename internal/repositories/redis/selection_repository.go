// Package redis stores cart fee selections in Redis sets.
package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/simplecartfees/api/internal/repositories"
)

const defaultKeyPrefix = "cartfees:selection"

// SelectionRepository keeps each session's selected fee ids in a Redis set. Every toggle refreshes the
// key's expiry so abandoned carts age out.
type SelectionRepository struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ repositories.SelectionRepository = (*SelectionRepository)(nil)

// Options configures the repository.
type Options struct {
	KeyPrefix string
	TTL       time.Duration
}

// NewSelectionRepository constructs a Redis-backed selection repository.
func NewSelectionRepository(client goredis.UniversalClient, opts Options) (*SelectionRepository, error) {
	if client == nil {
		return nil, errors.New("redis selection repository: client is required")
	}
	prefix := strings.TrimSuffix(strings.TrimSpace(opts.KeyPrefix), ":")
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &SelectionRepository{client: client, prefix: prefix, ttl: opts.TTL}, nil
}

// Get returns the set members for the session.
func (r *SelectionRepository) Get(ctx context.Context, sessionID string) (map[string]struct{}, error) {
	members, err := r.client.SMembers(ctx, r.key(sessionID)).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, wrapError("redis.selection.get", err)
	}
	out := make(map[string]struct{}, len(members))
	for _, id := range members {
		out[id] = struct{}{}
	}
	return out, nil
}

// Toggle runs SADD or SREM together with the expiry refresh in one MULTI block.
func (r *SelectionRepository) Toggle(ctx context.Context, sessionID, feeID string, checked bool) error {
	key := r.key(sessionID)
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if checked {
			pipe.SAdd(ctx, key, feeID)
		} else {
			pipe.SRem(ctx, key, feeID)
		}
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return wrapError("redis.selection.toggle", err)
	}
	return nil
}

// Clear removes the session key.
func (r *SelectionRepository) Clear(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.key(sessionID)).Err(); err != nil {
		return wrapError("redis.selection.clear", err)
	}
	return nil
}

// Ping reports whether the server answers.
func (r *SelectionRepository) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return wrapError("redis.ping", err)
	}
	return nil
}

func (r *SelectionRepository) key(sessionID string) string {
	return r.prefix + ":" + strings.TrimSpace(sessionID)
}

func wrapError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return repositories.NewStoreError(op, repositories.StoreErrorUnavailable, err)
}
