package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

// NonceStore remembers signature nonces so a captured webhook cannot be replayed.
type NonceStore interface {
	// UseNonce stores nonce under scope until expiry. It reports false when the nonce is already held.
	UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error)
}

// InMemoryNonceStore is a single-process NonceStore for tests and local runs. Deployments with more
// than one instance need a shared store such as the Redis one.
type InMemoryNonceStore struct {
	mu     sync.Mutex
	now    func() time.Time
	nonces map[string]time.Time
}

// NonceStoreOption customises InMemoryNonceStore.
type NonceStoreOption func(*InMemoryNonceStore)

// WithNonceClock overrides the time source used for expiry.
func WithNonceClock(now func() time.Time) NonceStoreOption {
	return func(s *InMemoryNonceStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewInMemoryNonceStore returns an empty store.
func NewInMemoryNonceStore(opts ...NonceStoreOption) *InMemoryNonceStore {
	s := &InMemoryNonceStore{now: time.Now, nonces: make(map[string]time.Time)}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// UseNonce implements NonceStore. Expired entries are dropped on every call.
func (s *InMemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}
	now := s.now()
	if !expiry.After(now) {
		return false, errors.New("auth: nonce expiry is in the past")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, until := range s.nonces {
		if !until.After(now) {
			delete(s.nonces, key)
		}
	}
	key := scope + "\x00" + nonce
	if _, held := s.nonces[key]; held {
		return false, nil
	}
	s.nonces[key] = expiry
	return true, nil
}
