package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

// TxFunc runs inside a Firestore transaction and may be retried.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises RunTransaction.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts caps how often Firestore retries a contended transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout bounds the whole transaction including retries. A tighter caller deadline wins.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// RunTransaction executes fn in a transaction on the shared client. Failures come back as *Error so
// repositories can classify them.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc, opts ...TxOption) error {
	if fn == nil {
		return wrap("transaction", errors.New("transaction function is nil"))
	}
	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > cfg.timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}
	return wrap("transaction", client.RunTransaction(ctx, fn, firestore.MaxAttempts(cfg.attempts)))
}

// CompareAndSet replaces the document at ref with next when the stored revision equals expected.
// A missing document has revision 0. A mismatch returns a conflict *Error.
func CompareAndSet[T any](ctx context.Context, p *Provider, ref *firestore.DocumentRef, expected int64, revision func(T) int64, next T) error {
	if ref == nil || revision == nil {
		return wrap("compare_and_set", errors.New("document ref and revision func are required"))
	}
	op := ref.Parent.ID + ".compare_and_set"
	return p.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		var current int64
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			var stored T
			if err := snap.DataTo(&stored); err != nil {
				return fmt.Errorf("firestore: decode %s: %w", ref.Path, err)
			}
			current = revision(stored)
		case isNotFound(err):
		default:
			return err
		}
		if current != expected {
			return conflictf(op, "revision mismatch: stored %d, expected %d", current, expected)
		}
		return tx.Set(ref, next)
	})
}
