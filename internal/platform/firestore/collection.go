package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
)

// Document is a decoded snapshot.
type Document[T any] struct {
	ID         string
	Data       T
	UpdateTime time.Time
}

// Collection reads and writes documents of type T in one top-level collection. T is encoded and
// decoded with the client's firestore struct tags.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds name on provider.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Get loads and decodes id. A missing document is an *Error reporting IsNotFound.
func (c *Collection[T]) Get(ctx context.Context, id string) (Document[T], error) {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return Document[T]{}, wrap(c.op("get"), err)
	}
	var data T
	if err := snap.DataTo(&data); err != nil {
		return Document[T]{}, fmt.Errorf("%s: decode %s: %w", c.op("get"), id, err)
	}
	return Document[T]{ID: snap.Ref.ID, Data: data, UpdateTime: snap.UpdateTime}, nil
}

// Create writes value only when id does not exist yet. An existing document reports IsConflict.
func (c *Collection[T]) Create(ctx context.Context, id string, value T) error {
	return c.write(ctx, "create", id, func(ref *firestore.DocumentRef) (*firestore.WriteResult, error) {
		return ref.Create(ctx, value)
	})
}

// Set replaces id with value.
func (c *Collection[T]) Set(ctx context.Context, id string, value T) error {
	return c.write(ctx, "set", id, func(ref *firestore.DocumentRef) (*firestore.WriteResult, error) {
		return ref.Set(ctx, value)
	})
}

// Merge writes fields into id, creating the document when missing. Values may be transforms such
// as firestore.ArrayUnion.
func (c *Collection[T]) Merge(ctx context.Context, id string, fields map[string]any) error {
	return c.write(ctx, "merge", id, func(ref *firestore.DocumentRef) (*firestore.WriteResult, error) {
		return ref.Set(ctx, fields, firestore.MergeAll)
	})
}

// Delete removes id. Deleting a missing document succeeds.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	return c.write(ctx, "delete", id, func(ref *firestore.DocumentRef) (*firestore.WriteResult, error) {
		return ref.Delete(ctx)
	})
}

// Ref returns the reference for id, for use inside transactions.
func (c *Collection[T]) Ref(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if c == nil || c.provider == nil || c.name == "" {
		return nil, errors.New("firestore: collection not configured")
	}
	if strings.TrimSpace(id) == "" {
		return nil, wrap(c.op("ref"), errors.New("document id is required"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name).Doc(id), nil
}

func (c *Collection[T]) write(ctx context.Context, action, id string, do func(*firestore.DocumentRef) (*firestore.WriteResult, error)) error {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	if _, err := do(ref); err != nil {
		return wrap(c.op(action), err)
	}
	return nil
}

func (c *Collection[T]) op(action string) string {
	return c.name + "." + action
}
