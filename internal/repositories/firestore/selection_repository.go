package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/simplecartfees/api/internal/platform/firestore"
	"github.com/simplecartfees/api/internal/repositories"
)

const selectionsCollection = "cartFeeSelections"

type selectionDocument struct {
	FeeIDs    []string  `firestore:"feeIds"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// SelectionRepository keeps one document per cart session. Toggles use array transforms so concurrent
// requests for the same session never overwrite each other's ids.
type SelectionRepository struct {
	selections *pfirestore.Collection[selectionDocument]
	now        func() time.Time
}

var _ repositories.SelectionRepository = (*SelectionRepository)(nil)

// NewSelectionRepository constructs a Firestore-backed selection repository.
func NewSelectionRepository(provider *pfirestore.Provider, clock func() time.Time) (*SelectionRepository, error) {
	if provider == nil {
		return nil, errors.New("selection repository: firestore provider is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &SelectionRepository{
		selections: pfirestore.NewCollection[selectionDocument](provider, selectionsCollection),
		now:        func() time.Time { return clock().UTC() },
	}, nil
}

// Get returns the selected ids for the session; an unknown session has none.
func (r *SelectionRepository) Get(ctx context.Context, sessionID string) (map[string]struct{}, error) {
	if r == nil || r.selections == nil {
		return nil, errors.New("selection repository not initialised")
	}
	out := make(map[string]struct{})
	doc, err := r.selections.Get(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		if repositories.IsNotFound(err) {
			return out, nil
		}
		return nil, err
	}
	for _, id := range doc.Data.FeeIDs {
		out[id] = struct{}{}
	}
	return out, nil
}

// Toggle adds or removes a single id with ArrayUnion or ArrayRemove.
func (r *SelectionRepository) Toggle(ctx context.Context, sessionID, feeID string, checked bool) error {
	if r == nil || r.selections == nil {
		return errors.New("selection repository not initialised")
	}
	var transform any = firestore.ArrayRemove(feeID)
	if checked {
		transform = firestore.ArrayUnion(feeID)
	}
	return r.selections.Merge(ctx, strings.TrimSpace(sessionID), map[string]any{
		"feeIds":    transform,
		"updatedAt": r.now(),
	})
}

// Clear deletes the session document.
func (r *SelectionRepository) Clear(ctx context.Context, sessionID string) error {
	if r == nil || r.selections == nil {
		return errors.New("selection repository not initialised")
	}
	return r.selections.Delete(ctx, strings.TrimSpace(sessionID))
}
