// Package memory provides process-local repository implementations used for local development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/simplecartfees/api/internal/domain"
	"github.com/simplecartfees/api/internal/repositories"
)

// FeeConfigRepository keeps the fee configuration in memory.
type FeeConfigRepository struct {
	mu  sync.RWMutex
	cfg domain.FeeConfiguration
}

var _ repositories.FeeConfigRepository = (*FeeConfigRepository)(nil)

// NewFeeConfigRepository returns a repository seeded with the given fees at revision 0.
func NewFeeConfigRepository(seed ...domain.FeeDefinition) *FeeConfigRepository {
	return &FeeConfigRepository{cfg: domain.FeeConfiguration{Fees: cloneFees(seed)}}
}

// Load returns a copy of the current configuration.
func (r *FeeConfigRepository) Load(ctx context.Context) (domain.FeeConfiguration, error) {
	if err := ctx.Err(); err != nil {
		return domain.FeeConfiguration{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg := r.cfg
	cfg.Fees = cloneFees(r.cfg.Fees)
	return cfg, nil
}

// Replace swaps the whole list when expectedRevision matches the stored revision.
func (r *FeeConfigRepository) Replace(ctx context.Context, cfg domain.FeeConfiguration, expectedRevision int64) (domain.FeeConfiguration, error) {
	if err := ctx.Err(); err != nil {
		return domain.FeeConfiguration{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg.Revision != expectedRevision {
		return domain.FeeConfiguration{}, repositories.NewStoreError("memory.fee_config.replace", repositories.StoreErrorConflict, nil)
	}
	stored := cfg
	stored.Fees = cloneFees(cfg.Fees)
	r.cfg = stored
	out := stored
	out.Fees = cloneFees(stored.Fees)
	return out, nil
}

// SelectionRepository keeps per-session selections in memory with an idle expiry.
type SelectionRepository struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]*selectionEntry
}

type selectionEntry struct {
	ids       map[string]struct{}
	expiresAt time.Time
}

var _ repositories.SelectionRepository = (*SelectionRepository)(nil)

// NewSelectionRepository constructs an in-memory selection store. A zero ttl keeps entries forever.
func NewSelectionRepository(ttl time.Duration, clock func() time.Time) *SelectionRepository {
	if clock == nil {
		clock = time.Now
	}
	return &SelectionRepository{
		ttl:      ttl,
		now:      clock,
		sessions: make(map[string]*selectionEntry),
	}
}

// Get returns a copy of the session's selection.
func (r *SelectionRepository) Get(ctx context.Context, sessionID string) (map[string]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]struct{})
	entry := r.live(sessionID)
	if entry == nil {
		return out, nil
	}
	for id := range entry.ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// Toggle adds or removes one id under the store lock.
func (r *SelectionRepository) Toggle(ctx context.Context, sessionID, feeID string, checked bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := r.live(sessionID)
	if entry == nil {
		if !checked {
			return nil
		}
		entry = &selectionEntry{ids: make(map[string]struct{})}
		r.sessions[sessionID] = entry
	}
	if checked {
		entry.ids[feeID] = struct{}{}
	} else {
		delete(entry.ids, feeID)
	}
	if r.ttl > 0 {
		entry.expiresAt = r.now().Add(r.ttl)
	}
	return nil
}

// Clear forgets the session.
func (r *SelectionRepository) Clear(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
	return nil
}

// live returns the entry when present and unexpired; the caller holds the lock.
func (r *SelectionRepository) live(sessionID string) *selectionEntry {
	entry, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	if !entry.expiresAt.IsZero() && !r.now().Before(entry.expiresAt) {
		delete(r.sessions, sessionID)
		return nil
	}
	return entry
}

// AppliedFeeRepository stores applied fee records in memory.
type AppliedFeeRepository struct {
	mu      sync.RWMutex
	records map[string]domain.AppliedFeeRecord
}

var _ repositories.AppliedFeeRepository = (*AppliedFeeRepository)(nil)

// NewAppliedFeeRepository constructs an empty record store.
func NewAppliedFeeRepository() *AppliedFeeRepository {
	return &AppliedFeeRepository{records: make(map[string]domain.AppliedFeeRecord)}
}

// Create stores the record unless the order already has one.
func (r *AppliedFeeRepository) Create(ctx context.Context, record domain.AppliedFeeRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[record.OrderID]; exists {
		return repositories.NewStoreError("memory.applied_fees.create", repositories.StoreErrorConflict, nil)
	}
	record.Fees = append([]domain.AppliedFeeSnapshot(nil), record.Fees...)
	r.records[record.OrderID] = record
	return nil
}

// FindByOrderID returns the stored record.
func (r *AppliedFeeRepository) FindByOrderID(ctx context.Context, orderID string) (domain.AppliedFeeRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.AppliedFeeRecord{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[orderID]
	if !ok {
		return domain.AppliedFeeRecord{}, repositories.NewStoreError("memory.applied_fees.find", repositories.StoreErrorNotFound, nil)
	}
	record.Fees = append([]domain.AppliedFeeSnapshot(nil), record.Fees...)
	return record, nil
}

// TaxTableSource serves a fixed tax table.
type TaxTableSource struct {
	Table domain.TaxTable
}

var _ repositories.TaxTableSource = TaxTableSource{}

// LoadTaxTable returns the configured table.
func (s TaxTableSource) LoadTaxTable(ctx context.Context) (domain.TaxTable, error) {
	if err := ctx.Err(); err != nil {
		return domain.TaxTable{}, err
	}
	return s.Table, nil
}

func cloneFees(fees []domain.FeeDefinition) []domain.FeeDefinition {
	if fees == nil {
		return []domain.FeeDefinition{}
	}
	return append([]domain.FeeDefinition(nil), fees...)
}
