package services

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/simplecartfees/api/internal/domain"
	"github.com/simplecartfees/api/internal/repositories"
)

type stubFeeConfigRepository struct {
	mu         sync.Mutex
	cfg        domain.FeeConfiguration
	loadErr    error
	replaceErr error
	replaced   []domain.FeeConfiguration
	expected   []int64
	loads      int
}

func (s *stubFeeConfigRepository) Load(context.Context) (domain.FeeConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.loadErr != nil {
		return domain.FeeConfiguration{}, s.loadErr
	}
	cfg := s.cfg
	cfg.Fees = append([]domain.FeeDefinition(nil), s.cfg.Fees...)
	return cfg, nil
}

func (s *stubFeeConfigRepository) Replace(_ context.Context, cfg domain.FeeConfiguration, expectedRevision int64) (domain.FeeConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expected = append(s.expected, expectedRevision)
	if s.replaceErr != nil {
		return domain.FeeConfiguration{}, s.replaceErr
	}
	if s.cfg.Revision != expectedRevision {
		return domain.FeeConfiguration{}, repositories.NewStoreError("fee_config.replace", repositories.StoreErrorConflict, nil)
	}
	s.cfg = cfg
	s.replaced = append(s.replaced, cfg)
	return cfg, nil
}

type stubSelectionRepository struct {
	mu       sync.Mutex
	sessions map[string]map[string]struct{}
	getErr   error
	clearErr error
	toggles  int
	cleared  []string
}

func newStubSelectionRepository() *stubSelectionRepository {
	return &stubSelectionRepository{sessions: map[string]map[string]struct{}{}}
}

func (s *stubSelectionRepository) Get(_ context.Context, sessionID string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	out := map[string]struct{}{}
	for id := range s.sessions[sessionID] {
		out[id] = struct{}{}
	}
	return out, nil
}

func (s *stubSelectionRepository) Toggle(_ context.Context, sessionID, feeID string, checked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toggles++
	set, ok := s.sessions[sessionID]
	if !ok {
		set = map[string]struct{}{}
		s.sessions[sessionID] = set
	}
	if checked {
		set[feeID] = struct{}{}
	} else {
		delete(set, feeID)
	}
	return nil
}

func (s *stubSelectionRepository) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clearErr != nil {
		return s.clearErr
	}
	delete(s.sessions, sessionID)
	s.cleared = append(s.cleared, sessionID)
	return nil
}

type stubAppliedFeeRepository struct {
	mu        sync.Mutex
	records   map[string]domain.AppliedFeeRecord
	createErr error
}

func newStubAppliedFeeRepository() *stubAppliedFeeRepository {
	return &stubAppliedFeeRepository{records: map[string]domain.AppliedFeeRecord{}}
}

func (s *stubAppliedFeeRepository) Create(_ context.Context, record domain.AppliedFeeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, exists := s.records[record.OrderID]; exists {
		return repositories.NewStoreError("applied_fees.create", repositories.StoreErrorConflict, nil)
	}
	s.records[record.OrderID] = record
	return nil
}

func (s *stubAppliedFeeRepository) FindByOrderID(_ context.Context, orderID string) (domain.AppliedFeeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[orderID]
	if !ok {
		return domain.AppliedFeeRecord{}, repositories.NewStoreError("applied_fees.find", repositories.StoreErrorNotFound, nil)
	}
	return record, nil
}

type stubTaxTableSource struct {
	table domain.TaxTable
	err   error
	calls int
}

func (s *stubTaxTableSource) LoadTaxTable(context.Context) (domain.TaxTable, error) {
	s.calls++
	return s.table, s.err
}

type stubPublisher struct {
	events []FeesAppliedEvent
	err    error
}

func (s *stubPublisher) PublishFeesApplied(_ context.Context, event FeesAppliedEvent) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.events = append(s.events, event)
	return "msg-1", nil
}

type recordingMetrics struct {
	mu          sync.Mutex
	evaluations int
	toggles     []bool
	recorded    []int
}

func (m *recordingMetrics) ObserveEvaluation(string, int, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evaluations++
}

func (m *recordingMetrics) ObserveToggle(_ string, _ bool, applied bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toggles = append(m.toggles, applied)
}

func (m *recordingMetrics) ObserveRecorded(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, n)
}

func rateTable(rates map[string]string) StaticTaxRateResolver {
	table := domain.TaxTable{Enabled: true, Classes: map[string][]domain.TaxRate{}}
	for class, rate := range rates {
		table.Classes[domain.NormalizeTaxClass(class)] = []domain.TaxRate{{Name: class, Rate: decimal.RequireFromString(rate)}}
	}
	return StaticTaxRateResolver{Table: table}
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func optionalFee(id, price string) domain.FeeDefinition {
	return domain.FeeDefinition{
		ID:           id,
		InternalName: id + " internal",
		PublicName:   id + " public",
		Price:        dec(price),
		Type:         domain.FeeTypeOptional,
		Condition:    domain.FeeConditionAlways,
		Active:       true,
	}
}

func requiredFee(id, price string) domain.FeeDefinition {
	fee := optionalFee(id, price)
	fee.Type = domain.FeeTypeRequired
	return fee
}

var (
	_ repositories.FeeConfigRepository  = (*stubFeeConfigRepository)(nil)
	_ repositories.SelectionRepository  = (*stubSelectionRepository)(nil)
	_ repositories.AppliedFeeRepository = (*stubAppliedFeeRepository)(nil)
	_ repositories.TaxTableSource       = (*stubTaxTableSource)(nil)
	_ FeeEventPublisher                 = (*stubPublisher)(nil)
	_ FeeMetrics                        = (*recordingMetrics)(nil)
)
