package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/simplecartfees/api/internal/domain"
	"github.com/simplecartfees/api/internal/repositories"
)

var (
	// ErrOrderFeesInvalidInput is returned for a missing order id or a negative subtotal.
	ErrOrderFeesInvalidInput = errors.New("order fees: invalid input")
	// ErrAppliedFeesAlreadyRecorded is returned when an order already has its applied fee record.
	ErrAppliedFeesAlreadyRecorded = errors.New("order fees: already recorded")
	// ErrAppliedFeesNotFound is returned when no record exists for an order.
	ErrAppliedFeesNotFound = errors.New("order fees: not found")
	// ErrOrderFeesUnavailable signals the record store cannot be reached.
	ErrOrderFeesUnavailable = errors.New("order fees: unavailable")
)

const maxOrderIDLength = 128

// OrderFeeServiceDeps bundles collaborators for recording fees on orders.
type OrderFeeServiceDeps struct {
	Fees        repositories.FeeConfigRepository
	Selections  repositories.SelectionRepository
	AppliedFees repositories.AppliedFeeRepository
	Rates       TaxRateResolver
	Publisher   FeeEventPublisher
	Metrics     FeeMetrics
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type orderFeeService struct {
	fees       repositories.FeeConfigRepository
	selections repositories.SelectionRepository
	records    repositories.AppliedFeeRepository
	rates      TaxRateResolver
	publisher  FeeEventPublisher
	metrics    FeeMetrics
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

var _ OrderFeeService = (*orderFeeService)(nil)

// NewOrderFeeService constructs the service that freezes fees onto orders at creation time.
func NewOrderFeeService(deps OrderFeeServiceDeps) (OrderFeeService, error) {
	if deps.Fees == nil {
		return nil, errors.New("order fee service: fee config repository is required")
	}
	if deps.Selections == nil {
		return nil, errors.New("order fee service: selection repository is required")
	}
	if deps.AppliedFees == nil {
		return nil, errors.New("order fee service: applied fee repository is required")
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopFeeMetrics{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderFeeService{
		fees:       deps.Fees,
		selections: deps.Selections,
		records:    deps.AppliedFees,
		rates:      deps.Rates,
		publisher:  deps.Publisher,
		metrics:    metrics,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  newID,
		logger: logger,
	}, nil
}

func (s *orderFeeService) RecordAppliedFees(ctx context.Context, cmd RecordOrderFeesCommand) (AppliedFeeRecord, error) {
	if ctx == nil {
		return AppliedFeeRecord{}, fmt.Errorf("%w: context is required", ErrOrderFeesInvalidInput)
	}
	orderID, err := normalizeOrderID(cmd.OrderID)
	if err != nil {
		return AppliedFeeRecord{}, err
	}
	if cmd.Subtotal.IsNegative() {
		return AppliedFeeRecord{}, fmt.Errorf("%w: subtotal must not be negative", ErrOrderFeesInvalidInput)
	}
	sessionID := strings.TrimSpace(cmd.SessionID)
	if len(sessionID) > maxSessionIDLength {
		return AppliedFeeRecord{}, fmt.Errorf("%w: session id is too long", ErrOrderFeesInvalidInput)
	}

	if _, err := s.records.FindByOrderID(ctx, orderID); err == nil {
		return AppliedFeeRecord{}, ErrAppliedFeesAlreadyRecorded
	} else if !repositories.IsNotFound(err) {
		return AppliedFeeRecord{}, mapOrderFeesRepoError(err)
	}

	cfg, err := s.fees.Load(ctx)
	if err != nil {
		return AppliedFeeRecord{}, mapFeeConfigRepoError(err)
	}
	selection := map[string]struct{}{}
	if sessionID != "" {
		selection, err = s.selections.Get(ctx, sessionID)
		if err != nil {
			return AppliedFeeRecord{}, mapSelectionRepoError(err)
		}
	}

	resolved := resolveFeeDefinitions(ctx, sortFees(cfg.Fees), cmd.Subtotal, selection, s.rates)
	record := domain.AppliedFeeRecord{
		OrderID:    orderID,
		SessionID:  sessionID,
		Fees:       make([]domain.AppliedFeeSnapshot, 0, len(resolved)),
		Subtotal:   cmd.Subtotal,
		RecordedAt: s.clock(),
	}
	for _, item := range resolved {
		record.Fees = append(record.Fees, domain.AppliedFeeSnapshot{
			FeeID:        item.definition.ID,
			InternalName: item.definition.InternalName,
			PublicName:   item.definition.PublicName,
			Type:         item.definition.Type,
			GrossPrice:   item.definition.Price,
			NetAmount:    item.applied.NetAmount,
			TaxClass:     item.definition.TaxClass,
		})
	}

	if err := s.records.Create(ctx, record); err != nil {
		if repositories.IsConflict(err) {
			return AppliedFeeRecord{}, ErrAppliedFeesAlreadyRecorded
		}
		return AppliedFeeRecord{}, mapOrderFeesRepoError(err)
	}
	s.metrics.ObserveRecorded(len(record.Fees))

	if sessionID != "" {
		if err := s.selections.Clear(ctx, sessionID); err != nil {
			s.logger(ctx, "order fees: clear selection failed", map[string]any{
				"orderId": orderID,
				"error":   err.Error(),
			})
		}
	}

	s.publish(ctx, record)
	return record, nil
}

func (s *orderFeeService) AppliedFees(ctx context.Context, orderID string) (AppliedFeeRecord, error) {
	if ctx == nil {
		return AppliedFeeRecord{}, fmt.Errorf("%w: context is required", ErrOrderFeesInvalidInput)
	}
	orderID, err := normalizeOrderID(orderID)
	if err != nil {
		return AppliedFeeRecord{}, err
	}
	record, err := s.records.FindByOrderID(ctx, orderID)
	if err != nil {
		return AppliedFeeRecord{}, mapOrderFeesRepoError(err)
	}
	return record, nil
}

func (s *orderFeeService) EmailFeeLines(ctx context.Context, orderID string) ([]OrderFeeLine, error) {
	record, err := s.AppliedFees(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrAppliedFeesNotFound) {
			return []OrderFeeLine{}, nil
		}
		return nil, err
	}
	lines := make([]OrderFeeLine, 0, len(record.Fees))
	for _, fee := range record.Fees {
		lines = append(lines, OrderFeeLine{
			FeeID:     fee.FeeID,
			Name:      fee.PublicName,
			NetAmount: fee.NetAmount,
			TaxClass:  fee.TaxClass,
		})
	}
	return lines, nil
}

func (s *orderFeeService) AdminFeeLines(ctx context.Context, orderID string) ([]OrderFeeLine, error) {
	record, err := s.AppliedFees(ctx, orderID)
	if err != nil {
		return nil, err
	}
	lines := make([]OrderFeeLine, 0, len(record.Fees))
	for _, fee := range record.Fees {
		name := fee.InternalName
		if name == "" {
			name = fee.PublicName
		}
		lines = append(lines, OrderFeeLine{
			FeeID:     fee.FeeID,
			Name:      name,
			NetAmount: fee.NetAmount,
			TaxClass:  fee.TaxClass,
		})
	}
	return lines, nil
}

func (s *orderFeeService) publish(ctx context.Context, record domain.AppliedFeeRecord) {
	if s.publisher == nil {
		return
	}
	event := FeesAppliedEvent{
		EventID:    s.newID(),
		OrderID:    record.OrderID,
		FeeIDs:     make([]string, 0, len(record.Fees)),
		NetTotal:   decimal.Zero,
		RecordedAt: record.RecordedAt,
	}
	for _, fee := range record.Fees {
		event.FeeIDs = append(event.FeeIDs, fee.FeeID)
		event.NetTotal = event.NetTotal.Add(fee.NetAmount)
	}
	messageID, err := s.publisher.PublishFeesApplied(ctx, event)
	if err != nil {
		s.logger(ctx, "order fees: publish event failed", map[string]any{
			"orderId": record.OrderID,
			"eventId": event.EventID,
			"error":   err.Error(),
		})
		return
	}
	s.logger(ctx, "order fees: recorded", map[string]any{
		"orderId":   record.OrderID,
		"fees":      len(record.Fees),
		"messageId": messageID,
	})
}

func normalizeOrderID(orderID string) (string, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return "", fmt.Errorf("%w: order id is required", ErrOrderFeesInvalidInput)
	}
	if len(orderID) > maxOrderIDLength || strings.ContainsAny(orderID, "/") {
		return "", fmt.Errorf("%w: order id is malformed", ErrOrderFeesInvalidInput)
	}
	return orderID, nil
}

func mapOrderFeesRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch {
	case repositories.IsNotFound(err):
		return fmt.Errorf("%w: %v", ErrAppliedFeesNotFound, err)
	case repositories.IsConflict(err):
		return fmt.Errorf("%w: %v", ErrAppliedFeesAlreadyRecorded, err)
	case repositories.IsUnavailable(err):
		return fmt.Errorf("%w: %v", ErrOrderFeesUnavailable, err)
	}
	return fmt.Errorf("order fees: %w", err)
}
