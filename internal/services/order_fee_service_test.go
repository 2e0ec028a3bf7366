package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/simplecartfees/api/internal/domain"
)

type orderFeeFixture struct {
	svc        OrderFeeService
	selections *stubSelectionRepository
	records    *stubAppliedFeeRepository
	publisher  *stubPublisher
	metrics    *recordingMetrics
	fees       *stubFeeConfigRepository
}

func newOrderFeeFixture(t *testing.T) orderFeeFixture {
	t.Helper()
	handling := requiredFee("fee_handling", "2.20")
	handling.InternalName = "Handling (warehouse)"
	handling.PublicName = "Handling"
	insurance := optionalFee("fee_insurance", "3.30")
	insurance.PublicName = "Insurance"
	insurance.Order = 1

	fx := orderFeeFixture{
		selections: newStubSelectionRepository(),
		records:    newStubAppliedFeeRepository(),
		publisher:  &stubPublisher{},
		metrics:    &recordingMetrics{},
		fees:       &stubFeeConfigRepository{cfg: domain.FeeConfiguration{Fees: []domain.FeeDefinition{insurance, handling}}},
	}
	svc, err := NewOrderFeeService(OrderFeeServiceDeps{
		Fees:        fx.fees,
		Selections:  fx.selections,
		AppliedFees: fx.records,
		Rates:       rateTable(map[string]string{"": "10"}),
		Publisher:   fx.publisher,
		Metrics:     fx.metrics,
		Clock:       func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
		IDGenerator: func() string { return "01JTESTEVENT" },
	})
	if err != nil {
		t.Fatalf("NewOrderFeeService: %v", err)
	}
	fx.svc = svc
	return fx
}

func TestOrderFeeServiceRecordsSnapshotAndClearsSelection(t *testing.T) {
	fx := newOrderFeeFixture(t)
	ctx := context.Background()
	if err := fx.selections.Toggle(ctx, "sess-1", "fee_insurance", true); err != nil {
		t.Fatalf("Toggle: %v", err)
	}

	record, err := fx.svc.RecordAppliedFees(ctx, RecordOrderFeesCommand{OrderID: "1001", SessionID: "sess-1", Subtotal: dec("40")})
	if err != nil {
		t.Fatalf("RecordAppliedFees: %v", err)
	}
	if len(record.Fees) != 2 || record.Fees[0].FeeID != "fee_handling" || record.Fees[1].FeeID != "fee_insurance" {
		t.Fatalf("unexpected record fees %+v", record.Fees)
	}
	if !record.Fees[0].NetAmount.Equal(dec("2")) || !record.Fees[0].GrossPrice.Equal(dec("2.2")) {
		t.Fatalf("unexpected handling snapshot %+v", record.Fees[0])
	}
	if !record.Contains("fee_insurance") {
		t.Fatalf("expected insurance recorded")
	}

	if len(fx.selections.cleared) != 1 || fx.selections.cleared[0] != "sess-1" {
		t.Fatalf("expected selection cleared, got %v", fx.selections.cleared)
	}
	if len(fx.publisher.events) != 1 {
		t.Fatalf("expected one event, got %d", len(fx.publisher.events))
	}
	event := fx.publisher.events[0]
	if event.EventID != "01JTESTEVENT" || event.OrderID != "1001" || !event.NetTotal.Equal(dec("5")) {
		t.Fatalf("unexpected event %+v", event)
	}
	if len(fx.metrics.recorded) != 1 || fx.metrics.recorded[0] != 2 {
		t.Fatalf("expected recorded metric, got %v", fx.metrics.recorded)
	}
}

func TestOrderFeeServiceRecordIsWriteOnce(t *testing.T) {
	fx := newOrderFeeFixture(t)
	ctx := context.Background()

	if _, err := fx.svc.RecordAppliedFees(ctx, RecordOrderFeesCommand{OrderID: "1001", Subtotal: dec("10")}); err != nil {
		t.Fatalf("RecordAppliedFees: %v", err)
	}

	fx.fees.cfg.Fees = nil
	_, err := fx.svc.RecordAppliedFees(ctx, RecordOrderFeesCommand{OrderID: "1001", Subtotal: dec("10")})
	if !errors.Is(err, ErrAppliedFeesAlreadyRecorded) {
		t.Fatalf("expected ErrAppliedFeesAlreadyRecorded, got %v", err)
	}

	record, err := fx.svc.AppliedFees(ctx, "1001")
	if err != nil {
		t.Fatalf("AppliedFees: %v", err)
	}
	if len(record.Fees) != 1 {
		t.Fatalf("expected original record untouched, got %+v", record.Fees)
	}
}

func TestOrderFeeServiceFeeLines(t *testing.T) {
	fx := newOrderFeeFixture(t)
	ctx := context.Background()
	if _, err := fx.svc.RecordAppliedFees(ctx, RecordOrderFeesCommand{OrderID: "1001", Subtotal: dec("10")}); err != nil {
		t.Fatalf("RecordAppliedFees: %v", err)
	}

	// Later configuration edits do not change recorded lines.
	fx.fees.cfg.Fees = []domain.FeeDefinition{requiredFee("fee_handling", "99")}

	email, err := fx.svc.EmailFeeLines(ctx, "1001")
	if err != nil {
		t.Fatalf("EmailFeeLines: %v", err)
	}
	if len(email) != 1 || email[0].Name != "Handling" || !email[0].NetAmount.Equal(dec("2")) {
		t.Fatalf("unexpected email lines %+v", email)
	}

	admin, err := fx.svc.AdminFeeLines(ctx, "1001")
	if err != nil {
		t.Fatalf("AdminFeeLines: %v", err)
	}
	if len(admin) != 1 || admin[0].Name != "Handling (warehouse)" {
		t.Fatalf("unexpected admin lines %+v", admin)
	}

	lines, err := fx.svc.EmailFeeLines(ctx, "2002")
	if err != nil {
		t.Fatalf("EmailFeeLines for unknown order: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected no lines for unknown order")
	}
	if _, err := fx.svc.AdminFeeLines(ctx, "2002"); !errors.Is(err, ErrAppliedFeesNotFound) {
		t.Fatalf("expected ErrAppliedFeesNotFound, got %v", err)
	}
}

func TestOrderFeeServicePublishFailureDoesNotFailRecord(t *testing.T) {
	fx := newOrderFeeFixture(t)
	fx.publisher.err = errors.New("broker down")

	if _, err := fx.svc.RecordAppliedFees(context.Background(), RecordOrderFeesCommand{OrderID: "1001", Subtotal: dec("10")}); err != nil {
		t.Fatalf("RecordAppliedFees: %v", err)
	}
	if _, err := fx.svc.AppliedFees(context.Background(), "1001"); err != nil {
		t.Fatalf("expected record stored, got %v", err)
	}
}

func TestOrderFeeServiceValidatesInput(t *testing.T) {
	fx := newOrderFeeFixture(t)
	cases := []RecordOrderFeesCommand{
		{OrderID: "", Subtotal: dec("1")},
		{OrderID: "orders/1", Subtotal: dec("1")},
		{OrderID: "1", Subtotal: dec("-1")},
	}
	for _, cmd := range cases {
		if _, err := fx.svc.RecordAppliedFees(context.Background(), cmd); !errors.Is(err, ErrOrderFeesInvalidInput) {
			t.Fatalf("expected ErrOrderFeesInvalidInput for %+v, got %v", cmd, err)
		}
	}
}
