package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/simplecartfees/api/internal/domain"
)

// Domain type aliases keep handler signatures short.
type (
	FeeDefinition      = domain.FeeDefinition
	FeeConfiguration   = domain.FeeConfiguration
	AppliedFee         = domain.AppliedFee
	AppliedFeeRecord   = domain.AppliedFeeRecord
	AppliedFeeSnapshot = domain.AppliedFeeSnapshot
	SystemHealthReport = domain.SystemHealthReport
)

// FeeConfigService manages the merchant's fee list.
type FeeConfigService interface {
	ListFees(ctx context.Context) (FeeConfiguration, error)
	GetFee(ctx context.Context, feeID string) (FeeDefinition, error)
	SaveFees(ctx context.Context, cmd SaveFeesCommand) (FeeConfiguration, error)
}

// SelectionService records optional fee choices for a cart session from either checkout surface.
type SelectionService interface {
	Toggle(ctx context.Context, cmd ToggleSelectionCommand) (ToggleResult, error)
	Selected(ctx context.Context, sessionID string) (map[string]struct{}, error)
	Clear(ctx context.Context, sessionID string) error
}

// CartFeeService calculates the fees for a cart session.
type CartFeeService interface {
	CalculateFees(ctx context.Context, cmd CalculateFeesCommand) (CartFees, error)
	OptionalFees(ctx context.Context, cmd CalculateFeesCommand) ([]OptionalFeeView, error)
	CheckoutFees(ctx context.Context, cmd CalculateFeesCommand) (CheckoutFees, error)
	PreviewFees(ctx context.Context, cmd PreviewFeesCommand) (CartFees, error)
}

// OrderFeeService records and reads the fees charged on orders.
type OrderFeeService interface {
	RecordAppliedFees(ctx context.Context, cmd RecordOrderFeesCommand) (AppliedFeeRecord, error)
	AppliedFees(ctx context.Context, orderID string) (AppliedFeeRecord, error)
	EmailFeeLines(ctx context.Context, orderID string) ([]OrderFeeLine, error)
	AdminFeeLines(ctx context.Context, orderID string) ([]OrderFeeLine, error)
}

// SystemService exposes operational metadata for health endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// FeeEventPublisher emits integration events after fees are recorded on an order.
type FeeEventPublisher interface {
	PublishFeesApplied(ctx context.Context, event FeesAppliedEvent) (string, error)
}

// FeeMetrics receives counters for fee evaluation activity.
type FeeMetrics interface {
	ObserveEvaluation(surface string, applied int, duration time.Duration)
	ObserveToggle(surface string, checked bool, applied bool)
	ObserveRecorded(feeCount int)
}

// Surface names the checkout UI that issued a selection change.
type Surface string

const (
	SurfaceClassic Surface = "classic"
	SurfaceBlocks  Surface = "blocks"
	SurfaceAdmin   Surface = "admin"
	SurfaceOrder   Surface = "order"
)

// FeeInput is one untrusted row of a fee configuration save request.
// Decimal fields are kept as raw strings so malformed values can be handled per field.
type FeeInput struct {
	ID               string
	InternalName     string
	PublicName       string
	Price            string
	TaxClass         string
	Type             string
	CheckboxText     string
	HelpText         string
	Condition        string
	ConditionMinimum string
	Active           bool
}

type SaveFeesCommand struct {
	Rows             []FeeInput
	ActorID          string
	ExpectedRevision *int64
}

type ToggleSelectionCommand struct {
	SessionID string
	FeeID     string
	Checked   bool
	Surface   Surface
}

// ToggleResult reports whether the toggle changed anything the engine will see.
// Applied is false when the fee id is unknown, required or inactive.
type ToggleResult struct {
	Applied  bool
	Selected []string
}

type CalculateFeesCommand struct {
	SessionID string
	Subtotal  decimal.Decimal
	Surface   Surface
}

type PreviewFeesCommand struct {
	Subtotal    decimal.Decimal
	SelectedIDs []string
}

// CartFees is the outcome of one evaluation pass.
type CartFees struct {
	Fees     []AppliedFee
	Total    decimal.Decimal
	Revision int64
}

// CheckoutFees pairs the applied fees with the optional checkboxes, both
// built from the same configuration revision and selection.
type CheckoutFees struct {
	CartFees
	Optional []OptionalFeeView
}

// OptionalFeeView is the checkbox data rendered by both checkout surfaces.
type OptionalFeeView struct {
	ID           string
	PublicName   string
	CheckboxText string
	HelpText     string
	Price        decimal.Decimal
	TaxClass     string
	Selected     bool
}

type RecordOrderFeesCommand struct {
	OrderID   string
	SessionID string
	Subtotal  decimal.Decimal
}

// OrderFeeLine is a display line for order screens and emails.
type OrderFeeLine struct {
	FeeID     string
	Name      string
	NetAmount decimal.Decimal
	TaxClass  string
}

// FeesAppliedEvent is published once per order after its record is stored.
type FeesAppliedEvent struct {
	EventID    string          `json:"event_id"`
	OrderID    string          `json:"order_id"`
	FeeIDs     []string        `json:"fee_ids"`
	NetTotal   decimal.Decimal `json:"net_total"`
	RecordedAt time.Time       `json:"recorded_at"`
}
