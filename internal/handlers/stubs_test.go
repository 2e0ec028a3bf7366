package handlers

import (
	"context"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/simplecartfees/api/internal/platform/auth"
	"github.com/simplecartfees/api/internal/services"
)

type stubFeeConfigService struct {
	listFn func(ctx context.Context) (services.FeeConfiguration, error)
	getFn  func(ctx context.Context, feeID string) (services.FeeDefinition, error)
	saveFn func(ctx context.Context, cmd services.SaveFeesCommand) (services.FeeConfiguration, error)
}

func (s *stubFeeConfigService) ListFees(ctx context.Context) (services.FeeConfiguration, error) {
	if s.listFn == nil {
		return services.FeeConfiguration{}, nil
	}
	return s.listFn(ctx)
}

func (s *stubFeeConfigService) GetFee(ctx context.Context, feeID string) (services.FeeDefinition, error) {
	if s.getFn == nil {
		return services.FeeDefinition{}, services.ErrFeeNotFound
	}
	return s.getFn(ctx, feeID)
}

func (s *stubFeeConfigService) SaveFees(ctx context.Context, cmd services.SaveFeesCommand) (services.FeeConfiguration, error) {
	if s.saveFn == nil {
		return services.FeeConfiguration{}, nil
	}
	return s.saveFn(ctx, cmd)
}

type stubSelectionService struct {
	toggleFn func(ctx context.Context, cmd services.ToggleSelectionCommand) (services.ToggleResult, error)
	toggles  []services.ToggleSelectionCommand
}

func (s *stubSelectionService) Toggle(ctx context.Context, cmd services.ToggleSelectionCommand) (services.ToggleResult, error) {
	s.toggles = append(s.toggles, cmd)
	if s.toggleFn == nil {
		return services.ToggleResult{Applied: true}, nil
	}
	return s.toggleFn(ctx, cmd)
}

func (s *stubSelectionService) Selected(context.Context, string) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

func (s *stubSelectionService) Clear(context.Context, string) error {
	return nil
}

type stubCartFeeService struct {
	calculateFn func(ctx context.Context, cmd services.CalculateFeesCommand) (services.CartFees, error)
	optionalFn  func(ctx context.Context, cmd services.CalculateFeesCommand) ([]services.OptionalFeeView, error)
	previewFn   func(ctx context.Context, cmd services.PreviewFeesCommand) (services.CartFees, error)

	checkoutCalls int
}

func (s *stubCartFeeService) CalculateFees(ctx context.Context, cmd services.CalculateFeesCommand) (services.CartFees, error) {
	if s.calculateFn == nil {
		return services.CartFees{}, nil
	}
	return s.calculateFn(ctx, cmd)
}

func (s *stubCartFeeService) OptionalFees(ctx context.Context, cmd services.CalculateFeesCommand) ([]services.OptionalFeeView, error) {
	if s.optionalFn == nil {
		return nil, nil
	}
	return s.optionalFn(ctx, cmd)
}

func (s *stubCartFeeService) CheckoutFees(ctx context.Context, cmd services.CalculateFeesCommand) (services.CheckoutFees, error) {
	s.checkoutCalls++
	fees, err := s.CalculateFees(ctx, cmd)
	if err != nil {
		return services.CheckoutFees{}, err
	}
	optional, err := s.OptionalFees(ctx, cmd)
	if err != nil {
		return services.CheckoutFees{}, err
	}
	return services.CheckoutFees{CartFees: fees, Optional: optional}, nil
}

func (s *stubCartFeeService) PreviewFees(ctx context.Context, cmd services.PreviewFeesCommand) (services.CartFees, error) {
	if s.previewFn == nil {
		return services.CartFees{}, nil
	}
	return s.previewFn(ctx, cmd)
}

type stubOrderFeeService struct {
	recordFn func(ctx context.Context, cmd services.RecordOrderFeesCommand) (services.AppliedFeeRecord, error)
	emailFn  func(ctx context.Context, orderID string) ([]services.OrderFeeLine, error)
	adminFn  func(ctx context.Context, orderID string) ([]services.OrderFeeLine, error)
}

func (s *stubOrderFeeService) RecordAppliedFees(ctx context.Context, cmd services.RecordOrderFeesCommand) (services.AppliedFeeRecord, error) {
	if s.recordFn == nil {
		return services.AppliedFeeRecord{OrderID: cmd.OrderID}, nil
	}
	return s.recordFn(ctx, cmd)
}

func (s *stubOrderFeeService) AppliedFees(context.Context, string) (services.AppliedFeeRecord, error) {
	return services.AppliedFeeRecord{}, services.ErrAppliedFeesNotFound
}

func (s *stubOrderFeeService) EmailFeeLines(ctx context.Context, orderID string) ([]services.OrderFeeLine, error) {
	if s.emailFn == nil {
		return []services.OrderFeeLine{}, nil
	}
	return s.emailFn(ctx, orderID)
}

func (s *stubOrderFeeService) AdminFeeLines(ctx context.Context, orderID string) ([]services.OrderFeeLine, error) {
	if s.adminFn == nil {
		return nil, services.ErrAppliedFeesNotFound
	}
	return s.adminFn(ctx, orderID)
}

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

type stubTokenVerifier struct {
	tokens map[string]*firebaseauth.Token
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	if token, ok := s.tokens[idToken]; ok {
		return token, nil
	}
	return nil, auth.ErrTokenInvalid
}

var (
	_ services.FeeConfigService = (*stubFeeConfigService)(nil)
	_ services.SelectionService = (*stubSelectionService)(nil)
	_ services.CartFeeService   = (*stubCartFeeService)(nil)
	_ services.OrderFeeService  = (*stubOrderFeeService)(nil)
	_ services.SystemService    = (*stubSystemService)(nil)
)
