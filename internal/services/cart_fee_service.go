package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/simplecartfees/api/internal/domain"
	"github.com/simplecartfees/api/internal/repositories"
)

// ErrCartFeesInvalidInput is returned for a negative subtotal or a missing session.
var ErrCartFeesInvalidInput = errors.New("cart fees: invalid input")

// CartFeeServiceDeps bundles collaborators for cart fee calculation.
type CartFeeServiceDeps struct {
	Fees       repositories.FeeConfigRepository
	Selections repositories.SelectionRepository
	Rates      TaxRateResolver
	Metrics    FeeMetrics
	Clock      func() time.Time
	Logger     func(context.Context, string, map[string]any)
}

type cartFeeService struct {
	fees       repositories.FeeConfigRepository
	selections repositories.SelectionRepository
	rates      TaxRateResolver
	metrics    FeeMetrics
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

var _ CartFeeService = (*cartFeeService)(nil)

// NewCartFeeService constructs the service that evaluates fees for a cart session.
func NewCartFeeService(deps CartFeeServiceDeps) (CartFeeService, error) {
	if deps.Fees == nil {
		return nil, errors.New("cart fee service: fee config repository is required")
	}
	if deps.Selections == nil {
		return nil, errors.New("cart fee service: selection repository is required")
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopFeeMetrics{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &cartFeeService{
		fees:       deps.Fees,
		selections: deps.Selections,
		rates:      deps.Rates,
		metrics:    metrics,
		clock:      clock,
		logger:     logger,
	}, nil
}

func (s *cartFeeService) CalculateFees(ctx context.Context, cmd CalculateFeesCommand) (CartFees, error) {
	snapshot, selection, err := s.loadState(ctx, cmd)
	if err != nil {
		return CartFees{}, err
	}
	return s.evaluate(ctx, cmd, snapshot, selection), nil
}

func (s *cartFeeService) OptionalFees(ctx context.Context, cmd CalculateFeesCommand) ([]OptionalFeeView, error) {
	snapshot, selection, err := s.loadState(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return optionalViews(snapshot, cmd.Subtotal, selection), nil
}

// CheckoutFees loads the configuration and selection once so the applied
// fees and the checkboxes never straddle an admin save.
func (s *cartFeeService) CheckoutFees(ctx context.Context, cmd CalculateFeesCommand) (CheckoutFees, error) {
	snapshot, selection, err := s.loadState(ctx, cmd)
	if err != nil {
		return CheckoutFees{}, err
	}
	return CheckoutFees{
		CartFees: s.evaluate(ctx, cmd, snapshot, selection),
		Optional: optionalViews(snapshot, cmd.Subtotal, selection),
	}, nil
}

func (s *cartFeeService) evaluate(ctx context.Context, cmd CalculateFeesCommand, snapshot domain.FeeConfiguration, selection map[string]struct{}) CartFees {
	start := s.clock()
	fees := ResolveFees(ctx, snapshot.Fees, cmd.Subtotal, selection, s.rates)
	s.metrics.ObserveEvaluation(string(cmd.Surface), len(fees), s.clock().Sub(start))
	s.logger(ctx, "cart fees: evaluated", map[string]any{
		"revision": snapshot.Revision,
		"applied":  len(fees),
		"selected": len(selection),
		"surface":  string(cmd.Surface),
	})

	return CartFees{
		Fees:     fees,
		Total:    sumNet(fees),
		Revision: snapshot.Revision,
	}
}

func optionalViews(snapshot domain.FeeConfiguration, subtotal decimal.Decimal, selection map[string]struct{}) []OptionalFeeView {
	views := make([]OptionalFeeView, 0)
	for _, fee := range snapshot.Fees {
		if !fee.Active || !fee.IsOptional() || !EvaluateCondition(fee, subtotal) {
			continue
		}
		_, selected := selection[fee.ID]
		views = append(views, OptionalFeeView{
			ID:           fee.ID,
			PublicName:   fee.PublicName,
			CheckboxText: fee.CheckboxLabel(),
			HelpText:     fee.HelpText,
			Price:        fee.Price,
			TaxClass:     fee.TaxClass,
			Selected:     selected,
		})
	}
	return views
}

func (s *cartFeeService) PreviewFees(ctx context.Context, cmd PreviewFeesCommand) (CartFees, error) {
	if ctx == nil {
		return CartFees{}, fmt.Errorf("%w: context is required", ErrCartFeesInvalidInput)
	}
	if cmd.Subtotal.IsNegative() {
		return CartFees{}, fmt.Errorf("%w: subtotal must not be negative", ErrCartFeesInvalidInput)
	}
	snapshot, err := s.snapshot(ctx)
	if err != nil {
		return CartFees{}, err
	}
	selection := make(map[string]struct{}, len(cmd.SelectedIDs))
	for _, id := range cmd.SelectedIDs {
		if id = strings.TrimSpace(id); id != "" {
			selection[id] = struct{}{}
		}
	}
	fees := ResolveFees(ctx, snapshot.Fees, cmd.Subtotal, selection, s.rates)
	return CartFees{Fees: fees, Total: sumNet(fees), Revision: snapshot.Revision}, nil
}

// loadState reads one configuration snapshot and the session's selection.
func (s *cartFeeService) loadState(ctx context.Context, cmd CalculateFeesCommand) (domain.FeeConfiguration, map[string]struct{}, error) {
	if ctx == nil {
		return domain.FeeConfiguration{}, nil, fmt.Errorf("%w: context is required", ErrCartFeesInvalidInput)
	}
	if cmd.Subtotal.IsNegative() {
		return domain.FeeConfiguration{}, nil, fmt.Errorf("%w: subtotal must not be negative", ErrCartFeesInvalidInput)
	}
	sessionID, err := normalizeSessionID(cmd.SessionID)
	if err != nil {
		return domain.FeeConfiguration{}, nil, fmt.Errorf("%w: %v", ErrCartFeesInvalidInput, err)
	}

	snapshot, err := s.snapshot(ctx)
	if err != nil {
		return domain.FeeConfiguration{}, nil, err
	}
	selection, err := s.selections.Get(ctx, sessionID)
	if err != nil {
		return domain.FeeConfiguration{}, nil, mapSelectionRepoError(err)
	}
	return snapshot, selection, nil
}

func (s *cartFeeService) snapshot(ctx context.Context) (domain.FeeConfiguration, error) {
	cfg, err := s.fees.Load(ctx)
	if err != nil {
		return domain.FeeConfiguration{}, mapFeeConfigRepoError(err)
	}
	cfg.Fees = sortFees(cfg.Fees)
	return cfg, nil
}
