package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/simplecartfees/api/internal/repositories"
)

var (
	// ErrSelectionInvalidInput is returned for a missing session or fee id.
	ErrSelectionInvalidInput = errors.New("fee selection: invalid input")
	// ErrSelectionUnavailable signals the selection store cannot be reached.
	ErrSelectionUnavailable = errors.New("fee selection: unavailable")
)

const maxSessionIDLength = 128

// SelectionServiceDeps bundles collaborators required by the selection service.
type SelectionServiceDeps struct {
	Fees       repositories.FeeConfigRepository
	Selections repositories.SelectionRepository
	Metrics    FeeMetrics
	Logger     func(context.Context, string, map[string]any)
}

type selectionService struct {
	fees       repositories.FeeConfigRepository
	selections repositories.SelectionRepository
	metrics    FeeMetrics
	logger     func(context.Context, string, map[string]any)
}

var _ SelectionService = (*selectionService)(nil)

// NewSelectionService constructs the single toggle path shared by the classic and block checkouts.
func NewSelectionService(deps SelectionServiceDeps) (SelectionService, error) {
	if deps.Fees == nil {
		return nil, errors.New("selection service: fee config repository is required")
	}
	if deps.Selections == nil {
		return nil, errors.New("selection service: selection repository is required")
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopFeeMetrics{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &selectionService{
		fees:       deps.Fees,
		selections: deps.Selections,
		metrics:    metrics,
		logger:     logger,
	}, nil
}

func (s *selectionService) Toggle(ctx context.Context, cmd ToggleSelectionCommand) (ToggleResult, error) {
	if ctx == nil {
		return ToggleResult{}, fmt.Errorf("%w: context is required", ErrSelectionInvalidInput)
	}
	sessionID, err := normalizeSessionID(cmd.SessionID)
	if err != nil {
		return ToggleResult{}, err
	}
	feeID := strings.TrimSpace(cmd.FeeID)
	if feeID == "" {
		return ToggleResult{}, fmt.Errorf("%w: fee id is required", ErrSelectionInvalidInput)
	}

	cfg, err := s.fees.Load(ctx)
	if err != nil {
		return ToggleResult{}, mapFeeConfigRepoError(err)
	}

	fee, ok := cfg.Find(feeID)
	if !ok || !fee.IsOptional() || !fee.Active {
		// Unknown, required and inactive fees are ignored without telling the caller why.
		s.metrics.ObserveToggle(string(cmd.Surface), cmd.Checked, false)
		s.logger(ctx, "fee selection: toggle ignored", map[string]any{
			"feeId":   feeID,
			"surface": string(cmd.Surface),
		})
		selected, err := s.selectedIDs(ctx, sessionID)
		if err != nil {
			return ToggleResult{}, err
		}
		return ToggleResult{Applied: false, Selected: selected}, nil
	}

	if err := s.selections.Toggle(ctx, sessionID, feeID, cmd.Checked); err != nil {
		return ToggleResult{}, mapSelectionRepoError(err)
	}
	s.metrics.ObserveToggle(string(cmd.Surface), cmd.Checked, true)

	selected, err := s.selectedIDs(ctx, sessionID)
	if err != nil {
		return ToggleResult{}, err
	}
	return ToggleResult{Applied: true, Selected: selected}, nil
}

func (s *selectionService) Selected(ctx context.Context, sessionID string) (map[string]struct{}, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: context is required", ErrSelectionInvalidInput)
	}
	sessionID, err := normalizeSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	set, err := s.selections.Get(ctx, sessionID)
	if err != nil {
		return nil, mapSelectionRepoError(err)
	}
	if set == nil {
		set = map[string]struct{}{}
	}
	return set, nil
}

func (s *selectionService) Clear(ctx context.Context, sessionID string) error {
	if ctx == nil {
		return fmt.Errorf("%w: context is required", ErrSelectionInvalidInput)
	}
	sessionID, err := normalizeSessionID(sessionID)
	if err != nil {
		return err
	}
	if err := s.selections.Clear(ctx, sessionID); err != nil {
		return mapSelectionRepoError(err)
	}
	return nil
}

func (s *selectionService) selectedIDs(ctx context.Context, sessionID string) ([]string, error) {
	set, err := s.selections.Get(ctx, sessionID)
	if err != nil {
		return nil, mapSelectionRepoError(err)
	}
	return sortedIDs(set), nil
}

func normalizeSessionID(sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", fmt.Errorf("%w: session id is required", ErrSelectionInvalidInput)
	}
	if len(sessionID) > maxSessionIDLength {
		return "", fmt.Errorf("%w: session id is too long", ErrSelectionInvalidInput)
	}
	if strings.Contains(sessionID, "/") {
		return "", fmt.Errorf("%w: session id is malformed", ErrSelectionInvalidInput)
	}
	return sessionID, nil
}

func sortedIDs(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func mapSelectionRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if repositories.IsUnavailable(err) {
		return fmt.Errorf("%w: %v", ErrSelectionUnavailable, err)
	}
	return fmt.Errorf("fee selection: %w", err)
}

type noopFeeMetrics struct{}

func (noopFeeMetrics) ObserveEvaluation(string, int, time.Duration) {}
func (noopFeeMetrics) ObserveToggle(string, bool, bool)             {}
func (noopFeeMetrics) ObserveRecorded(int)                          {}
