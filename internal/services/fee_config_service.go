package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/simplecartfees/api/internal/domain"
	"github.com/simplecartfees/api/internal/repositories"
)

var (
	// ErrFeeConfigInvalidInput wraps field level validation failures on save.
	ErrFeeConfigInvalidInput = errors.New("fee config: invalid input")
	// ErrFeeNotFound is returned when a fee id is not configured.
	ErrFeeNotFound = errors.New("fee config: fee not found")
	// ErrFeeConfigConflict is returned when the configuration changed since it was read.
	ErrFeeConfigConflict = errors.New("fee config: conflict")
	// ErrFeeConfigUnavailable signals the configuration store cannot be reached.
	ErrFeeConfigUnavailable = errors.New("fee config: unavailable")
)

const (
	maxFeeRows        = 200
	feeIDPrefix       = "fee_"
	feeIDRandomLength = 8
	feeIDAlphabet     = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var feeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// FeeFieldError identifies a single invalid field in a save request.
type FeeFieldError struct {
	Row     int
	Field   string
	Message string
}

// FeeValidationError lists every invalid field of a rejected save request.
type FeeValidationError struct {
	Fields []FeeFieldError
}

// Error implements the error interface.
func (e *FeeValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrFeeConfigInvalidInput.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, field := range e.Fields {
		parts = append(parts, fmt.Sprintf("fees[%d].%s: %s", field.Row, field.Field, field.Message))
	}
	return fmt.Sprintf("%s: %s", ErrFeeConfigInvalidInput.Error(), strings.Join(parts, "; "))
}

// Unwrap lets callers match ErrFeeConfigInvalidInput.
func (e *FeeValidationError) Unwrap() error { return ErrFeeConfigInvalidInput }

// FeeConfigServiceDeps bundles collaborators required to construct the fee configuration service.
type FeeConfigServiceDeps struct {
	Repository  repositories.FeeConfigRepository
	Clock       func() time.Time
	IDGenerator func() (string, error)
	Logger      func(context.Context, string, map[string]any)
}

type feeConfigService struct {
	repo      repositories.FeeConfigRepository
	clock     func() time.Time
	newID     func() (string, error)
	logger    func(context.Context, string, map[string]any)
	sanitizer *feeTextSanitizer
}

var _ FeeConfigService = (*feeConfigService)(nil)

// NewFeeConfigService assembles the service that lists, looks up and saves fee definitions.
func NewFeeConfigService(deps FeeConfigServiceDeps) (FeeConfigService, error) {
	if deps.Repository == nil {
		return nil, errors.New("fee config service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = generateFeeID
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &feeConfigService{
		repo: deps.Repository,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     newID,
		logger:    logger,
		sanitizer: newFeeTextSanitizer(),
	}, nil
}

func (s *feeConfigService) ListFees(ctx context.Context) (FeeConfiguration, error) {
	if ctx == nil {
		return FeeConfiguration{}, fmt.Errorf("%w: context is required", ErrFeeConfigInvalidInput)
	}
	cfg, err := s.repo.Load(ctx)
	if err != nil {
		return FeeConfiguration{}, mapFeeConfigRepoError(err)
	}
	cfg.Fees = sortFees(cfg.Fees)
	return cfg, nil
}

func (s *feeConfigService) GetFee(ctx context.Context, feeID string) (FeeDefinition, error) {
	feeID = strings.TrimSpace(feeID)
	if feeID == "" {
		return FeeDefinition{}, fmt.Errorf("%w: fee id is required", ErrFeeConfigInvalidInput)
	}
	cfg, err := s.ListFees(ctx)
	if err != nil {
		return FeeDefinition{}, err
	}
	fee, ok := cfg.Find(feeID)
	if !ok {
		return FeeDefinition{}, ErrFeeNotFound
	}
	return fee, nil
}

func (s *feeConfigService) SaveFees(ctx context.Context, cmd SaveFeesCommand) (FeeConfiguration, error) {
	if ctx == nil {
		return FeeConfiguration{}, fmt.Errorf("%w: context is required", ErrFeeConfigInvalidInput)
	}
	if len(cmd.Rows) > maxFeeRows {
		return FeeConfiguration{}, fmt.Errorf("%w: at most %d fees can be configured", ErrFeeConfigInvalidInput, maxFeeRows)
	}

	fees := make([]domain.FeeDefinition, 0, len(cmd.Rows))
	var fieldErrs []FeeFieldError
	for i, row := range cmd.Rows {
		fee, errs := s.sanitizeRow(i, row)
		fieldErrs = append(fieldErrs, errs...)
		fees = append(fees, fee)
	}
	if len(fieldErrs) > 0 {
		return FeeConfiguration{}, &FeeValidationError{Fields: fieldErrs}
	}

	if err := s.assignIDs(fees); err != nil {
		return FeeConfiguration{}, err
	}

	expected := int64(0)
	if cmd.ExpectedRevision != nil {
		expected = *cmd.ExpectedRevision
	} else {
		current, err := s.repo.Load(ctx)
		if err != nil {
			return FeeConfiguration{}, mapFeeConfigRepoError(err)
		}
		expected = current.Revision
	}

	next := domain.FeeConfiguration{
		Fees:      fees,
		Revision:  expected + 1,
		UpdatedAt: s.clock(),
		UpdatedBy: strings.TrimSpace(cmd.ActorID),
	}
	saved, err := s.repo.Replace(ctx, next, expected)
	if err != nil {
		return FeeConfiguration{}, mapFeeConfigRepoError(err)
	}
	saved.Fees = sortFees(saved.Fees)

	s.logger(ctx, "fee config: saved", map[string]any{
		"actorId":  next.UpdatedBy,
		"revision": saved.Revision,
		"fees":     len(saved.Fees),
		"optional": countOptional(saved.Fees),
	})
	return saved, nil
}

// sanitizeRow coerces one untrusted row. The returned field errors reject the whole save.
func (s *feeConfigService) sanitizeRow(index int, row FeeInput) (domain.FeeDefinition, []FeeFieldError) {
	fee := domain.FeeDefinition{
		ID:           strings.TrimSpace(row.ID),
		InternalName: s.sanitizer.Plain(row.InternalName, maxFeeNameLength),
		PublicName:   s.sanitizer.Plain(row.PublicName, maxFeeNameLength),
		TaxClass:     s.sanitizer.Key(row.TaxClass),
		Type:         domain.ParseFeeType(row.Type),
		CheckboxText: s.sanitizer.Plain(row.CheckboxText, maxFeeNameLength),
		HelpText:     s.sanitizer.Help(row.HelpText),
		Condition:    domain.ParseFeeCondition(row.Condition),
		Order:        index,
		Active:       row.Active,
	}
	if minimum, ok := parseLenientDecimal(row.ConditionMinimum); ok && minimum.IsPositive() {
		fee.ConditionMinimum = minimum
	}
	if fee.Condition != domain.FeeConditionMinimum {
		fee.ConditionMinimum = decimal.Zero
	}

	var errs []FeeFieldError
	if fee.InternalName == "" {
		errs = append(errs, FeeFieldError{Row: index, Field: "internal_name", Message: "is required"})
	}
	if fee.PublicName == "" {
		errs = append(errs, FeeFieldError{Row: index, Field: "public_name", Message: "is required"})
	}
	price, ok := parseLenientDecimal(row.Price)
	switch {
	case !ok:
		errs = append(errs, FeeFieldError{Row: index, Field: "price", Message: "must be a decimal number"})
	case !price.IsPositive():
		errs = append(errs, FeeFieldError{Row: index, Field: "price", Message: "must be greater than zero"})
	default:
		fee.Price = price
	}
	return fee, errs
}

// assignIDs keeps well formed ids and generates fresh ones for new or duplicated rows.
func (s *feeConfigService) assignIDs(fees []domain.FeeDefinition) error {
	used := make(map[string]struct{}, len(fees))
	for i := range fees {
		id := fees[i].ID
		if feeIDPattern.MatchString(id) {
			if _, dup := used[id]; !dup {
				used[id] = struct{}{}
				continue
			}
		}
		fresh, err := s.uniqueID(used)
		if err != nil {
			return err
		}
		fees[i].ID = fresh
		used[fresh] = struct{}{}
	}
	return nil
}

func (s *feeConfigService) uniqueID(used map[string]struct{}) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		id, err := s.newID()
		if err != nil {
			return "", fmt.Errorf("fee config: generate id: %w", err)
		}
		if _, taken := used[id]; !taken && id != "" {
			return id, nil
		}
	}
	return "", errors.New("fee config: could not generate a unique fee id")
}

// generateFeeID returns "fee_" followed by eight random alphanumerics.
func generateFeeID() (string, error) {
	var b strings.Builder
	b.Grow(len(feeIDPrefix) + feeIDRandomLength)
	b.WriteString(feeIDPrefix)
	alphabetSize := big.NewInt(int64(len(feeIDAlphabet)))
	for i := 0; i < feeIDRandomLength; i++ {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		b.WriteByte(feeIDAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func sortFees(fees []domain.FeeDefinition) []domain.FeeDefinition {
	out := append([]domain.FeeDefinition(nil), fees...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Order < out[j].Order
	})
	return out
}

func countOptional(fees []domain.FeeDefinition) int {
	n := 0
	for _, fee := range fees {
		if fee.IsOptional() {
			n++
		}
	}
	return n
}

func mapFeeConfigRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch {
	case repositories.IsNotFound(err):
		return fmt.Errorf("%w: %v", ErrFeeNotFound, err)
	case repositories.IsConflict(err):
		return fmt.Errorf("%w: %v", ErrFeeConfigConflict, err)
	case repositories.IsUnavailable(err):
		return fmt.Errorf("%w: %v", ErrFeeConfigUnavailable, err)
	}
	return fmt.Errorf("fee config: %w", err)
}
