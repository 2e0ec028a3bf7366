package services

import (
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/simplecartfees/api/internal/domain"
)

// EvaluateCondition reports whether the fee's activation condition holds for the cart subtotal.
// A zero minimum makes a minimum condition always true.
func EvaluateCondition(fee domain.FeeDefinition, subtotal decimal.Decimal) bool {
	switch fee.Condition {
	case domain.FeeConditionMinimum:
		minimum := fee.ConditionMinimum
		if minimum.IsNegative() {
			minimum = decimal.Zero
		}
		return subtotal.GreaterThanOrEqual(minimum)
	default:
		return true
	}
}

// parseLenientDecimal parses merchant input, returning zero and false for malformed values.
func parseLenientDecimal(raw string) (decimal.Decimal, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, false
	}
	if !strings.Contains(raw, ".") {
		raw = strings.Replace(raw, ",", ".", 1)
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return value, true
}
