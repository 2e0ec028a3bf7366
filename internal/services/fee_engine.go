package services

import (
	"context"

	"github.com/shopspring/decimal"

	domain "github.com/simplecartfees/api/internal/domain"
)

// ResolveFees returns the fee lines to attach to a cart, in the order of fees.
// Inactive fees, fees whose condition fails and unselected optional fees are skipped.
// The caller passes fees already sorted by their order field. A nil rates resolver means 0% everywhere.
func ResolveFees(ctx context.Context, fees []domain.FeeDefinition, subtotal decimal.Decimal, selection map[string]struct{}, rates TaxRateResolver) []domain.AppliedFee {
	resolved := resolveFeeDefinitions(ctx, fees, subtotal, selection, rates)
	out := make([]domain.AppliedFee, 0, len(resolved))
	for _, item := range resolved {
		out = append(out, item.applied)
	}
	return out
}

type resolvedFee struct {
	definition domain.FeeDefinition
	applied    domain.AppliedFee
}

func resolveFeeDefinitions(ctx context.Context, fees []domain.FeeDefinition, subtotal decimal.Decimal, selection map[string]struct{}, rates TaxRateResolver) []resolvedFee {
	if len(fees) == 0 {
		return nil
	}
	memo := newMemoizedRates(ctx, rates)
	out := make([]resolvedFee, 0, len(fees))
	for _, fee := range fees {
		if !fee.Active {
			continue
		}
		if !EvaluateCondition(fee, subtotal) {
			continue
		}
		if fee.IsOptional() {
			if _, ok := selection[fee.ID]; !ok {
				continue
			}
		}
		out = append(out, resolvedFee{
			definition: fee,
			applied: domain.AppliedFee{
				FeeID:     fee.ID,
				Name:      fee.PublicName,
				NetAmount: GrossToNet(fee.Price, memo.rate(fee.TaxClass)),
				Taxable:   true,
				TaxClass:  fee.TaxClass,
			},
		})
	}
	return out
}

// sumNet totals the net amounts of the fee lines.
func sumNet(fees []domain.AppliedFee) decimal.Decimal {
	total := decimal.Zero
	for _, fee := range fees {
		total = total.Add(fee.NetAmount)
	}
	return total
}
