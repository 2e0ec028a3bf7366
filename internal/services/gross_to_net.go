package services

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// netDivisionPrecision is the number of decimal places kept when inverting a gross price.
const netDivisionPrecision int32 = 16

var (
	// ErrTaxRateOutOfRange is returned for rates below -100%, which would produce negative fees.
	ErrTaxRateOutOfRange = errors.New("tax rate: out of range")

	hundred = decimal.NewFromInt(100)
	minRate = decimal.NewFromInt(-100)
)

// GrossToNet returns gross / (1 + rate/100) without rounding. Negative rates count as 0.
func GrossToNet(gross, rate decimal.Decimal) decimal.Decimal {
	rate = normalizeRate(rate)
	if rate.IsZero() {
		return gross
	}
	return gross.DivRound(rateFactor(rate), netDivisionPrecision)
}

// NetToGross is the inverse of GrossToNet.
func NetToGross(net, rate decimal.Decimal) decimal.Decimal {
	rate = normalizeRate(rate)
	if rate.IsZero() {
		return net
	}
	return net.Mul(rateFactor(rate))
}

// ValidateRate rejects percentages below -100.
func ValidateRate(rate decimal.Decimal) error {
	if rate.LessThan(minRate) {
		return fmt.Errorf("%w: %s%% is below -100%%", ErrTaxRateOutOfRange, rate.String())
	}
	return nil
}

func normalizeRate(rate decimal.Decimal) decimal.Decimal {
	if rate.IsNegative() {
		return decimal.Zero
	}
	return rate
}

func rateFactor(rate decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).Add(rate.DivRound(hundred, netDivisionPrecision))
}
