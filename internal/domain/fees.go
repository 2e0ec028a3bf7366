package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FeeType determines whether a fee applies automatically or only when the customer opts in.
type FeeType string

const (
	FeeTypeRequired FeeType = "required"
	FeeTypeOptional FeeType = "optional"
)

// ParseFeeType coerces untrusted input to a known fee type, defaulting to required.
func ParseFeeType(value string) FeeType {
	switch FeeType(strings.ToLower(strings.TrimSpace(value))) {
	case FeeTypeOptional:
		return FeeTypeOptional
	default:
		return FeeTypeRequired
	}
}

// FeeCondition determines when a fee is active for a cart.
type FeeCondition string

const (
	FeeConditionAlways  FeeCondition = "always"
	FeeConditionMinimum FeeCondition = "minimum"
)

// ParseFeeCondition coerces untrusted input to a known condition, defaulting to always.
func ParseFeeCondition(value string) FeeCondition {
	switch FeeCondition(strings.ToLower(strings.TrimSpace(value))) {
	case FeeConditionMinimum:
		return FeeConditionMinimum
	default:
		return FeeConditionAlways
	}
}

// FeeDefinition is a merchant configured fee rule. Price is tax inclusive.
type FeeDefinition struct {
	ID               string
	InternalName     string
	PublicName       string
	Price            decimal.Decimal
	TaxClass         string
	Type             FeeType
	CheckboxText     string
	HelpText         string
	Condition        FeeCondition
	ConditionMinimum decimal.Decimal
	Order            int
	Active           bool
}

// IsOptional reports whether the fee requires customer opt-in.
func (f FeeDefinition) IsOptional() bool {
	return f.Type == FeeTypeOptional
}

// CheckboxLabel returns the checkout checkbox label, falling back to the public name.
func (f FeeDefinition) CheckboxLabel() string {
	if label := strings.TrimSpace(f.CheckboxText); label != "" {
		return label
	}
	return f.PublicName
}

// FeeConfiguration is a consistent view of every configured fee at one revision.
type FeeConfiguration struct {
	Fees      []FeeDefinition
	Revision  int64
	UpdatedAt time.Time
	UpdatedBy string
}

// Find returns the fee with the given id.
func (c FeeConfiguration) Find(id string) (FeeDefinition, bool) {
	for _, fee := range c.Fees {
		if fee.ID == id {
			return fee, true
		}
	}
	return FeeDefinition{}, false
}

// AppliedFee is a fee line to register on a cart. NetAmount is tax exclusive and unrounded.
type AppliedFee struct {
	FeeID     string
	Name      string
	NetAmount decimal.Decimal
	Taxable   bool
	TaxClass  string
}

// AppliedFeeSnapshot freezes the details of a fee at the moment it was applied to an order.
type AppliedFeeSnapshot struct {
	FeeID        string
	InternalName string
	PublicName   string
	Type         FeeType
	GrossPrice   decimal.Decimal
	NetAmount    decimal.Decimal
	TaxClass     string
}

// AppliedFeeRecord is the write-once list of fees charged on an order.
type AppliedFeeRecord struct {
	OrderID    string
	SessionID  string
	Fees       []AppliedFeeSnapshot
	Subtotal   decimal.Decimal
	RecordedAt time.Time
}

// Contains reports whether the record includes the fee id.
func (r AppliedFeeRecord) Contains(feeID string) bool {
	for _, fee := range r.Fees {
		if fee.FeeID == feeID {
			return true
		}
	}
	return false
}
