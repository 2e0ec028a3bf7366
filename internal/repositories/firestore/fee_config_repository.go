package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/simplecartfees/api/internal/domain"
	pfirestore "github.com/simplecartfees/api/internal/platform/firestore"
	"github.com/simplecartfees/api/internal/repositories"
)

const (
	settingsCollection = "cartFeeSettings"
	feesDocument       = "fees"
)

type feeConfigDocument struct {
	Fees      []feeDocument `firestore:"fees"`
	Revision  int64         `firestore:"revision"`
	UpdatedAt time.Time     `firestore:"updatedAt"`
	UpdatedBy string        `firestore:"updatedBy,omitempty"`
}

type feeDocument struct {
	ID               string `firestore:"id"`
	InternalName     string `firestore:"internalName"`
	PublicName       string `firestore:"publicName"`
	Price            string `firestore:"price"`
	TaxClass         string `firestore:"taxClass"`
	Type             string `firestore:"type"`
	CheckboxText     string `firestore:"checkboxText,omitempty"`
	HelpText         string `firestore:"helpText,omitempty"`
	Condition        string `firestore:"condition"`
	ConditionMinimum string `firestore:"conditionMinimum"`
	Order            int    `firestore:"order"`
	Active           bool   `firestore:"active"`
}

// FeeConfigRepository stores the fee list as a single settings document so every read sees one revision.
type FeeConfigRepository struct {
	provider *pfirestore.Provider
	settings *pfirestore.Collection[feeConfigDocument]
}

var _ repositories.FeeConfigRepository = (*FeeConfigRepository)(nil)

// NewFeeConfigRepository constructs a Firestore-backed fee configuration repository.
func NewFeeConfigRepository(provider *pfirestore.Provider) (*FeeConfigRepository, error) {
	if provider == nil {
		return nil, errors.New("fee config repository: firestore provider is required")
	}
	return &FeeConfigRepository{
		provider: provider,
		settings: pfirestore.NewCollection[feeConfigDocument](provider, settingsCollection),
	}, nil
}

// Load returns the stored configuration. A missing document yields an empty list at revision 0.
func (r *FeeConfigRepository) Load(ctx context.Context) (domain.FeeConfiguration, error) {
	if r == nil || r.settings == nil {
		return domain.FeeConfiguration{}, errors.New("fee config repository not initialised")
	}
	doc, err := r.settings.Get(ctx, feesDocument)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.FeeConfiguration{Fees: []domain.FeeDefinition{}}, nil
		}
		return domain.FeeConfiguration{}, err
	}
	return decodeFeeConfig(doc.Data)
}

// Replace writes the full list inside a transaction guarded by the stored revision.
func (r *FeeConfigRepository) Replace(ctx context.Context, cfg domain.FeeConfiguration, expectedRevision int64) (domain.FeeConfiguration, error) {
	if r == nil || r.provider == nil {
		return domain.FeeConfiguration{}, errors.New("fee config repository not initialised")
	}
	payload := encodeFeeConfig(cfg)

	ref, err := r.settings.Ref(ctx, feesDocument)
	if err != nil {
		return domain.FeeConfiguration{}, err
	}
	revisionOf := func(doc feeConfigDocument) int64 { return doc.Revision }
	if err := pfirestore.CompareAndSet(ctx, r.provider, ref, expectedRevision, revisionOf, payload); err != nil {
		return domain.FeeConfiguration{}, err
	}
	return decodeFeeConfig(payload)
}

func encodeFeeConfig(cfg domain.FeeConfiguration) feeConfigDocument {
	fees := make([]feeDocument, 0, len(cfg.Fees))
	for _, fee := range cfg.Fees {
		fees = append(fees, feeDocument{
			ID:               fee.ID,
			InternalName:     fee.InternalName,
			PublicName:       fee.PublicName,
			Price:            fee.Price.String(),
			TaxClass:         fee.TaxClass,
			Type:             string(fee.Type),
			CheckboxText:     fee.CheckboxText,
			HelpText:         fee.HelpText,
			Condition:        string(fee.Condition),
			ConditionMinimum: fee.ConditionMinimum.String(),
			Order:            fee.Order,
			Active:           fee.Active,
		})
	}
	return feeConfigDocument{
		Fees:      fees,
		Revision:  cfg.Revision,
		UpdatedAt: cfg.UpdatedAt.UTC(),
		UpdatedBy: cfg.UpdatedBy,
	}
}

func decodeFeeConfig(doc feeConfigDocument) (domain.FeeConfiguration, error) {
	fees := make([]domain.FeeDefinition, 0, len(doc.Fees))
	for _, item := range doc.Fees {
		price, err := decodeDecimal(item.Price)
		if err != nil {
			return domain.FeeConfiguration{}, fmt.Errorf("fee %s: price: %w", item.ID, err)
		}
		minimum, err := decodeDecimal(item.ConditionMinimum)
		if err != nil {
			return domain.FeeConfiguration{}, fmt.Errorf("fee %s: condition minimum: %w", item.ID, err)
		}
		fees = append(fees, domain.FeeDefinition{
			ID:               item.ID,
			InternalName:     item.InternalName,
			PublicName:       item.PublicName,
			Price:            price,
			TaxClass:         item.TaxClass,
			Type:             domain.ParseFeeType(item.Type),
			CheckboxText:     item.CheckboxText,
			HelpText:         item.HelpText,
			Condition:        domain.ParseFeeCondition(item.Condition),
			ConditionMinimum: minimum,
			Order:            item.Order,
			Active:           item.Active,
		})
	}
	return domain.FeeConfiguration{
		Fees:      fees,
		Revision:  doc.Revision,
		UpdatedAt: doc.UpdatedAt.UTC(),
		UpdatedBy: doc.UpdatedBy,
	}, nil
}

func decodeDecimal(value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(value)
}
