package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/simplecartfees/api/internal/domain"
	pfirestore "github.com/simplecartfees/api/internal/platform/firestore"
	"github.com/simplecartfees/api/internal/repositories"
)

const orderFeesCollection = "orderFees"

type appliedFeeRecordDocument struct {
	OrderID    string                       `firestore:"orderId"`
	SessionID  string                       `firestore:"sessionId,omitempty"`
	Fees       []appliedFeeSnapshotDocument `firestore:"fees"`
	Subtotal   string                       `firestore:"subtotal"`
	RecordedAt time.Time                    `firestore:"recordedAt"`
}

type appliedFeeSnapshotDocument struct {
	FeeID        string `firestore:"feeId"`
	InternalName string `firestore:"internalName"`
	PublicName   string `firestore:"publicName"`
	Type         string `firestore:"type"`
	GrossPrice   string `firestore:"grossPrice"`
	NetAmount    string `firestore:"netAmount"`
	TaxClass     string `firestore:"taxClass"`
}

// AppliedFeeRepository persists the fees charged on each order under the order id.
type AppliedFeeRepository struct {
	records *pfirestore.Collection[appliedFeeRecordDocument]
}

var _ repositories.AppliedFeeRepository = (*AppliedFeeRepository)(nil)

// NewAppliedFeeRepository constructs a Firestore-backed applied fee repository.
func NewAppliedFeeRepository(provider *pfirestore.Provider) (*AppliedFeeRepository, error) {
	if provider == nil {
		return nil, errors.New("applied fee repository: firestore provider is required")
	}
	return &AppliedFeeRepository{
		records: pfirestore.NewCollection[appliedFeeRecordDocument](provider, orderFeesCollection),
	}, nil
}

// Create writes the record with a create precondition; an existing document surfaces as a conflict.
func (r *AppliedFeeRepository) Create(ctx context.Context, record domain.AppliedFeeRecord) error {
	if r == nil || r.records == nil {
		return errors.New("applied fee repository not initialised")
	}
	orderID := strings.TrimSpace(record.OrderID)
	if orderID == "" {
		return errors.New("applied fee repository: order id is required")
	}
	return r.records.Create(ctx, orderID, encodeAppliedFeeRecord(record))
}

// FindByOrderID loads the record stored for the order.
func (r *AppliedFeeRepository) FindByOrderID(ctx context.Context, orderID string) (domain.AppliedFeeRecord, error) {
	if r == nil || r.records == nil {
		return domain.AppliedFeeRecord{}, errors.New("applied fee repository not initialised")
	}
	doc, err := r.records.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.AppliedFeeRecord{}, err
	}
	return decodeAppliedFeeRecord(doc.Data)
}

func encodeAppliedFeeRecord(record domain.AppliedFeeRecord) appliedFeeRecordDocument {
	fees := make([]appliedFeeSnapshotDocument, 0, len(record.Fees))
	for _, fee := range record.Fees {
		fees = append(fees, appliedFeeSnapshotDocument{
			FeeID:        fee.FeeID,
			InternalName: fee.InternalName,
			PublicName:   fee.PublicName,
			Type:         string(fee.Type),
			GrossPrice:   fee.GrossPrice.String(),
			NetAmount:    fee.NetAmount.String(),
			TaxClass:     fee.TaxClass,
		})
	}
	return appliedFeeRecordDocument{
		OrderID:    strings.TrimSpace(record.OrderID),
		SessionID:  record.SessionID,
		Fees:       fees,
		Subtotal:   record.Subtotal.String(),
		RecordedAt: record.RecordedAt.UTC(),
	}
}

func decodeAppliedFeeRecord(doc appliedFeeRecordDocument) (domain.AppliedFeeRecord, error) {
	subtotal, err := decodeDecimal(doc.Subtotal)
	if err != nil {
		return domain.AppliedFeeRecord{}, fmt.Errorf("order %s: subtotal: %w", doc.OrderID, err)
	}
	fees := make([]domain.AppliedFeeSnapshot, 0, len(doc.Fees))
	for _, item := range doc.Fees {
		gross, err := decodeDecimal(item.GrossPrice)
		if err != nil {
			return domain.AppliedFeeRecord{}, fmt.Errorf("order %s fee %s: gross price: %w", doc.OrderID, item.FeeID, err)
		}
		net, err := decodeDecimal(item.NetAmount)
		if err != nil {
			return domain.AppliedFeeRecord{}, fmt.Errorf("order %s fee %s: net amount: %w", doc.OrderID, item.FeeID, err)
		}
		fees = append(fees, domain.AppliedFeeSnapshot{
			FeeID:        item.FeeID,
			InternalName: item.InternalName,
			PublicName:   item.PublicName,
			Type:         domain.ParseFeeType(item.Type),
			GrossPrice:   gross,
			NetAmount:    net,
			TaxClass:     item.TaxClass,
		})
	}
	return domain.AppliedFeeRecord{
		OrderID:    doc.OrderID,
		SessionID:  doc.SessionID,
		Fees:       fees,
		Subtotal:   subtotal,
		RecordedAt: doc.RecordedAt.UTC(),
	}, nil
}
