package firestore

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/simplecartfees/api/internal/domain"
	pfirestore "github.com/simplecartfees/api/internal/platform/firestore"
	"github.com/simplecartfees/api/internal/repositories"
)

const taxDocument = "tax"

type taxTableDocument struct {
	Enabled bool                         `firestore:"enabled"`
	Classes map[string][]taxRateDocument `firestore:"classes"`
}

type taxRateDocument struct {
	Name string `firestore:"name"`
	Rate string `firestore:"rate"`
}

// TaxTableSource reads the store tax table from the settings collection.
type TaxTableSource struct {
	settings *pfirestore.Collection[taxTableDocument]
}

var _ repositories.TaxTableSource = (*TaxTableSource)(nil)

// NewTaxTableSource constructs a Firestore-backed tax table source.
func NewTaxTableSource(provider *pfirestore.Provider) (*TaxTableSource, error) {
	if provider == nil {
		return nil, errors.New("tax table source: firestore provider is required")
	}
	return &TaxTableSource{
		settings: pfirestore.NewCollection[taxTableDocument](provider, settingsCollection),
	}, nil
}

// LoadTaxTable returns the stored table. A missing document means taxes are disabled.
func (s *TaxTableSource) LoadTaxTable(ctx context.Context) (domain.TaxTable, error) {
	if s == nil || s.settings == nil {
		return domain.TaxTable{}, errors.New("tax table source not initialised")
	}
	doc, err := s.settings.Get(ctx, taxDocument)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.TaxTable{}, nil
		}
		return domain.TaxTable{}, err
	}
	return decodeTaxTable(doc.Data)
}

// SaveTaxTable replaces the stored table.
func (s *TaxTableSource) SaveTaxTable(ctx context.Context, table domain.TaxTable) error {
	if s == nil || s.settings == nil {
		return errors.New("tax table source not initialised")
	}
	return s.settings.Set(ctx, taxDocument, encodeTaxTable(table))
}

func encodeTaxTable(table domain.TaxTable) taxTableDocument {
	classes := make(map[string][]taxRateDocument, len(table.Classes))
	for class, rates := range table.Classes {
		encoded := make([]taxRateDocument, 0, len(rates))
		for _, rate := range rates {
			encoded = append(encoded, taxRateDocument{Name: rate.Name, Rate: rate.Rate.String()})
		}
		classes[domain.NormalizeTaxClass(class)] = encoded
	}
	return taxTableDocument{Enabled: table.Enabled, Classes: classes}
}

func decodeTaxTable(doc taxTableDocument) (domain.TaxTable, error) {
	classes := make(map[string][]domain.TaxRate, len(doc.Classes))
	for class, rates := range doc.Classes {
		decoded := make([]domain.TaxRate, 0, len(rates))
		for _, rate := range rates {
			value, err := decodeDecimal(rate.Rate)
			if err != nil {
				return domain.TaxTable{}, fmt.Errorf("tax class %s rate %q: %w", class, rate.Name, err)
			}
			decoded = append(decoded, domain.TaxRate{Name: rate.Name, Rate: value})
		}
		classes[domain.NormalizeTaxClass(class)] = decoded
	}
	return domain.TaxTable{Enabled: doc.Enabled, Classes: classes}, nil
}
