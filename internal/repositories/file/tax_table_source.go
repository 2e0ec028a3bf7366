// Package file loads read-only settings from files on disk.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	domain "github.com/simplecartfees/api/internal/domain"
	"github.com/simplecartfees/api/internal/repositories"
)

type taxTableFile struct {
	Enabled bool                    `yaml:"enabled"`
	Classes map[string][]taxRateRow `yaml:"classes"`
}

type taxRateRow struct {
	Name string `yaml:"name"`
	Rate string `yaml:"rate"`
}

// TaxTableSource reads a YAML tax table, e.g.
//
//	enabled: true
//	classes:
//	  standard:
//	    - name: VAT
//	      rate: "21"
type TaxTableSource struct {
	path string
}

var _ repositories.TaxTableSource = (*TaxTableSource)(nil)

// NewTaxTableSource returns a source reading path on every load.
func NewTaxTableSource(path string) (*TaxTableSource, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("file tax table source: path is required")
	}
	return &TaxTableSource{path: path}, nil
}

// LoadTaxTable parses the file.
func (s *TaxTableSource) LoadTaxTable(ctx context.Context) (domain.TaxTable, error) {
	if err := ctx.Err(); err != nil {
		return domain.TaxTable{}, err
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.TaxTable{}, repositories.NewStoreError("file.tax_table.read", repositories.StoreErrorNotFound, err)
		}
		return domain.TaxTable{}, repositories.NewStoreError("file.tax_table.read", repositories.StoreErrorUnavailable, err)
	}
	return ParseTaxTable(raw)
}

// ParseTaxTable decodes a YAML tax table document.
func ParseTaxTable(raw []byte) (domain.TaxTable, error) {
	var doc taxTableFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return domain.TaxTable{}, fmt.Errorf("file tax table: decode: %w", err)
	}
	classes := make(map[string][]domain.TaxRate, len(doc.Classes))
	for class, rows := range doc.Classes {
		key := domain.NormalizeTaxClass(class)
		for _, row := range rows {
			rate, err := decimal.NewFromString(strings.TrimSpace(row.Rate))
			if err != nil {
				return domain.TaxTable{}, fmt.Errorf("file tax table: class %s rate %q: %w", key, row.Name, err)
			}
			classes[key] = append(classes[key], domain.TaxRate{Name: strings.TrimSpace(row.Name), Rate: rate})
		}
	}
	return domain.TaxTable{Enabled: doc.Enabled, Classes: classes}, nil
}
