package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// StandardTaxClass is the storage key for the store's standard rate, addressed by an empty class.
const StandardTaxClass = "standard"

// TaxRate is one rate percentage attached to a tax class, e.g. 21 for 21%.
type TaxRate struct {
	Name string
	Rate decimal.Decimal
}

// TaxTable lists the applicable rates per tax class.
type TaxTable struct {
	Enabled bool
	Classes map[string][]TaxRate
}

// NormalizeTaxClass maps the empty class onto StandardTaxClass and lowercases the key.
func NormalizeTaxClass(class string) string {
	class = strings.ToLower(strings.TrimSpace(class))
	if class == "" {
		return StandardTaxClass
	}
	return class
}

// Rates returns the rates attached to the class.
func (t TaxTable) Rates(class string) []TaxRate {
	if len(t.Classes) == 0 {
		return nil
	}
	return t.Classes[NormalizeTaxClass(class)]
}
