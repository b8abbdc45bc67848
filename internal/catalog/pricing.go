package catalog

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// DiscountTable maps a tax group to the multiplier applied on top of the
// VAT-inclusive price.
type DiscountTable map[int]float64

// Factor returns the multiplier for taxGroup, 1 when the group has no entry.
func (t DiscountTable) Factor(taxGroup int) float64 {
	if f, ok := t[taxGroup]; ok {
		return f
	}
	return 1
}

type pricingFile struct {
	Discounts map[int]float64 `yaml:"discounts"`
}

// LoadDiscountTable reads a YAML document of the form
//
//	discounts:
//	  1: 0.95
//	  2: 1.0
func LoadDiscountTable(r io.Reader) (DiscountTable, error) {
	var f pricingFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if err == io.EOF {
			return DiscountTable{}, nil
		}
		return nil, fmt.Errorf("failed to decode pricing file: %w", err)
	}
	for group, factor := range f.Discounts {
		if factor <= 0 {
			return nil, fmt.Errorf("invalid discount factor %v for tax group %d", factor, group)
		}
	}
	if f.Discounts == nil {
		return DiscountTable{}, nil
	}
	return DiscountTable(f.Discounts), nil
}

// Pricer computes the shelf price of a book.
type Pricer struct {
	discounts DiscountTable
}

// NewPricer creates a Pricer backed by the given discount table.
func NewPricer(discounts DiscountTable) Pricer {
	if discounts == nil {
		discounts = DiscountTable{}
	}
	return Pricer{discounts: discounts}
}

// Apply sets b.Price = BasePrice * (1 + VATRate) * discount.
func (p Pricer) Apply(b *Book) {
	b.Price = b.BasePrice * (1 + b.VATRate) * p.discounts.Factor(b.TaxGroup)
}
