package catalog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDiscountTable(t *testing.T) {
	table, err := LoadDiscountTable(strings.NewReader("discounts:\n  1: 0.95\n  2: 0.8\n"))

	require.NoError(t, err)
	assert.InDelta(t, 0.95, table.Factor(1), 1e-9)
	assert.InDelta(t, 0.8, table.Factor(2), 1e-9)
	assert.InDelta(t, 1.0, table.Factor(3), 1e-9)
}

func TestLoadDiscountTable_Empty(t *testing.T) {
	table, err := LoadDiscountTable(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, table)

	table, err = LoadDiscountTable(strings.NewReader("other: true\n"))
	require.NoError(t, err)
	assert.Empty(t, table)
}

func TestLoadDiscountTable_Invalid(t *testing.T) {
	_, err := LoadDiscountTable(strings.NewReader("discounts:\n  1: 0\n"))
	assert.Error(t, err)

	_, err = LoadDiscountTable(strings.NewReader("discounts: [not, a, map]\n"))
	assert.Error(t, err)
}

func TestPricer_Apply(t *testing.T) {
	p := NewPricer(DiscountTable{1: 0.5})

	discounted := &Book{BasePrice: 100, VATRate: 0.21, TaxGroup: 1}
	p.Apply(discounted)
	assert.InDelta(t, 60.5, discounted.Price, 1e-9)

	full := &Book{BasePrice: 100, VATRate: 0.04, TaxGroup: 0}
	p.Apply(full)
	assert.InDelta(t, 104.0, full.Price, 1e-9)

	NewPricer(nil).Apply(full)
	assert.InDelta(t, 104.0, full.Price, 1e-9)
}
