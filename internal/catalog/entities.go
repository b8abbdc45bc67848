package catalog

// Book is a catalog entry. Stock is owned by the stock ledger and is only
// read here; Price is derived from BasePrice, VATRate and the discount table.
type Book struct {
	ID        int64   `json:"id" db:"id"`
	Title     string  `json:"title" db:"title"`
	Author    string  `json:"author" db:"author"`
	BasePrice float64 `json:"base_price" db:"base_price"`
	VATRate   float64 `json:"vat_rate" db:"vat_rate"`
	TaxGroup  int     `json:"tax_group" db:"tax_group"`
	Stock     int     `json:"stock" db:"stock"`
	Price     float64 `json:"price"`
}
