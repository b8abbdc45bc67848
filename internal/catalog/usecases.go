package catalog

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Catalog serves priced books. It is the "priced book lookup" every other
// component consumes.
type Catalog struct {
	repository Repository
	pricer     Pricer
}

// NewCatalog creates a new Catalog
func NewCatalog(repository Repository, pricer Pricer) *Catalog {
	return &Catalog{
		repository: repository,
		pricer:     pricer,
	}
}

// GetBookByID returns the book with its price computed.
func (c *Catalog) GetBookByID(ctx context.Context, id int64) (*Book, error) {
	book, err := c.repository.GetBookByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.pricer.Apply(book)
	log.Debug().Int64("book_id", id).Float64("price", book.Price).Msg("book priced")
	return book, nil
}

// ListBooks returns every book with its price computed.
func (c *Catalog) ListBooks(ctx context.Context) ([]*Book, error) {
	books, err := c.repository.ListBooks(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range books {
		c.pricer.Apply(b)
	}
	return books, nil
}
