package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrBookNotFound = errors.New("catalog.bookNotFound")

// Repository defines the read operations over the books table
type Repository interface {
	// GetBookByID returns ErrBookNotFound when the id does not resolve
	GetBookByID(ctx context.Context, id int64) (*Book, error)

	// ListBooks returns every book ordered by id
	ListBooks(ctx context.Context) ([]*Book, error)
}

// DB is the part of *pgxpool.Pool the repository uses
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository creates a new PostgresRepository
func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectBook = `
	SELECT b.id, b.title, b.author, b.base_price, v.value, b.tax_group, b.stock
	FROM books b
	JOIN vat v ON v.tax_group = b.tax_group
`

func (r *PostgresRepository) GetBookByID(ctx context.Context, id int64) (*Book, error) {
	var b Book
	err := r.db.QueryRow(ctx, selectBook+` WHERE b.id = $1`, id).
		Scan(&b.ID, &b.Title, &b.Author, &b.BasePrice, &b.VATRate, &b.TaxGroup, &b.Stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get book %d: %w", id, err)
	}
	return &b, nil
}

func (r *PostgresRepository) ListBooks(ctx context.Context) ([]*Book, error) {
	rows, err := r.db.Query(ctx, selectBook+` ORDER BY b.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	var books []*Book
	for rows.Next() {
		var b Book
		if err := rows.Scan(&b.ID, &b.Title, &b.Author, &b.BasePrice, &b.VATRate, &b.TaxGroup, &b.Stock); err != nil {
			return nil, err
		}
		books = append(books, &b)
	}
	return books, rows.Err()
}
