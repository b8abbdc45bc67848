package reservation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/matheusmosca/bookstore-reservations/internal/catalog"
)

var (
	ErrNotFound      = errors.New("reservation.notFound")
	ErrAlreadyExists = errors.New("reservation.alreadyExists")
)

// Repository is plain CRUD over reservation rows. Every returned Reservation
// carries its Book already loaded.
type Repository interface {
	Create(ctx context.Context, username string, bookID int64, quantity int) (*Reservation, error)
	GetByID(ctx context.Context, id int64) (*Reservation, error)

	// GetByUsername returns the reservations of username, most recent first
	GetByUsername(ctx context.Context, username string) ([]*Reservation, error)

	GetByUsernameAndBook(ctx context.Context, username string, bookID int64) (*Reservation, error)

	// Update persists the quantity of r
	Update(ctx context.Context, r *Reservation) error

	Delete(ctx context.Context, id int64) error
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

const selectReservation = `
	SELECT r.id, r.book_id, r.username, r.quantity, r.created_at,
	       b.id, b.title, b.author, b.base_price, v.value, b.tax_group, b.stock
	FROM reservations r
	JOIN books b ON b.id = r.book_id
	JOIN vat v ON v.tax_group = b.tax_group
`

func scanReservation(row pgx.Row) (*Reservation, error) {
	var r Reservation
	var b catalog.Book
	err := row.Scan(
		&r.ID, &r.BookID, &r.Username, &r.Quantity, &r.CreatedAt,
		&b.ID, &b.Title, &b.Author, &b.BasePrice, &b.VATRate, &b.TaxGroup, &b.Stock,
	)
	if err != nil {
		return nil, err
	}
	r.Book = &b
	return &r, nil
}

func (r *PostgresRepository) Create(ctx context.Context, username string, bookID int64, quantity int) (*Reservation, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO reservations (book_id, username, quantity, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id
	`, bookID, username, quantity).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create reservation: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*Reservation, error) {
	res, err := scanReservation(r.db.QueryRow(ctx, selectReservation+` WHERE r.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation %d: %w", id, err)
	}
	return res, nil
}

func (r *PostgresRepository) GetByUsernameAndBook(ctx context.Context, username string, bookID int64) (*Reservation, error) {
	res, err := scanReservation(r.db.QueryRow(ctx,
		selectReservation+` WHERE r.username = $1 AND r.book_id = $2`, username, bookID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return res, nil
}

func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) ([]*Reservation, error) {
	rows, err := r.db.Query(ctx, selectReservation+` WHERE r.username = $1 ORDER BY r.id DESC`, username)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	defer rows.Close()

	var out []*Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Update(ctx context.Context, res *Reservation) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE reservations
		SET quantity = $1
		WHERE id = $2
	`, res.Quantity, res.ID)
	if err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM reservations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
