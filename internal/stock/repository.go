package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrBookNotFound = errors.New("stock.bookNotFound")

// Repository defines the storage operations of the stock ledger. Every
// mutation runs inside a Tx that holds the row lock taken by GetStockForUpdate.
type Repository interface {
	// GetStock reads the stock without taking a lock
	GetStock(ctx context.Context, bookID int64) (*BookStock, error)

	// GetStockForUpdate reads the stock holding an exclusive lock on the row until the Tx ends
	GetStockForUpdate(ctx context.Context, tx Tx, bookID int64) (*BookStock, error)

	// MovementExists reports whether a movement with the reference was already recorded
	MovementExists(ctx context.Context, tx Tx, reference string) (bool, error)

	// ApplyMovement changes the stock by the movement delta and records the movement
	ApplyMovement(ctx context.Context, tx Tx, movement *Movement) error

	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is a storage transaction. Rollback after Commit is a no-op.
type Tx interface {
	Commit() error
	Rollback() error
}

// DB is the part of *pgxpool.Pool the repository uses
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresRepository implements Repository using PostgreSQL row locks
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository creates a new PostgresRepository
func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// PostgresTx implements Tx
type PostgresTx struct {
	tx pgx.Tx
}

func (t *PostgresTx) Commit() error {
	return t.tx.Commit(context.Background())
}

func (t *PostgresTx) Rollback() error {
	err := t.tx.Rollback(context.Background())
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func (r *PostgresRepository) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &PostgresTx{tx: tx}, nil
}

func (r *PostgresRepository) GetStock(ctx context.Context, bookID int64) (*BookStock, error) {
	var s BookStock
	err := r.db.QueryRow(ctx, `
		SELECT id, stock, updated_at
		FROM books
		WHERE id = $1
	`, bookID).Scan(&s.BookID, &s.Stock, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stock: %w", err)
	}
	return &s, nil
}

// GetStockForUpdate takes the pessimistic lock (SELECT FOR UPDATE)
func (r *PostgresRepository) GetStockForUpdate(ctx context.Context, tx Tx, bookID int64) (*BookStock, error) {
	pgTx := tx.(*PostgresTx).tx

	var s BookStock
	err := pgTx.QueryRow(ctx, `
		SELECT id, stock, updated_at
		FROM books
		WHERE id = $1
		FOR UPDATE
	`, bookID).Scan(&s.BookID, &s.Stock, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stock with lock: %w", err)
	}
	return &s, nil
}

func (r *PostgresRepository) MovementExists(ctx context.Context, tx Tx, reference string) (bool, error) {
	pgTx := tx.(*PostgresTx).tx

	var exists bool
	err := pgTx.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM stock_movements
			WHERE reference = $1
		)
	`, reference).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PostgresRepository) ApplyMovement(ctx context.Context, tx Tx, movement *Movement) error {
	pgTx := tx.(*PostgresTx).tx

	// 1. Update the counter
	_, err := pgTx.Exec(ctx, `
		UPDATE books
		SET stock = stock + $1,
		    updated_at = NOW()
		WHERE id = $2
	`, movement.Delta(), movement.BookID)
	if err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}

	// 2. Record the movement
	var reference *string
	if movement.Reference != "" {
		reference = &movement.Reference
	}
	_, err = pgTx.Exec(ctx, `
		INSERT INTO stock_movements (id, book_id, reference, change_quantity, movement_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, movement.ID, movement.BookID, reference, movement.ChangeQuantity, movement.MovementType, movement.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert movement record: %w", err)
	}

	return nil
}
