package stock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/matheusmosca/bookstore-reservations/internal/pgmock"
	"github.com/matheusmosca/bookstore-reservations/internal/stock"
)

func beginTx(t *testing.T, ctx context.Context) (*stock.PostgresRepository, *pgmock.Tx, stock.Tx) {
	t.Helper()
	db := new(pgmock.DB)
	pgTx := new(pgmock.Tx)
	db.On("Begin", ctx).Return(pgTx, nil)

	repo := stock.NewPostgresRepository(db)
	tx, err := repo.BeginTx(ctx)
	require.NoError(t, err)
	return repo, pgTx, tx
}

func TestPostgresRepository_BeginTxFailure(t *testing.T) {
	ctx := context.Background()
	db := new(pgmock.DB)
	db.On("Begin", ctx).Return(nil, errors.New("too many connections"))

	_, err := stock.NewPostgresRepository(db).BeginTx(ctx)

	assert.ErrorContains(t, err, "too many connections")
}

func TestPostgresRepository_GetStockForUpdate(t *testing.T) {
	// Arrange
	ctx := context.Background()
	repo, pgTx, tx := beginTx(t, ctx)
	now := time.Now()

	pgTx.On("QueryRow", ctx, pgmock.SQLContaining("FOR UPDATE"), []any{int64(42)}).
		Return(pgmock.Row{Values: []any{int64(42), 7, now}})
	pgTx.On("QueryRow", ctx, pgmock.SQLContaining("FOR UPDATE"), []any{int64(404)}).
		Return(pgmock.Row{Err: pgx.ErrNoRows})

	// Act
	s, err := repo.GetStockForUpdate(ctx, tx, 42)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 7, s.Stock)
	assert.Equal(t, now, s.UpdatedAt)

	_, err = repo.GetStockForUpdate(ctx, tx, 404)
	assert.ErrorIs(t, err, stock.ErrBookNotFound)
	pgTx.AssertExpectations(t)
}

func TestPostgresRepository_GetStock_NotFound(t *testing.T) {
	ctx := context.Background()
	db := new(pgmock.DB)
	db.On("QueryRow", ctx, mock.Anything, []any{int64(404)}).Return(pgmock.Row{Err: pgx.ErrNoRows})

	_, err := stock.NewPostgresRepository(db).GetStock(ctx, 404)

	assert.ErrorIs(t, err, stock.ErrBookNotFound)
}

func TestPostgresRepository_MovementExists(t *testing.T) {
	ctx := context.Background()
	repo, pgTx, tx := beginTx(t, ctx)

	pgTx.On("QueryRow", ctx, pgmock.SQLContaining("stock_movements"), []any{"reserve:a"}).
		Return(pgmock.Row{Values: []any{true}})

	exists, err := repo.MovementExists(ctx, tx, "reserve:a")

	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPostgresRepository_ApplyMovement(t *testing.T) {
	// Arrange
	ctx := context.Background()
	repo, pgTx, tx := beginTx(t, ctx)
	movement := stock.NewMovement(42, 3, stock.MovementTypeDecreased, "")

	pgTx.On("Exec", ctx, pgmock.SQLContaining("UPDATE books"), []any{-3, int64(42)}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)
	pgTx.On("Exec", ctx, pgmock.SQLContaining("INSERT INTO stock_movements"), mock.MatchedBy(func(args []any) bool {
		if len(args) != 6 {
			return false
		}
		ref, ok := args[2].(*string)
		return ok && ref == nil
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	// Act
	err := repo.ApplyMovement(ctx, tx, movement)

	// Assert
	require.NoError(t, err)
	pgTx.AssertExpectations(t)
}

func TestPostgresRepository_ApplyMovement_UpdateFailure(t *testing.T) {
	ctx := context.Background()
	repo, pgTx, tx := beginTx(t, ctx)

	pgTx.On("Exec", ctx, pgmock.SQLContaining("UPDATE books"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("deadlock detected"))

	err := repo.ApplyMovement(ctx, tx, stock.NewMovement(42, 1, stock.MovementTypeIncreased, "ref"))

	assert.ErrorContains(t, err, "failed to update stock")
	pgTx.AssertNotCalled(t, "Exec", ctx, pgmock.SQLContaining("INSERT INTO stock_movements"), mock.Anything)
}

func TestPostgresTx_RollbackAfterCommit(t *testing.T) {
	ctx := context.Background()
	_, pgTx, tx := beginTx(t, ctx)

	pgTx.On("Commit", mock.Anything).Return(nil)
	pgTx.On("Rollback", mock.Anything).Return(pgx.ErrTxClosed)

	require.NoError(t, tx.Commit())
	assert.NoError(t, tx.Rollback())
}
