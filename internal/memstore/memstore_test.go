package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheusmosca/bookstore-reservations/internal/catalog"
	"github.com/matheusmosca/bookstore-reservations/internal/reservation"
	"github.com/matheusmosca/bookstore-reservations/internal/stock"
)

func seeded() *DB {
	db := New()
	db.SeedBook(catalog.Book{ID: 2, Title: "Emma", BasePrice: 8, VATRate: 0.1, TaxGroup: 1, Stock: 3})
	db.SeedBook(catalog.Book{ID: 1, Title: "Dune", BasePrice: 10, VATRate: 0.2, TaxGroup: 2, Stock: 5})
	return db
}

func TestCatalogRepository(t *testing.T) {
	ctx := context.Background()
	repo := seeded().CatalogRepository()

	books, err := repo.ListBooks(ctx)
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, int64(1), books[0].ID)
	assert.Equal(t, int64(2), books[1].ID)

	b, err := repo.GetBookByID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Emma", b.Title)

	// returned books are copies
	b.Stock = 100
	again, _ := repo.GetBookByID(ctx, 2)
	assert.Equal(t, 3, again.Stock)

	_, err = repo.GetBookByID(ctx, 9)
	assert.ErrorIs(t, err, catalog.ErrBookNotFound)
}

func TestTx_CommitAppliesPendingMovements(t *testing.T) {
	ctx := context.Background()
	db := seeded()
	repo := db.StockRepository()

	tx, err := repo.BeginTx(ctx)
	require.NoError(t, err)

	s, err := repo.GetStockForUpdate(ctx, tx, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, s.Stock)

	require.NoError(t, repo.ApplyMovement(ctx, tx, stock.NewMovement(1, 2, stock.MovementTypeDecreased, "ref-1")))

	// visible inside the tx, not outside
	s, err = repo.GetStockForUpdate(ctx, tx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Stock)
	outside, _ := repo.GetStock(ctx, 1)
	assert.Equal(t, 5, outside.Stock)

	exists, err := repo.MovementExists(ctx, tx, "ref-1")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, tx.Commit())
	assert.NoError(t, tx.Rollback())
	assert.Error(t, tx.Commit())

	outside, _ = repo.GetStock(ctx, 1)
	assert.Equal(t, 3, outside.Stock)
	assert.Len(t, db.Movements(), 1)
}

func TestTx_RollbackDiscards(t *testing.T) {
	ctx := context.Background()
	db := seeded()
	repo := db.StockRepository()

	tx, _ := repo.BeginTx(ctx)
	_, err := repo.GetStockForUpdate(ctx, tx, 1)
	require.NoError(t, err)
	require.NoError(t, repo.ApplyMovement(ctx, tx, stock.NewMovement(1, 5, stock.MovementTypeDecreased, "")))
	require.NoError(t, tx.Rollback())

	s, _ := repo.GetStock(ctx, 1)
	assert.Equal(t, 5, s.Stock)
	assert.Empty(t, db.Movements())
}

func TestTx_ApplyRequiresLock(t *testing.T) {
	ctx := context.Background()
	repo := seeded().StockRepository()

	tx, _ := repo.BeginTx(ctx)
	defer tx.Rollback()

	err := repo.ApplyMovement(ctx, tx, stock.NewMovement(1, 1, stock.MovementTypeIncreased, ""))
	assert.Error(t, err)
}

func TestTx_RowLockBlocksSecondTx(t *testing.T) {
	ctx := context.Background()
	repo := seeded().StockRepository()

	first, _ := repo.BeginTx(ctx)
	_, err := repo.GetStockForUpdate(ctx, first, 1)
	require.NoError(t, err)

	locked := make(chan struct{})
	go func() {
		second, _ := repo.BeginTx(ctx)
		defer second.Rollback()
		_, err := repo.GetStockForUpdate(ctx, second, 1)
		assert.NoError(t, err)
		close(locked)
	}()

	select {
	case <-locked:
		t.Fatal("second tx acquired a held row lock")
	case <-time.After(30 * time.Millisecond):
	}

	// other rows stay available
	other, _ := repo.BeginTx(ctx)
	_, err = repo.GetStockForUpdate(ctx, other, 2)
	require.NoError(t, err)
	require.NoError(t, other.Rollback())

	require.NoError(t, first.Rollback())
	select {
	case <-locked:
	case <-time.After(time.Second):
		t.Fatal("second tx never acquired the released lock")
	}
}

func TestReservationRepository(t *testing.T) {
	ctx := context.Background()
	repo := seeded().ReservationRepository()

	first, err := repo.Create(ctx, "alice", 1, 2)
	require.NoError(t, err)
	require.NotNil(t, first.Book)
	assert.Equal(t, "Dune", first.Book.Title)

	_, err = repo.Create(ctx, "alice", 1, 1)
	assert.ErrorIs(t, err, reservation.ErrAlreadyExists)

	_, err = repo.Create(ctx, "alice", 42, 1)
	assert.Error(t, err)

	second, err := repo.Create(ctx, "alice", 2, 1)
	require.NoError(t, err)
	_, err = repo.Create(ctx, "bob", 2, 1)
	require.NoError(t, err)

	list, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	first.Quantity = 8
	require.NoError(t, repo.Update(ctx, first))
	got, err := repo.GetByUsernameAndBook(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Equal(t, 8, got.Quantity)

	require.NoError(t, repo.Delete(ctx, first.ID))
	assert.ErrorIs(t, repo.Delete(ctx, first.ID), reservation.ErrNotFound)
	_, err = repo.GetByID(ctx, first.ID)
	assert.ErrorIs(t, err, reservation.ErrNotFound)
	assert.ErrorIs(t, repo.Update(ctx, first), reservation.ErrNotFound)
	_, err = repo.GetByUsernameAndBook(ctx, "alice", 1)
	assert.ErrorIs(t, err, reservation.ErrNotFound)
}
