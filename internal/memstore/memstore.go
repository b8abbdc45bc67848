// Package memstore is an in-process storage backend. Each book row has its
// own exclusive lock, held by a transaction from GetStockForUpdate until
// Commit or Rollback, which gives the same guarantees as SELECT ... FOR UPDATE.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/matheusmosca/bookstore-reservations/internal/catalog"
	"github.com/matheusmosca/bookstore-reservations/internal/reservation"
	"github.com/matheusmosca/bookstore-reservations/internal/stock"
)

var errTxClosed = errors.New("memstore: tx is closed")

// DB holds every table of the backend
type DB struct {
	mu sync.Mutex

	books    map[int64]*catalog.Book
	rowLocks map[int64]chan struct{}

	movements  []stock.Movement
	references map[string]struct{}

	reservations      map[int64]*reservation.Reservation
	nextReservationID int64
}

func New() *DB {
	return &DB{
		books:        make(map[int64]*catalog.Book),
		rowLocks:     make(map[int64]chan struct{}),
		references:   make(map[string]struct{}),
		reservations: make(map[int64]*reservation.Reservation),
	}
}

// SeedBook inserts or replaces a book row
func (db *DB) SeedBook(b catalog.Book) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.books[b.ID] = &b
	if _, ok := db.rowLocks[b.ID]; !ok {
		db.rowLocks[b.ID] = make(chan struct{}, 1)
	}
}

// Movements returns the committed movement log in commit order
func (db *DB) Movements() []stock.Movement {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]stock.Movement, len(db.movements))
	copy(out, db.movements)
	return out
}

func (db *DB) bookCopy(id int64) (*catalog.Book, bool) {
	b, ok := db.books[id]
	if !ok {
		return nil, false
	}
	c := *b
	return &c, true
}

func (db *DB) CatalogRepository() *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (db *DB) StockRepository() *StockRepository {
	return &StockRepository{db: db}
}

func (db *DB) ReservationRepository() *ReservationRepository {
	return &ReservationRepository{db: db}
}

// CatalogRepository implements catalog.Repository
type CatalogRepository struct {
	db *DB
}

func (r *CatalogRepository) GetBookByID(_ context.Context, id int64) (*catalog.Book, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	b, ok := r.db.bookCopy(id)
	if !ok {
		return nil, catalog.ErrBookNotFound
	}
	return b, nil
}

func (r *CatalogRepository) ListBooks(_ context.Context) ([]*catalog.Book, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	books := make([]*catalog.Book, 0, len(r.db.books))
	for id := range r.db.books {
		b, _ := r.db.bookCopy(id)
		books = append(books, b)
	}
	sort.Slice(books, func(i, j int) bool { return books[i].ID < books[j].ID })
	return books, nil
}

// StockRepository implements stock.Repository
type StockRepository struct {
	db *DB
}

// Tx buffers movements and applies them on Commit. The row locks it holds are
// released when it ends.
type Tx struct {
	db      *DB
	held    map[int64]chan struct{}
	pending []*stock.Movement
	closed  bool
}

func (t *Tx) Commit() error {
	if t.closed {
		return errTxClosed
	}

	t.db.mu.Lock()
	for _, m := range t.pending {
		t.db.books[m.BookID].Stock += m.Delta()
		t.db.movements = append(t.db.movements, *m)
		if m.Reference != "" {
			t.db.references[m.Reference] = struct{}{}
		}
	}
	t.db.mu.Unlock()

	t.release()
	return nil
}

func (t *Tx) Rollback() error {
	if t.closed {
		return nil
	}
	t.release()
	return nil
}

func (t *Tx) release() {
	for _, lock := range t.held {
		<-lock
	}
	t.held = nil
	t.pending = nil
	t.closed = true
}

func (r *StockRepository) BeginTx(_ context.Context) (stock.Tx, error) {
	return &Tx{db: r.db, held: make(map[int64]chan struct{})}, nil
}

func (r *StockRepository) GetStock(_ context.Context, bookID int64) (*stock.BookStock, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	b, ok := r.db.books[bookID]
	if !ok {
		return nil, stock.ErrBookNotFound
	}
	return &stock.BookStock{BookID: b.ID, Stock: b.Stock, UpdatedAt: time.Now()}, nil
}

func (r *StockRepository) GetStockForUpdate(ctx context.Context, tx stock.Tx, bookID int64) (*stock.BookStock, error) {
	t, err := r.tx(tx)
	if err != nil {
		return nil, err
	}

	r.db.mu.Lock()
	lock, ok := r.db.rowLocks[bookID]
	r.db.mu.Unlock()
	if !ok {
		return nil, stock.ErrBookNotFound
	}

	if _, held := t.held[bookID]; !held {
		select {
		case lock <- struct{}{}:
			t.held[bookID] = lock
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to lock book %d: %w", bookID, ctx.Err())
		}
	}

	r.db.mu.Lock()
	current := r.db.books[bookID].Stock
	r.db.mu.Unlock()

	for _, m := range t.pending {
		if m.BookID == bookID {
			current += m.Delta()
		}
	}
	return &stock.BookStock{BookID: bookID, Stock: current, UpdatedAt: time.Now()}, nil
}

func (r *StockRepository) MovementExists(_ context.Context, tx stock.Tx, reference string) (bool, error) {
	t, err := r.tx(tx)
	if err != nil {
		return false, err
	}

	for _, m := range t.pending {
		if m.Reference == reference {
			return true, nil
		}
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	_, ok := r.db.references[reference]
	return ok, nil
}

func (r *StockRepository) ApplyMovement(_ context.Context, tx stock.Tx, movement *stock.Movement) error {
	t, err := r.tx(tx)
	if err != nil {
		return err
	}
	if _, held := t.held[movement.BookID]; !held {
		return fmt.Errorf("memstore: book %d is not locked by this tx", movement.BookID)
	}
	t.pending = append(t.pending, movement)
	return nil
}

func (r *StockRepository) tx(tx stock.Tx) (*Tx, error) {
	t, ok := tx.(*Tx)
	if !ok {
		return nil, fmt.Errorf("memstore: foreign tx %T", tx)
	}
	if t.closed {
		return nil, errTxClosed
	}
	return t, nil
}

// ReservationRepository implements reservation.Repository
type ReservationRepository struct {
	db *DB
}

func (r *ReservationRepository) materialize(row *reservation.Reservation) *reservation.Reservation {
	out := *row
	out.Book, _ = r.db.bookCopy(row.BookID)
	return &out
}

func (r *ReservationRepository) Create(_ context.Context, username string, bookID int64, quantity int) (*reservation.Reservation, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.books[bookID]; !ok {
		return nil, fmt.Errorf("failed to create reservation: book %d does not exist", bookID)
	}
	for _, row := range r.db.reservations {
		if row.Username == username && row.BookID == bookID {
			return nil, reservation.ErrAlreadyExists
		}
	}

	r.db.nextReservationID++
	row := &reservation.Reservation{
		ID:        r.db.nextReservationID,
		BookID:    bookID,
		Username:  username,
		Quantity:  quantity,
		CreatedAt: time.Now(),
	}
	r.db.reservations[row.ID] = row
	return r.materialize(row), nil
}

func (r *ReservationRepository) GetByID(_ context.Context, id int64) (*reservation.Reservation, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	row, ok := r.db.reservations[id]
	if !ok {
		return nil, reservation.ErrNotFound
	}
	return r.materialize(row), nil
}

func (r *ReservationRepository) GetByUsername(_ context.Context, username string) ([]*reservation.Reservation, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var out []*reservation.Reservation
	for _, row := range r.db.reservations {
		if row.Username == username {
			out = append(out, r.materialize(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *ReservationRepository) GetByUsernameAndBook(_ context.Context, username string, bookID int64) (*reservation.Reservation, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, row := range r.db.reservations {
		if row.Username == username && row.BookID == bookID {
			return r.materialize(row), nil
		}
	}
	return nil, reservation.ErrNotFound
}

func (r *ReservationRepository) Update(_ context.Context, res *reservation.Reservation) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	row, ok := r.db.reservations[res.ID]
	if !ok {
		return reservation.ErrNotFound
	}
	row.Quantity = res.Quantity
	return nil
}

func (r *ReservationRepository) Delete(_ context.Context, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.reservations[id]; !ok {
		return reservation.ErrNotFound
	}
	delete(r.db.reservations, id)
	return nil
}
