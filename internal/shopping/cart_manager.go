package shopping

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/matheusmosca/bookstore-reservations/internal/cart"
	"github.com/matheusmosca/bookstore-reservations/internal/catalog"
	"github.com/matheusmosca/bookstore-reservations/internal/reservation"
	"github.com/matheusmosca/bookstore-reservations/internal/stock"
)

var (
	ErrBookNotFound    = errors.New("cart.bookNotFound")
	ErrNotEnoughStock  = errors.New("cart.notEnoughStock")
	ErrItemNotFound    = errors.New("cart.itemNotFound")
	ErrSyncFailed      = errors.New("cart.syncFailed")
	ErrInvalidQuantity = errors.New("cart.invalidQuantity")
)

// Reservations is what cart reconciliation needs from the reservation manager
type Reservations interface {
	GetReservations(ctx context.Context, username string) ([]*reservation.Reservation, error)
	CancelReservationByUserAndBook(ctx context.Context, username string, bookID int64) (bool, error)
	PurchaseReservationByUserAndBook(ctx context.Context, username string, bookID int64) (bool, error)
	CancelAllReservationsInCart(ctx context.Context, username string, c *cart.Cart) error
}

type BookFinder interface {
	GetBookByID(ctx context.Context, id int64) (*catalog.Book, error)
}

type StockLedger interface {
	CheckAvailability(ctx context.Context, bookID int64, requested int) (bool, error)
	ReduceStock(ctx context.Context, bookID int64, qty int, opts ...stock.MutationOption) (bool, error)
}

// CartManager keeps a session cart consistent with the reservation ledger.
// Reserved lines are derived from reservation rows and the rows always win.
type CartManager struct {
	books        BookFinder
	stock        StockLedger
	reservations Reservations
}

func NewCartManager(books BookFinder, ledger StockLedger, reservations Reservations) *CartManager {
	return &CartManager{
		books:        books,
		stock:        ledger,
		reservations: reservations,
	}
}

// SynchronizeCartForUser drops reserved lines with no reservation row and sets
// every reserved line to the quantity of its row, adding missing ones. Normal
// lines are not touched.
func (m *CartManager) SynchronizeCartForUser(ctx context.Context, username string, c *cart.Cart) error {
	reservations, err := m.reservations.GetReservations(ctx, username)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSyncFailed, err)
	}

	byBook := make(map[int64]*reservation.Reservation, len(reservations))
	for _, r := range reservations {
		byBook[r.BookID] = r
	}

	c.RetainReservedItems(func(bookID int64) bool {
		_, ok := byBook[bookID]
		return ok
	})

	for _, r := range reservations {
		c.UpsertReservedItem(r.Book, r.Quantity)
	}

	log.Debug().Str("username", username).Int("reservations", len(reservations)).Int("lines", len(c.Items)).Msg("cart synchronized")
	return nil
}

// AddBookToCart adds qty to the normal line of the book. Availability is
// checked for the whole normal line; the reserved line is left out because
// its stock is already taken.
func (m *CartManager) AddBookToCart(ctx context.Context, c *cart.Cart, bookID int64, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	book, err := m.books.GetBookByID(ctx, bookID)
	if errors.Is(err, catalog.ErrBookNotFound) {
		return ErrBookNotFound
	}
	if err != nil {
		return err
	}

	totalRequested := qty
	if existing := c.FindItem(bookID, false); existing != nil {
		totalRequested += existing.Quantity
	}

	available, err := m.stock.CheckAvailability(ctx, bookID, totalRequested)
	if errors.Is(err, stock.ErrBookNotFound) {
		return ErrBookNotFound
	}
	if err != nil {
		return err
	}
	if !available {
		return ErrNotEnoughStock
	}

	c.AddItem(book, qty)
	return nil
}

// RemoveItemFromCart removes a line. A reserved line cancels its reservation
// first, which gives the stock back.
func (m *CartManager) RemoveItemFromCart(ctx context.Context, username string, c *cart.Cart, bookID int64, reserved bool) error {
	if c.FindItem(bookID, reserved) == nil {
		return ErrItemNotFound
	}

	if reserved {
		if _, err := m.reservations.CancelReservationByUserAndBook(ctx, username, bookID); err != nil {
			return err
		}
	}

	c.RemoveItem(bookID, reserved)
	return nil
}

// PurchaseItem buys a single line. A reserved line purchases its reservation
// and fails with reservation.ErrNotFound, keeping the line, when the row is
// gone. A normal line reduces the stock and reports false when there is not
// enough.
func (m *CartManager) PurchaseItem(ctx context.Context, username string, c *cart.Cart, bookID int64, reserved bool) (bool, error) {
	item := c.FindItem(bookID, reserved)
	if item == nil {
		return false, ErrItemNotFound
	}

	if reserved {
		purchased, err := m.reservations.PurchaseReservationByUserAndBook(ctx, username, bookID)
		if err != nil {
			return false, err
		}
		if !purchased {
			return false, reservation.ErrNotFound
		}
	} else {
		ok, err := m.stock.ReduceStock(ctx, bookID, item.Quantity)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	c.RemoveItem(bookID, reserved)
	return true, nil
}

// ClearCart cancels every reservation in the cart and empties it. The cart is
// emptied even when some cancellations fail; their rows survive and come back
// on the next synchronization.
func (m *CartManager) ClearCart(ctx context.Context, username string, c *cart.Cart) error {
	err := m.reservations.CancelAllReservationsInCart(ctx, username, c)
	c.Clear()
	return err
}

// ViewCart synchronizes the cart and returns its total
func (m *CartManager) ViewCart(ctx context.Context, username string, c *cart.Cart) (float64, error) {
	if err := m.SynchronizeCartForUser(ctx, username, c); err != nil {
		return 0, err
	}
	return c.Total(), nil
}
