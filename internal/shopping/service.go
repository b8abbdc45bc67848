package shopping

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/matheusmosca/bookstore-reservations/internal/cart"
	"github.com/matheusmosca/bookstore-reservations/internal/catalog"
	"github.com/matheusmosca/bookstore-reservations/internal/checkout"
	"github.com/matheusmosca/bookstore-reservations/internal/gate"
	"github.com/matheusmosca/bookstore-reservations/internal/reservation"
	"github.com/matheusmosca/bookstore-reservations/internal/stock"
)

// Service is the entry point of the store. Every operation that touches the
// reservation ledger, or that buys stock from a cart, runs under the gate.
// Single-row stock operations rely on the row lock alone.
type Service struct {
	gate         *gate.Gate
	catalog      *catalog.Catalog
	stock        *stock.Ledger
	reservations *reservation.Manager
	carts        *CartManager
	checkout     *checkout.Orchestrator
	tracer       trace.Tracer
}

func NewService(g *gate.Gate, books *catalog.Catalog, ledger *stock.Ledger, reservations *reservation.Manager, orchestrator *checkout.Orchestrator) *Service {
	return &Service{
		gate:         g,
		catalog:      books,
		stock:        ledger,
		reservations: reservations,
		carts:        NewCartManager(books, ledger, reservations),
		checkout:     orchestrator,
		tracer:       otel.Tracer("bookstore/shopping"),
	}
}

func (s *Service) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// guarded runs fn under the gate inside a span named op
func (s *Service) guarded(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(ctx context.Context) error) (err error) {
	ctx, span := s.span(ctx, op, attrs...)
	defer func() { finish(span, err) }()
	return s.gate.Do(ctx, op, fn)
}

func (s *Service) ListBooks(ctx context.Context) ([]*catalog.Book, error) {
	return s.catalog.ListBooks(ctx)
}

func (s *Service) GetBook(ctx context.Context, id int64) (*catalog.Book, error) {
	return s.catalog.GetBookByID(ctx, id)
}

// ReserveBook reserves qty units and, when c is not nil, sets the reserved
// line of the book to the reservation's quantity.
func (s *Service) ReserveBook(ctx context.Context, username string, bookID int64, qty int, c *cart.Cart) (*reservation.Reservation, error) {
	var r *reservation.Reservation
	err := s.guarded(ctx, "reserve_book",
		[]attribute.KeyValue{attribute.String("username", username), attribute.Int64("book_id", bookID), attribute.Int("quantity", qty)},
		func(ctx context.Context) error {
			var err error
			r, err = s.reservations.ReserveBook(ctx, username, bookID, qty)
			return err
		})
	if err != nil {
		return nil, err
	}
	if c != nil {
		c.UpsertReservedItem(r.Book, r.Quantity)
	}
	return r, nil
}

// PurchaseReservation settles a reservation and drops its line from c.
func (s *Service) PurchaseReservation(ctx context.Context, id int64, username string, c *cart.Cart) (bool, error) {
	var r *reservation.Reservation
	err := s.guarded(ctx, "purchase_reservation",
		[]attribute.KeyValue{attribute.String("username", username), attribute.Int64("reservation_id", id)},
		func(ctx context.Context) error {
			var err error
			r, err = s.reservations.PurchaseReservation(ctx, id, username)
			return err
		})
	if err != nil {
		return false, err
	}
	if c != nil {
		c.RemoveItem(r.BookID, true)
	}
	return true, nil
}

// CancelReservation restores the reserved stock and drops the line from c.
func (s *Service) CancelReservation(ctx context.Context, id int64, username string, c *cart.Cart) (bool, error) {
	var r *reservation.Reservation
	err := s.guarded(ctx, "cancel_reservation",
		[]attribute.KeyValue{attribute.String("username", username), attribute.Int64("reservation_id", id)},
		func(ctx context.Context) error {
			var err error
			r, err = s.reservations.CancelReservation(ctx, id, username)
			return err
		})
	if err != nil {
		return false, err
	}
	if c != nil {
		c.RemoveItem(r.BookID, true)
	}
	return true, nil
}

func (s *Service) GetReservations(ctx context.Context, username string) ([]*reservation.Reservation, error) {
	return s.reservations.GetReservations(ctx, username)
}

func (s *Service) CheckStockAvailability(ctx context.Context, bookID int64, qty int) (bool, error) {
	return s.stock.CheckAvailability(ctx, bookID, qty)
}

func (s *Service) ReduceStock(ctx context.Context, bookID int64, qty int) (bool, error) {
	return s.stock.ReduceStock(ctx, bookID, qty)
}

func (s *Service) IncreaseStock(ctx context.Context, bookID int64, qty int) error {
	return s.stock.IncreaseStock(ctx, bookID, qty)
}

func (s *Service) SynchronizeCartForUser(ctx context.Context, username string, c *cart.Cart) (err error) {
	ctx, span := s.span(ctx, "synchronize_cart", attribute.String("username", username))
	defer func() { finish(span, err) }()
	return s.carts.SynchronizeCartForUser(ctx, username, c)
}

func (s *Service) AddBookToCart(ctx context.Context, c *cart.Cart, bookID int64, qty int) (err error) {
	ctx, span := s.span(ctx, "add_book_to_cart", attribute.Int64("book_id", bookID), attribute.Int("quantity", qty))
	defer func() { finish(span, err) }()
	return s.carts.AddBookToCart(ctx, c, bookID, qty)
}

func (s *Service) RemoveItemFromCart(ctx context.Context, username string, c *cart.Cart, bookID int64, reserved bool) error {
	return s.guarded(ctx, "remove_cart_item",
		[]attribute.KeyValue{attribute.String("username", username), attribute.Int64("book_id", bookID), attribute.Bool("reserved", reserved)},
		func(ctx context.Context) error {
			return s.carts.RemoveItemFromCart(ctx, username, c, bookID, reserved)
		})
}

func (s *Service) PurchaseItem(ctx context.Context, username string, c *cart.Cart, bookID int64, reserved bool) (bool, error) {
	var ok bool
	err := s.guarded(ctx, "purchase_cart_item",
		[]attribute.KeyValue{attribute.String("username", username), attribute.Int64("book_id", bookID), attribute.Bool("reserved", reserved)},
		func(ctx context.Context) error {
			var err error
			ok, err = s.carts.PurchaseItem(ctx, username, c, bookID, reserved)
			return err
		})
	return ok, err
}

func (s *Service) ClearCart(ctx context.Context, username string, c *cart.Cart) error {
	return s.guarded(ctx, "clear_cart",
		[]attribute.KeyValue{attribute.String("username", username)},
		func(ctx context.Context) error {
			return s.carts.ClearCart(ctx, username, c)
		})
}

func (s *Service) ViewCart(ctx context.Context, username string, c *cart.Cart) (total float64, err error) {
	ctx, span := s.span(ctx, "view_cart", attribute.String("username", username))
	defer func() { finish(span, err) }()
	return s.carts.ViewCart(ctx, username, c)
}

// Checkout synchronizes the cart, then buys it. The cart is cleared only
// when the checkout succeeds.
func (s *Service) Checkout(ctx context.Context, username string, c *cart.Cart) (bool, error) {
	var ok bool
	err := s.guarded(ctx, "checkout",
		[]attribute.KeyValue{attribute.String("username", username), attribute.Int("lines", len(c.Items))},
		func(ctx context.Context) error {
			if err := s.carts.SynchronizeCartForUser(ctx, username, c); err != nil {
				return err
			}
			var err error
			ok, err = s.checkout.Checkout(ctx, username, c)
			return err
		})
	if err != nil {
		return false, err
	}
	if ok {
		c.Clear()
	}
	return ok, nil
}
