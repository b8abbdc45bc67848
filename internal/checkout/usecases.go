package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/matheusmosca/bookstore-reservations/internal/cart"
	"github.com/matheusmosca/bookstore-reservations/internal/events"
	"github.com/matheusmosca/bookstore-reservations/internal/stock"
)

var ErrEmptyCart = errors.New("cart.empty")

// ReservationProcessor finalizes the reservations behind a cart's reserved lines
type ReservationProcessor interface {
	ProcessReservationsInCart(ctx context.Context, username string, c *cart.Cart) error
}

// StockLedger is the part of the stock ledger checkout drives
type StockLedger interface {
	ReduceStock(ctx context.Context, bookID int64, qty int, opts ...stock.MutationOption) (bool, error)
	IncreaseStock(ctx context.Context, bookID int64, qty int, opts ...stock.MutationOption) error
}

// Orchestrator turns a cart into purchases. It must run under the coarse gate.
type Orchestrator struct {
	reservations ReservationProcessor
	stock        StockLedger
	publisher    events.Publisher
}

// NewOrchestrator creates a new Orchestrator. A nil publisher drops events.
func NewOrchestrator(reservations ReservationProcessor, ledger StockLedger, publisher events.Publisher) *Orchestrator {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Orchestrator{
		reservations: reservations,
		stock:        ledger,
		publisher:    publisher,
	}
}

type reduction struct {
	bookID int64
	qty    int
}

// Checkout purchases every reserved line, then reduces the stock for every
// normal line. It returns false without an error when a normal line lacks
// stock; reductions already made for earlier lines are given back and the
// cart is left untouched. Reservations purchased before the failure are not
// rolled back: they stay purchased and their rows stay deleted. On success the
// caller clears the cart.
func (o *Orchestrator) Checkout(ctx context.Context, username string, c *cart.Cart) (bool, error) {
	if c.IsEmpty() {
		return false, ErrEmptyCart
	}

	if err := o.reservations.ProcessReservationsInCart(ctx, username, c); err != nil {
		return false, err
	}

	checkoutID := uuid.New().String()
	var done []reduction

	for _, item := range c.NonReservedItems() {
		ref := fmt.Sprintf("checkout:%s:%d", checkoutID, item.BookID())
		ok, err := o.stock.ReduceStock(ctx, item.BookID(), item.Quantity, stock.WithReference(ref))
		if err != nil {
			return false, o.rollback(ctx, checkoutID, done, fmt.Errorf("failed to reduce stock for book %d: %w", item.BookID(), err))
		}
		if !ok {
			log.Info().
				Str("username", username).
				Int64("book_id", item.BookID()).
				Int("quantity", item.Quantity).
				Msg("[CHECKOUT] not enough stock, aborting")
			return false, o.rollback(ctx, checkoutID, done, nil)
		}
		done = append(done, reduction{bookID: item.BookID(), qty: item.Quantity})
	}

	e := events.New(events.CheckoutCompleted, username)
	e.Total = c.Total()
	if err := o.publisher.Publish(ctx, e); err != nil {
		log.Error().Err(err).Str("event", e.Type).Msg("failed to publish event")
	}

	log.Info().Str("username", username).Str("checkout_id", checkoutID).Float64("total", e.Total).Msg("[CHECKOUT] completed")
	return true, nil
}

// rollback gives back the reductions made so far and returns cause joined
// with any compensation failure.
func (o *Orchestrator) rollback(ctx context.Context, checkoutID string, done []reduction, cause error) error {
	ctx = context.WithoutCancel(ctx)
	errs := []error{cause}
	for i := len(done) - 1; i >= 0; i-- {
		r := done[i]
		ref := fmt.Sprintf("checkout-compensation:%s:%d", checkoutID, r.bookID)
		if err := o.stock.IncreaseStock(ctx, r.bookID, r.qty, stock.WithReference(ref)); err != nil {
			log.Error().Err(err).Int64("book_id", r.bookID).Int("quantity", r.qty).Msg("[CHECKOUT] failed to restore stock")
			errs = append(errs, fmt.Errorf("failed to compensate stock for book %d: %w", r.bookID, err))
			continue
		}
		log.Warn().Int64("book_id", r.bookID).Int("quantity", r.qty).Msg("[CHECKOUT] stock restored")
	}
	return errors.Join(errs...)
}
