package reservation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/matheusmosca/bookstore-reservations/internal/cart"
	"github.com/matheusmosca/bookstore-reservations/internal/catalog"
	"github.com/matheusmosca/bookstore-reservations/internal/events"
	"github.com/matheusmosca/bookstore-reservations/internal/stock"
	"github.com/matheusmosca/bookstore-reservations/internal/telemetry"
)

var (
	ErrBookNotFound         = errors.New("reservation.bookNotFound")
	ErrNotEnoughStock       = errors.New("reservation.notEnoughStock")
	ErrStockReductionFailed = errors.New("reservation.stockReductionFailed")
	ErrAccessDenied         = errors.New("reservation.accessDenied")
	ErrInvalidQuantity      = errors.New("reservation.invalidQuantity")
)

// StockLedger is the part of the stock ledger the manager drives
type StockLedger interface {
	CheckAvailability(ctx context.Context, bookID int64, requested int) (bool, error)
	ReduceStock(ctx context.Context, bookID int64, qty int, opts ...stock.MutationOption) (bool, error)
	IncreaseStock(ctx context.Context, bookID int64, qty int, opts ...stock.MutationOption) error
}

// BookFinder resolves priced books
type BookFinder interface {
	GetBookByID(ctx context.Context, id int64) (*catalog.Book, error)
}

// Manager runs the reservation lifecycle across the stock ledger and the
// reservation ledger. The two stores share no transaction: every step that
// follows a stock reduction undoes the reduction when it fails.
//
// Manager does not serialize callers. Two concurrent ReserveBook calls for the
// same user and book can both see no reservation; callers hold the coarse
// gate around every mutating call.
type Manager struct {
	repository Repository
	stock      StockLedger
	books      BookFinder
	publisher  events.Publisher

	compensations metric.Int64Counter
}

// NewManager creates a new Manager. A nil publisher drops events.
func NewManager(repository Repository, ledger StockLedger, books BookFinder, publisher events.Publisher) *Manager {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	meter := telemetry.Meter("bookstore/reservation")
	return &Manager{
		repository:    repository,
		stock:         ledger,
		books:         books,
		publisher:     publisher,
		compensations: telemetry.Int64Counter(meter, "reservation.compensations", "Stock reductions undone after a failed reservation write"),
	}
}

// ReserveBook creates the reservation of username for bookID, or grows the
// existing one by qty.
func (m *Manager) ReserveBook(ctx context.Context, username string, bookID int64, qty int) (*Reservation, error) {
	existing, err := m.GetReservationByUserAndBook(ctx, username, bookID)
	if err == nil {
		return m.IncrementReservationQuantity(ctx, existing.ID, qty)
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return m.CreateReservation(ctx, username, bookID, qty)
}

// CreateReservation reduces the stock and then writes the reservation row.
func (m *Manager) CreateReservation(ctx context.Context, username string, bookID int64, qty int) (*Reservation, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}

	book, err := m.findBook(ctx, bookID)
	if err != nil {
		return nil, err
	}

	attempt := uuid.New().String()
	if err := m.takeStock(ctx, bookID, qty, attempt); err != nil {
		return nil, err
	}

	r, err := m.repository.Create(ctx, username, bookID, qty)
	if err != nil {
		return nil, m.compensate(ctx, bookID, qty, attempt, fmt.Errorf("failed to create reservation: %w", err))
	}
	r.Book = book

	log.Info().
		Int64("reservation_id", r.ID).
		Str("username", username).
		Int64("book_id", bookID).
		Int("quantity", qty).
		Msg("[RESERVE] reservation created")

	m.publish(ctx, r, events.ReservationCreated)
	return r, nil
}

// IncrementReservationQuantity reduces the stock by additional and adds it to
// the reservation.
func (m *Manager) IncrementReservationQuantity(ctx context.Context, id int64, additional int) (*Reservation, error) {
	if additional <= 0 {
		return nil, ErrInvalidQuantity
	}

	r, err := m.repository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	book, err := m.findBook(ctx, r.BookID)
	if err != nil {
		return nil, err
	}

	attempt := uuid.New().String()
	if err := m.takeStock(ctx, r.BookID, additional, attempt); err != nil {
		return nil, err
	}

	r.Quantity += additional
	if err := m.repository.Update(ctx, r); err != nil {
		return nil, m.compensate(ctx, r.BookID, additional, attempt, fmt.Errorf("failed to update reservation %d: %w", id, err))
	}
	r.Book = book

	log.Info().
		Int64("reservation_id", r.ID).
		Str("username", r.Username).
		Int64("book_id", r.BookID).
		Int("added", additional).
		Int("quantity", r.Quantity).
		Msg("[RESERVE] reservation incremented")

	m.publish(ctx, r, events.ReservationUpdated)
	return r, nil
}

// PurchaseReservation settles the reservation. The stock stays reduced.
func (m *Manager) PurchaseReservation(ctx context.Context, id int64, username string) (*Reservation, error) {
	r, err := m.GetReservationByID(ctx, id, username)
	if err != nil {
		return nil, err
	}

	if err := m.repository.Delete(ctx, r.ID); err != nil {
		return nil, err
	}

	log.Info().Int64("reservation_id", r.ID).Str("username", username).Msg("[PURCHASE] reservation purchased")
	m.publish(ctx, r, events.ReservationPurchased)
	return r, nil
}

// CancelReservation gives the reserved units back to the stock and deletes the
// reservation. When the delete fails the restore is undone, so the surviving
// row still matches the stock it holds and a later cancel starts over.
func (m *Manager) CancelReservation(ctx context.Context, id int64, username string) (*Reservation, error) {
	r, err := m.GetReservationByID(ctx, id, username)
	if err != nil {
		return nil, err
	}

	attempt := uuid.New().String()
	err = m.stock.IncreaseStock(ctx, r.BookID, r.Quantity, stock.WithReference(fmt.Sprintf("reservation-cancel:%d:%s", r.ID, attempt)))
	if err != nil {
		return nil, fmt.Errorf("failed to restore stock for reservation %d: %w", r.ID, err)
	}

	if err := m.repository.Delete(ctx, r.ID); err != nil {
		return nil, m.retake(ctx, r, attempt, fmt.Errorf("failed to delete reservation %d: %w", r.ID, err))
	}

	log.Info().
		Int64("reservation_id", r.ID).
		Str("username", username).
		Int64("book_id", r.BookID).
		Int("quantity", r.Quantity).
		Msg("[CANCEL] reservation cancelled")

	m.publish(ctx, r, events.ReservationCancelled)
	return r, nil
}

// CancelReservationByUserAndBook reports false when there is nothing to cancel.
func (m *Manager) CancelReservationByUserAndBook(ctx context.Context, username string, bookID int64) (bool, error) {
	r, err := m.GetReservationByUserAndBook(ctx, username, bookID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := m.CancelReservation(ctx, r.ID, username); err != nil {
		return false, err
	}
	return true, nil
}

// PurchaseReservationByUserAndBook reports false when there is nothing to purchase.
func (m *Manager) PurchaseReservationByUserAndBook(ctx context.Context, username string, bookID int64) (bool, error) {
	r, err := m.GetReservationByUserAndBook(ctx, username, bookID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := m.PurchaseReservation(ctx, r.ID, username); err != nil {
		return false, err
	}
	return true, nil
}

// ProcessReservationsInCart purchases the reservation behind every reserved
// line. A line without a reservation is skipped.
func (m *Manager) ProcessReservationsInCart(ctx context.Context, username string, c *cart.Cart) error {
	for _, item := range c.ReservedItems() {
		purchased, err := m.PurchaseReservationByUserAndBook(ctx, username, item.BookID())
		if err != nil {
			return fmt.Errorf("failed to purchase reservation for book %d: %w", item.BookID(), err)
		}
		if !purchased {
			log.Warn().Str("username", username).Int64("book_id", item.BookID()).Msg("[PURCHASE] no reservation behind cart line, skipping")
		}
	}
	return nil
}

// CancelAllReservationsInCart cancels the reservation behind every reserved
// line. Failures do not stop the loop; they are returned joined.
func (m *Manager) CancelAllReservationsInCart(ctx context.Context, username string, c *cart.Cart) error {
	var errs []error
	for _, item := range c.ReservedItems() {
		if _, err := m.CancelReservationByUserAndBook(ctx, username, item.BookID()); err != nil {
			log.Error().Err(err).Str("username", username).Int64("book_id", item.BookID()).Msg("[CANCEL] failed to cancel reservation in cart")
			errs = append(errs, fmt.Errorf("book %d: %w", item.BookID(), err))
		}
	}
	return errors.Join(errs...)
}

// GetReservations lists the reservations of username, most recent first, with
// current prices.
func (m *Manager) GetReservations(ctx context.Context, username string) ([]*Reservation, error) {
	reservations, err := m.repository.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	for _, r := range reservations {
		book, err := m.books.GetBookByID(ctx, r.BookID)
		if err != nil {
			return nil, fmt.Errorf("failed to price reservation %d: %w", r.ID, err)
		}
		r.Book = book
	}
	return reservations, nil
}

// GetReservationByUserAndBook fails with ErrNotFound when username holds no
// reservation for bookID.
func (m *Manager) GetReservationByUserAndBook(ctx context.Context, username string, bookID int64) (*Reservation, error) {
	return m.repository.GetByUsernameAndBook(ctx, username, bookID)
}

// GetReservationByID fails with ErrAccessDenied when the reservation belongs
// to someone else.
func (m *Manager) GetReservationByID(ctx context.Context, id int64, username string) (*Reservation, error) {
	r, err := m.repository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Username != username {
		log.Warn().Int64("reservation_id", id).Str("username", username).Msg("reservation owned by another user")
		return nil, ErrAccessDenied
	}
	return r, nil
}

func (m *Manager) findBook(ctx context.Context, bookID int64) (*catalog.Book, error) {
	book, err := m.books.GetBookByID(ctx, bookID)
	if errors.Is(err, catalog.ErrBookNotFound) {
		return nil, ErrBookNotFound
	}
	return book, err
}

// takeStock is the forward step of the reservation saga.
func (m *Manager) takeStock(ctx context.Context, bookID int64, qty int, attempt string) error {
	available, err := m.stock.CheckAvailability(ctx, bookID, qty)
	if errors.Is(err, stock.ErrBookNotFound) {
		return ErrBookNotFound
	}
	if err != nil {
		return err
	}
	if !available {
		return ErrNotEnoughStock
	}

	reduced, err := m.stock.ReduceStock(ctx, bookID, qty, stock.WithReference("reserve:"+attempt))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStockReductionFailed, err)
	}
	if !reduced {
		return ErrStockReductionFailed
	}
	return nil
}

// compensate gives back qty units after a failed reservation write and
// returns cause, joined with the compensation error when that fails too.
func (m *Manager) compensate(ctx context.Context, bookID int64, qty int, attempt string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	m.compensations.Add(ctx, 1, metric.WithAttributes(attribute.Int64("book_id", bookID)))

	err := m.stock.IncreaseStock(ctx, bookID, qty, stock.WithReference("reserve-compensation:"+attempt))
	if err != nil {
		log.Error().
			Err(err).
			AnErr("cause", cause).
			Int64("book_id", bookID).
			Int("quantity", qty).
			Msg("[COMPENSATE] failed to restore stock")
		return errors.Join(cause, fmt.Errorf("failed to compensate stock for book %d: %w", bookID, err))
	}

	log.Warn().
		Err(cause).
		Int64("book_id", bookID).
		Int("quantity", qty).
		Msg("[COMPENSATE] stock restored")
	return cause
}

// retake takes back the units restored by a cancel whose delete failed and
// returns cause, joined with the compensation error when that fails too.
func (m *Manager) retake(ctx context.Context, r *Reservation, attempt string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	m.compensations.Add(ctx, 1, metric.WithAttributes(attribute.Int64("book_id", r.BookID)))

	ref := fmt.Sprintf("reservation-cancel-compensation:%d:%s", r.ID, attempt)
	reduced, err := m.stock.ReduceStock(ctx, r.BookID, r.Quantity, stock.WithReference(ref))
	if err == nil && !reduced {
		err = ErrStockReductionFailed
	}
	if err != nil {
		log.Error().
			Err(err).
			AnErr("cause", cause).
			Int64("reservation_id", r.ID).
			Int64("book_id", r.BookID).
			Int("quantity", r.Quantity).
			Msg("[COMPENSATE] stock restored but reservation not deleted")
		return errors.Join(cause, fmt.Errorf("failed to take back stock for reservation %d: %w", r.ID, err))
	}

	log.Warn().
		Err(cause).
		Int64("reservation_id", r.ID).
		Int("quantity", r.Quantity).
		Msg("[COMPENSATE] cancel undone")
	return cause
}

func (m *Manager) publish(ctx context.Context, r *Reservation, eventType string) {
	e := events.New(eventType, r.Username)
	e.ReservationID = r.ID
	e.BookID = r.BookID
	e.Quantity = r.Quantity
	if err := m.publisher.Publish(ctx, e); err != nil {
		log.Error().Err(err).Str("event", eventType).Int64("reservation_id", r.ID).Msg("failed to publish event")
	}
}
