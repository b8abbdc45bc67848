package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/matheusmosca/bookstore-reservations/internal/telemetry"
)

var ErrInvalidQuantity = errors.New("stock.invalidQuantity")

// Ledger owns the per-book stock counter. Mutations hold the row lock for the
// whole read-modify-write, so the counter never goes below zero no matter how
// many reductions race on the same book.
type Ledger struct {
	repository Repository

	reductions metric.Int64Counter
	rejections metric.Int64Counter
	increases  metric.Int64Counter
}

// NewLedger creates a new Ledger
func NewLedger(repository Repository) *Ledger {
	meter := telemetry.Meter("bookstore/stock")
	return &Ledger{
		repository: repository,
		reductions: telemetry.Int64Counter(meter, "stock.reductions", "Successful stock reductions"),
		rejections: telemetry.Int64Counter(meter, "stock.reductions.rejected", "Stock reductions rejected for insufficient stock"),
		increases:  telemetry.Int64Counter(meter, "stock.increases", "Stock increases"),
	}
}

type mutationOptions struct {
	reference string
}

// MutationOption configures a single ReduceStock or IncreaseStock call
type MutationOption func(*mutationOptions)

// WithReference makes the mutation idempotent: once a movement with ref has
// been recorded, later mutations with the same ref report success without
// touching the counter.
func WithReference(ref string) MutationOption {
	return func(o *mutationOptions) {
		o.reference = ref
	}
}

func buildOptions(opts []MutationOption) mutationOptions {
	var o mutationOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Stock returns the current counter without locking.
func (l *Ledger) Stock(ctx context.Context, bookID int64) (int, error) {
	s, err := l.repository.GetStock(ctx, bookID)
	if err != nil {
		return 0, err
	}
	return s.Stock, nil
}

// CheckAvailability reports whether stock >= requested. The read takes no
// lock, so a true result is only a pre-filter; ReduceStock is the real check.
func (l *Ledger) CheckAvailability(ctx context.Context, bookID int64, requested int) (bool, error) {
	if requested < 0 {
		return false, ErrInvalidQuantity
	}

	s, err := l.repository.GetStock(ctx, bookID)
	if err != nil {
		return false, err
	}

	available := s.Stock >= requested
	log.Debug().
		Int64("book_id", bookID).
		Int("requested", requested).
		Int("stock", s.Stock).
		Bool("available", available).
		Msg("stock check")
	return available, nil
}

// ReduceStock subtracts qty under the row lock. It returns false, not an
// error, when the stock is insufficient.
func (l *Ledger) ReduceStock(ctx context.Context, bookID int64, qty int, opts ...MutationOption) (bool, error) {
	if qty <= 0 {
		return false, ErrInvalidQuantity
	}
	o := buildOptions(opts)

	// 1. Begin the transaction
	tx, err := l.repository.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 2. Lock the row and re-read the stock under the lock
	current, err := l.repository.GetStockForUpdate(ctx, tx, bookID)
	if err != nil {
		return false, err
	}

	// 3. Idempotency, checked inside the lock
	if o.reference != "" {
		exists, err := l.repository.MovementExists(ctx, tx, o.reference)
		if err != nil {
			return false, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if exists {
			log.Info().Str("reference", o.reference).Int64("book_id", bookID).Msg("[REDUCE STOCK] already applied")
			return true, nil
		}
	}

	// 4. Business rule
	if current.Stock < qty {
		log.Warn().
			Int64("book_id", bookID).
			Int("requested", qty).
			Int("stock", current.Stock).
			Msg("[REDUCE STOCK] insufficient stock")
		l.rejections.Add(ctx, 1, metric.WithAttributes(attribute.Int64("book_id", bookID)))
		return false, nil
	}

	if err := l.repository.ApplyMovement(ctx, tx, NewMovement(bookID, qty, MovementTypeDecreased, o.reference)); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit stock reduction: %w", err)
	}

	l.reductions.Add(ctx, 1, metric.WithAttributes(attribute.Int64("book_id", bookID)))
	log.Debug().
		Int64("book_id", bookID).
		Int("quantity", qty).
		Int("stock", current.Stock-qty).
		Msg("[REDUCE STOCK] success")
	return true, nil
}

// IncreaseStock adds qty under the row lock. It fails with ErrBookNotFound
// when the book does not exist.
func (l *Ledger) IncreaseStock(ctx context.Context, bookID int64, qty int, opts ...MutationOption) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	o := buildOptions(opts)

	tx, err := l.repository.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := l.repository.GetStockForUpdate(ctx, tx, bookID)
	if err != nil {
		return err
	}

	if o.reference != "" {
		exists, err := l.repository.MovementExists(ctx, tx, o.reference)
		if err != nil {
			return fmt.Errorf("failed to check idempotency: %w", err)
		}
		if exists {
			log.Info().Str("reference", o.reference).Int64("book_id", bookID).Msg("[INCREASE STOCK] already applied")
			return nil
		}
	}

	if err := l.repository.ApplyMovement(ctx, tx, NewMovement(bookID, qty, MovementTypeIncreased, o.reference)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit stock increase: %w", err)
	}

	l.increases.Add(ctx, 1, metric.WithAttributes(attribute.Int64("book_id", bookID)))
	log.Debug().
		Int64("book_id", bookID).
		Int("quantity", qty).
		Int("stock", current.Stock+qty).
		Msg("[INCREASE STOCK] success")
	return nil
}
