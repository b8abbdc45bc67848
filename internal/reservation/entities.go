package reservation

import (
	"time"

	"github.com/matheusmosca/bookstore-reservations/internal/cart"
	"github.com/matheusmosca/bookstore-reservations/internal/catalog"
)

// Reservation locks Quantity units of a book for a user against a deposit.
// There is at most one reservation per (Username, BookID).
type Reservation struct {
	ID        int64         `json:"id" db:"id"`
	BookID    int64         `json:"book_id" db:"book_id"`
	Username  string        `json:"username" db:"username"`
	Quantity  int           `json:"quantity" db:"quantity"`
	Book      *catalog.Book `json:"book"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}

func (r *Reservation) total() float64 {
	if r.Book == nil {
		return 0
	}
	return r.Book.Price * float64(r.Quantity)
}

// DepositAmount is the share paid when reserving
func (r *Reservation) DepositAmount() float64 {
	return r.total() * cart.DepositRate
}

// RemainingAmount is what is due on purchase
func (r *Reservation) RemainingAmount() float64 {
	return r.total() * (1 - cart.DepositRate)
}
