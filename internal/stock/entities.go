package stock

import (
	"time"

	"github.com/google/uuid"
)

// BookStock is the authoritative available quantity of one book
type BookStock struct {
	BookID    int64     `json:"book_id" db:"id"`
	Stock     int       `json:"stock" db:"stock"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Movement records one stock mutation. Reference, when set, is unique: a
// mutation carrying a reference that was already recorded is not applied again.
type Movement struct {
	ID             string    `json:"id" db:"id"`
	BookID         int64     `json:"book_id" db:"book_id"`
	Reference      string    `json:"reference,omitempty" db:"reference"`
	ChangeQuantity int       `json:"change_quantity" db:"change_quantity"`
	MovementType   string    `json:"movement_type" db:"movement_type"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// NewMovement creates a new Movement
func NewMovement(bookID int64, changeQuantity int, movementType, reference string) *Movement {
	return &Movement{
		ID:             uuid.New().String(),
		BookID:         bookID,
		Reference:      reference,
		ChangeQuantity: changeQuantity,
		MovementType:   movementType,
		CreatedAt:      time.Now(),
	}
}

// Delta is the signed change the movement applies to the stock counter
func (m *Movement) Delta() int {
	if m.MovementType == MovementTypeDecreased {
		return -m.ChangeQuantity
	}
	return m.ChangeQuantity
}

const (
	MovementTypeDecreased = "decreased"
	MovementTypeIncreased = "increased"
)
