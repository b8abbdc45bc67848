package stock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewMovement(t *testing.T) {
	// Act
	m := NewMovement(7, 3, MovementTypeDecreased, "reserve:abc")

	// Assert
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, int64(7), m.BookID)
	assert.Equal(t, 3, m.ChangeQuantity)
	assert.Equal(t, "reserve:abc", m.Reference)
	assert.WithinDuration(t, time.Now(), m.CreatedAt, time.Second)
}

func TestMovement_Delta(t *testing.T) {
	assert.Equal(t, -3, NewMovement(1, 3, MovementTypeDecreased, "").Delta())
	assert.Equal(t, 3, NewMovement(1, 3, MovementTypeIncreased, "").Delta())
}

func TestNewPostgresRepository(t *testing.T) {
	repo := NewPostgresRepository(nil)
	assert.NotNil(t, repo)
	assert.IsType(t, &PostgresRepository{}, repo)
}
