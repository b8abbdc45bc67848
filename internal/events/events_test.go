package events

import (
	"context"
	"encoding/json"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	e := New(ReservationCreated, "alice")

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, ReservationCreated, e.Type)
	assert.Equal(t, "alice", e.Username)
	assert.False(t, e.OccurredAt.IsZero())
}

func TestMemoryPublisher(t *testing.T) {
	p := &MemoryPublisher{}

	require.NoError(t, p.Publish(context.Background(), New(ReservationCreated, "alice")))
	require.NoError(t, p.Publish(context.Background(), New(ReservationCancelled, "alice")))

	assert.Equal(t, []string{ReservationCreated, ReservationCancelled}, p.Types())
}

func TestNopPublisher(t *testing.T) {
	assert.NoError(t, NopPublisher{}.Publish(context.Background(), New(CheckoutCompleted, "bob")))
}

func TestPublishing(t *testing.T) {
	e := New(ReservationPurchased, "alice")
	e.ReservationID = 3
	e.BookID = 42
	e.Quantity = 2

	msg, err := publishing(e)
	require.NoError(t, err)

	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, e.ID, msg.MessageId)
	assert.Equal(t, ReservationPurchased, msg.Type)

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, int64(42), decoded.BookID)
	assert.Equal(t, int64(3), decoded.ReservationID)
	assert.Equal(t, 2, decoded.Quantity)
}

func TestNewRabbitPublisher_InvalidURL(t *testing.T) {
	_, err := NewRabbitPublisher("not-a-url", "bookstore.events")
	assert.Error(t, err)
}
