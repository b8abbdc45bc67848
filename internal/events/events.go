package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	ReservationCreated   = "reservation.created"
	ReservationUpdated   = "reservation.updated"
	ReservationPurchased = "reservation.purchased"
	ReservationCancelled = "reservation.cancelled"
	CheckoutCompleted    = "checkout.completed"
)

// Event is published after a reservation or checkout state change commits.
// Type doubles as the routing key.
type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Username      string    `json:"username"`
	ReservationID int64     `json:"reservation_id,omitempty"`
	BookID        int64     `json:"book_id,omitempty"`
	Quantity      int       `json:"quantity,omitempty"`
	Total         float64   `json:"total,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// New creates an Event with a fresh id and timestamp
func New(eventType, username string) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		Username:   username,
		OccurredAt: time.Now(),
	}
}

func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers lifecycle events. Callers log publish failures and move
// on; an event is never a precondition for a state change.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// MemoryPublisher keeps published events in memory
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *MemoryPublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of everything published so far
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Types returns the types of everything published so far, in order
func (p *MemoryPublisher) Types() []string {
	var types []string
	for _, e := range p.Events() {
		types = append(types, e.Type)
	}
	return types
}
