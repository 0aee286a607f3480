package domain

import "time"

type EventType string

const (
	EventRentalCreated    EventType = "rental.created"
	EventRentalReturned   EventType = "rental.returned"
	EventTitleQuarantined EventType = "inventory.quarantined"
	EventTitleReleased    EventType = "inventory.released"
)

// Event is published after the atomic unit that produced it has committed.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	MovieID    int64     `json:"movie_id"`
	RentalID   int64     `json:"rental_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
