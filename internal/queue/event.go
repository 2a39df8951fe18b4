// Package queue defines message payloads exchanged over the message broker.
package queue

import (
	"time"

	"github.com/iliyamo/restaurant-waitlist/internal/model"
)

// WaitlistEventsQueue is the durable RabbitMQ queue carrying WaitlistEvent
// messages.
const WaitlistEventsQueue = "waitlist.events"

// WaitlistEvent is published after every committed waitlist mutation.  It
// carries a copy of the affected entry so the log consumer never has to
// query the primary database.
type WaitlistEvent struct {
	RestaurantID string               `json:"restaurant_id"`
	Action       string               `json:"action"`
	Entry        *model.WaitlistEntry `json:"entry,omitempty"`
	OccurredAt   string               `json:"occurred_at"`
}

// NewWaitlistEvent stamps an event with the current UTC time.
func NewWaitlistEvent(restaurantID, action string, entry *model.WaitlistEntry) WaitlistEvent {
	return WaitlistEvent{
		RestaurantID: restaurantID,
		Action:       action,
		Entry:        entry,
		OccurredAt:   time.Now().UTC().Format(time.RFC3339),
	}
}
