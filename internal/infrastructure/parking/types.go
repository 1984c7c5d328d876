package parking

import (
	"time"

	"github.com/google/uuid"
)

// Reasons a message reached the dead-letter queue.
const (
	ReasonExpired  = "expired"
	ReasonRejected = "rejected"
)

// Item is a dead-lettered message kept for inspection and replay.
type Item struct {
	ID            string    `json:"id"`
	MessageID     string    `json:"message_id,omitempty"`
	RoutingKey    string    `json:"routing_key"`
	DeadLetterKey string    `json:"dead_letter_key"`
	Body          []byte    `json:"body"`
	Reason        string    `json:"reason"`
	ParkedAt      time.Time `json:"parked_at"`

	bucketKey []byte
}

func (i *Item) normalize(now time.Time) {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.Reason == "" {
		i.Reason = ReasonExpired
	}
	if i.ParkedAt.IsZero() {
		i.ParkedAt = now
	}
}
