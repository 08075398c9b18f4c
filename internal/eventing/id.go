package eventing

import "github.com/google/uuid"

// NewEventID generates a random event identifier. Publishers that need
// the id before the envelope exists (idempotency keys, logging) call
// this and pass it through Meta or context.
func NewEventID() string {
	return uuid.NewString()
}
