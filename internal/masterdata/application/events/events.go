package events

import "time"

// DeviceConfigChanged is published when a device's armed flag flips.
type DeviceConfigChanged struct {
	DeviceID   string    `json:"device_id"`
	LocationID string    `json:"location_id,omitempty"`
	Armed      bool      `json:"armed"`
	ActorID    string    `json:"actor_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
