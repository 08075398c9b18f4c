package events

import (
	"time"

	alerts "sensorfleet-cloud/internal/alerts/domain"
)

// AlertRaised is raised after a rule evaluation creates a new alert.
type AlertRaised struct {
	Alert      alerts.Alert `json:"alert"`
	DeviceID   string       `json:"device_id"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// AlertAcknowledged is raised when an operator acknowledges an alert.
type AlertAcknowledged struct {
	Alert      alerts.Alert `json:"alert"`
	DeviceID   string       `json:"device_id"`
	ActorID    string       `json:"actor_id"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// AlertResolved is raised when an operator resolves an alert.
type AlertResolved struct {
	Alert      alerts.Alert `json:"alert"`
	DeviceID   string       `json:"device_id"`
	ActorID    string       `json:"actor_id"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// AlertEscalated is raised when an unattended alert is bumped to a
// higher severity.
type AlertEscalated struct {
	Alert            alerts.Alert `json:"alert"`
	DeviceID         string       `json:"device_id"`
	PreviousSeverity string       `json:"previous_severity"`
	Level            int          `json:"level"`
	OccurredAt       time.Time    `json:"occurred_at"`
}
