package events

import (
	"encoding/json"
	"time"
)

// CommandIssued is emitted when a command is created.
type CommandIssued struct {
	EventID        string          `json:"event_id"`
	CommandID      string          `json:"command_id"`
	DeviceID       string          `json:"device_id"`
	Name           string          `json:"name"`
	Params         json.RawMessage `json:"params,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	IssuedBy       string          `json:"issued_by"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// CommandCompleted is emitted when a command reaches a terminal status:
// acked, failed or timeout.
type CommandCompleted struct {
	EventID    string    `json:"event_id"`
	CommandID  string    `json:"command_id"`
	DeviceID   string    `json:"device_id"`
	Name       string    `json:"name"`
	IssuedBy   string    `json:"issued_by"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
