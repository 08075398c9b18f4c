package commands

import (
	"encoding/json"
	"errors"
	"time"
)

const (
	StatusCreated = "created"
	StatusSent    = "sent"
	StatusAcked   = "acked"
	StatusFailed  = "failed"
	StatusTimeout = "timeout"
)

// Terminal reports whether a status can no longer change.
func Terminal(status string) bool {
	switch status {
	case StatusAcked, StatusFailed, StatusTimeout:
		return true
	default:
		return false
	}
}

// Command represents a server-initiated device command.
type Command struct {
	ID             string
	DeviceID       string
	Name           string
	Params         json.RawMessage
	IdempotencyKey string
	IssuedBy       string
	Status         string
	Error          string
	CreatedAt      time.Time
	SentAt         time.Time
	AckedAt        time.Time
}

// Validate checks required fields.
func (c Command) Validate() error {
	if c.ID == "" {
		return errors.New("command: empty id")
	}
	if c.DeviceID == "" {
		return errors.New("command: empty device id")
	}
	if c.Name == "" {
		return errors.New("command: empty name")
	}
	if len(c.Params) > 0 && !json.Valid(c.Params) {
		return errors.New("command: invalid params")
	}
	return nil
}
