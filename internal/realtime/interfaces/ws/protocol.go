package ws

import (
	"encoding/json"

	telemetryevents "sensorfleet-cloud/internal/telemetry/application/events"
)

// Client actions accepted over the socket.
const (
	actionSubscribe    = "subscribe"
	actionUnsubscribe  = "unsubscribe"
	actionAckAlert     = "acknowledge-alert"
	actionResolveAlert = "resolve-alert"
	actionIssueCommand = "issue-command"
)

// Server-originated event names that are not topic fan-out.
const (
	eventConnected    = "connected"
	eventSubscribed   = "subscribed"
	eventUnsubscribed = "unsubscribed"
	eventAccepted     = "accepted"
	eventError        = "error"
)

// Error codes returned to the requester.
const (
	codeInvalidMessage = "invalid-message"
	codeInvalidTopic   = "invalid-topic"
	codeUnknownEntity  = "unknown-entity"
	codeForbidden      = "forbidden"
	codeNotFound       = "not-found"
	codeConflict       = "conflict"
	codeUnsupported    = "unsupported"
	codeInternal       = "internal"
)

// clientMessage is one inbound frame. RequestID is echoed back on the
// reply so clients can correlate.
type clientMessage struct {
	Action         string          `json:"action"`
	Topic          string          `json:"topic,omitempty"`
	AlertID        string          `json:"alert_id,omitempty"`
	DeviceID       string          `json:"device_id,omitempty"`
	Name           string          `json:"name,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	RequestID      string          `json:"request_id,omitempty"`
}

type connectedPayload struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
	Role         string `json:"role"`
}

type topicPayload struct {
	Topic     string `json:"topic"`
	RequestID string `json:"request_id,omitempty"`
}

type acceptedPayload struct {
	Action    string `json:"action"`
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

type errorPayload struct {
	Action    string `json:"action,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// snapshotPayload mirrors the live reading event shape so clients can
// render cached and fresh samples the same way.
type snapshotPayload struct {
	DeviceID string                         `json:"device_id"`
	Readings []telemetryevents.ReadingSample `json:"readings"`
}
