package eventing

import (
	"encoding/json"
	"errors"
	"reflect"
	"time"
)

// Envelope wraps an event payload with the metadata the outbox and the
// idempotency bookkeeping key on.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	DeviceID      string          `json:"device_id,omitempty"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// Meta provides envelope overrides; zero fields fall back to what the
// event itself carries, then to generated defaults.
type Meta struct {
	EventID       string
	OccurredAt    time.Time
	CorrelationID string
	DeviceID      string
	SchemaVersion int
}

// BuildEnvelope wraps an event for the outbox. The device id and the
// occurrence time are read off the event struct when the metadata does
// not override them, so publishers rarely fill Meta by hand.
func BuildEnvelope(event any, meta Meta) (Envelope, error) {
	if event == nil {
		return Envelope{}, errors.New("eventing: nil event")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}

	t := reflect.TypeOf(event)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	env := Envelope{
		EventID:       meta.EventID,
		EventType:     t.String(),
		OccurredAt:    meta.OccurredAt,
		CorrelationID: meta.CorrelationID,
		DeviceID:      meta.DeviceID,
		SchemaVersion: meta.SchemaVersion,
		Payload:       payload,
	}
	if env.EventID == "" {
		env.EventID = NewEventID()
	}
	if env.DeviceID == "" {
		if field, ok := structField(event, "DeviceID"); ok && field.Kind() == reflect.String {
			env.DeviceID = field.String()
		}
	}
	if env.OccurredAt.IsZero() {
		if field, ok := structField(event, "OccurredAt"); ok {
			if at, isTime := field.Interface().(time.Time); isTime {
				env.OccurredAt = at
			}
		}
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now()
	}
	env.OccurredAt = env.OccurredAt.UTC()
	if env.CorrelationID == "" {
		env.CorrelationID = env.EventID
	}
	if env.SchemaVersion == 0 {
		env.SchemaVersion = 1
	}
	return env, nil
}

// structField resolves a named field on a struct event, following
// pointers first.
func structField(event any, name string) (reflect.Value, bool) {
	v := reflect.ValueOf(event)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	field := v.FieldByName(name)
	if !field.IsValid() {
		return reflect.Value{}, false
	}
	return field, true
}
