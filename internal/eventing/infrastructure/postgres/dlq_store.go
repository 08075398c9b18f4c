package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sensorfleet-cloud/internal/eventing"
)

const defaultDLQTable = "dead_letter_events"

// DLQStore parks events the dispatcher could not deliver. Repeated
// failures of the same event update the row and bump the attempt
// count instead of stacking duplicates.
type DLQStore struct {
	db          *sql.DB
	recordQuery string
}

// DLQOption configures the DLQ store.
type DLQOption func(*dlqSettings)

type dlqSettings struct {
	table string
}

// WithDLQTable overrides the table name.
func WithDLQTable(table string) DLQOption {
	return func(s *dlqSettings) {
		if table != "" {
			s.table = table
		}
	}
}

// NewDLQStore constructs a DLQ store.
func NewDLQStore(db *sql.DB, opts ...DLQOption) *DLQStore {
	settings := dlqSettings{table: defaultDLQTable}
	for _, opt := range opts {
		opt(&settings)
	}
	t := settings.table
	return &DLQStore{
		db: db,
		recordQuery: fmt.Sprintf(
			`INSERT INTO %s (event_id, event_type, payload, error, first_seen_at, last_seen_at, attempts)
			 VALUES ($1, $2, $3, $4, $5, $5, 1)
			 ON CONFLICT (event_id) DO UPDATE SET
			   event_type = EXCLUDED.event_type,
			   payload = EXCLUDED.payload,
			   error = EXCLUDED.error,
			   last_seen_at = EXCLUDED.last_seen_at,
			   attempts = %s.attempts + 1`, t, t),
	}
}

// RecordFailure upserts a dead letter for the envelope.
func (s *DLQStore) RecordFailure(ctx context.Context, env eventing.Envelope, cause error) error {
	if s == nil || s.db == nil {
		return errors.New("dlq store: nil db")
	}
	if env.EventID == "" {
		return errors.New("dlq store: empty event id")
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	_, err = s.db.ExecContext(ctx, s.recordQuery, env.EventID, env.EventType, body, reason, time.Now().UTC())
	return err
}
