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

const defaultOutboxTable = "event_outbox"

// OutboxStore persists envelopes awaiting delivery. Each row carries
// the full envelope as JSON; status moves pending -> sent, or to
// failed with an attempt count when delivery keeps breaking.
type OutboxStore struct {
	db *sql.DB

	insertQuery  string
	pendingQuery string
	sentQuery    string
	failedQuery  string
}

// OutboxOption configures the outbox store.
type OutboxOption func(*outboxSettings)

type outboxSettings struct {
	table string
}

// WithOutboxTable overrides the table name.
func WithOutboxTable(table string) OutboxOption {
	return func(s *outboxSettings) {
		if table != "" {
			s.table = table
		}
	}
}

// NewOutboxStore constructs an outbox store.
func NewOutboxStore(db *sql.DB, opts ...OutboxOption) *OutboxStore {
	settings := outboxSettings{table: defaultOutboxTable}
	for _, opt := range opts {
		opt(&settings)
	}
	t := settings.table
	return &OutboxStore{
		db: db,
		insertQuery: fmt.Sprintf(
			`INSERT INTO %s (id, event_id, event_type, payload, status, attempts)
			 VALUES ($1, $2, $3, $4, 'pending', 0)
			 ON CONFLICT (id) DO NOTHING`, t),
		pendingQuery: fmt.Sprintf(
			`SELECT id, payload FROM %s
			 WHERE status = 'pending'
			 ORDER BY created_at ASC
			 LIMIT $1`, t),
		sentQuery: fmt.Sprintf(
			`UPDATE %s SET status = 'sent', sent_at = $1 WHERE id = $2`, t),
		failedQuery: fmt.Sprintf(
			`UPDATE %s SET status = 'failed', attempts = attempts + 1 WHERE id = $1`, t),
	}
}

// Insert writes an envelope as a pending row and returns the row id.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("outbox store: nil db")
	}
	body, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	rowID := eventing.NewEventID()
	if _, err := s.db.ExecContext(ctx, s.insertQuery, rowID, env.EventID, env.EventType, body); err != nil {
		return "", err
	}
	return rowID, nil
}

// ListPending returns pending outbox records, oldest first.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("outbox store: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.pendingQuery, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []eventing.OutboxRecord
	for rows.Next() {
		var (
			rowID string
			body  []byte
		)
		if err := rows.Scan(&rowID, &body); err != nil {
			return nil, err
		}
		var env eventing.Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, err
		}
		pending = append(pending, eventing.OutboxRecord{ID: rowID, Envelope: env})
	}
	return pending, rows.Err()
}

// MarkSent flips a row to sent and stamps the delivery time.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("outbox store: nil db")
	}
	_, err := s.db.ExecContext(ctx, s.sentQuery, time.Now().UTC(), id)
	return err
}

// MarkFailed flips a row to failed and counts the attempt.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("outbox store: nil db")
	}
	_, err := s.db.ExecContext(ctx, s.failedQuery, id)
	return err
}
