package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const defaultProcessedTable = "processed_events"

// ProcessedStore records which consumer handled which event so replays
// out of the outbox stay at-most-once per consumer.
type ProcessedStore struct {
	db *sql.DB

	existsQuery string
	markQuery   string
}

// ProcessedOption configures the processed store.
type ProcessedOption func(*processedSettings)

type processedSettings struct {
	table string
}

// WithProcessedTable overrides table name.
func WithProcessedTable(table string) ProcessedOption {
	return func(s *processedSettings) {
		if table != "" {
			s.table = table
		}
	}
}

// NewProcessedStore constructs a processed store.
func NewProcessedStore(db *sql.DB, opts ...ProcessedOption) *ProcessedStore {
	settings := processedSettings{table: defaultProcessedTable}
	for _, opt := range opts {
		opt(&settings)
	}
	return &ProcessedStore{
		db: db,
		existsQuery: fmt.Sprintf(
			`SELECT EXISTS (SELECT 1 FROM %s WHERE event_id = $1 AND consumer_name = $2)`,
			settings.table),
		markQuery: fmt.Sprintf(
			`INSERT INTO %s (event_id, consumer_name, processed_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (event_id, consumer_name) DO NOTHING`,
			settings.table),
	}
}

// HasProcessed reports whether the consumer already handled the event.
func (s *ProcessedStore) HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("processed store: nil db")
	}
	if eventID == "" || consumerName == "" {
		return false, errors.New("processed store: invalid arguments")
	}
	var done bool
	err := s.db.QueryRowContext(ctx, s.existsQuery, eventID, consumerName).Scan(&done)
	if err != nil {
		return false, err
	}
	return done, nil
}

// MarkProcessed records the (event, consumer) pair; repeating the mark
// is harmless.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, eventID, consumerName string) error {
	if s == nil || s.db == nil {
		return errors.New("processed store: nil db")
	}
	if eventID == "" || consumerName == "" {
		return errors.New("processed store: invalid arguments")
	}
	_, err := s.db.ExecContext(ctx, s.markQuery, eventID, consumerName, time.Now().UTC())
	return err
}
