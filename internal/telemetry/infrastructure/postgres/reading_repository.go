package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	telemetry "sensorfleet-cloud/internal/telemetry/domain"
)

const defaultReadingsTable = "readings"

// ReadingRepository is a Postgres implementation for sensor readings.
type ReadingRepository struct {
	db    *sql.DB
	table string
}

// NewReadingRepository constructs a repository with default table name.
func NewReadingRepository(db *sql.DB, opts ...RepositoryOption) *ReadingRepository {
	repo := &ReadingRepository{db: db, table: defaultReadingsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// RepositoryOption configures the repository.
type RepositoryOption func(*ReadingRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *ReadingRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// InsertReadings upserts a batch of readings in one transaction.
func (r *ReadingRepository) InsertReadings(ctx context.Context, readings []telemetry.Reading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if len(readings) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	device_id,
	sensor_id,
	value,
	ts
) VALUES (
	$1, $2, $3, $4
)
ON CONFLICT (device_id, sensor_id, ts)
DO UPDATE SET
	value = EXCLUDED.value`, r.table)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, reading := range readings {
		if err := reading.Validate(); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(
			ctx,
			reading.DeviceID,
			reading.SensorID,
			reading.Value,
			reading.At.UTC(),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// ListRecent returns up to limit readings of one sensor strictly older
// than before, bounded by the window when it is positive, oldest first.
func (r *ReadingRepository) ListRecent(ctx context.Context, deviceID, sensorID string, before time.Time, window time.Duration, limit int) ([]telemetry.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	if deviceID == "" || sensorID == "" {
		return nil, errors.New("reading repo: missing device or sensor id")
	}
	if before.IsZero() {
		before = time.Now()
	}
	if limit <= 0 {
		limit = 5
	}

	var (
		rows *sql.Rows
		err  error
	)
	if window > 0 {
		query := fmt.Sprintf(`
SELECT device_id, sensor_id, value, ts
FROM %s
WHERE device_id = $1 AND sensor_id = $2 AND ts < $3 AND ts >= $4
ORDER BY ts DESC
LIMIT $5`, r.table)
		rows, err = r.db.QueryContext(ctx, query, deviceID, sensorID, before.UTC(), before.Add(-window).UTC(), limit)
	} else {
		query := fmt.Sprintf(`
SELECT device_id, sensor_id, value, ts
FROM %s
WHERE device_id = $1 AND sensor_id = $2 AND ts < $3
ORDER BY ts DESC
LIMIT $4`, r.table)
		rows, err = r.db.QueryContext(ctx, query, deviceID, sensorID, before.UTC(), limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []telemetry.Reading
	for rows.Next() {
		var reading telemetry.Reading
		if err := rows.Scan(&reading.DeviceID, &reading.SensorID, &reading.Value, &reading.At); err != nil {
			return nil, err
		}
		reading.At = reading.At.UTC()
		result = append(result, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the query, flip to oldest-first.
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}
