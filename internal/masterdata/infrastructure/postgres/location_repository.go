package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	masterdata "sensorfleet-cloud/internal/masterdata/domain"
)

const defaultLocationsTable = "locations"

// LocationRepository is a Postgres implementation for locations.
type LocationRepository struct {
	db    DBTX
	table string
}

// NewLocationRepository constructs a repository.
func NewLocationRepository(db DBTX, opts ...LocationOption) *LocationRepository {
	repo := &LocationRepository{db: db, table: defaultLocationsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// LocationOption configures the repository.
type LocationOption func(*LocationRepository)

// WithLocationTable overrides the default table name.
func WithLocationTable(table string) LocationOption {
	return func(repo *LocationRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Get loads a location by id.
func (r *LocationRepository) Get(ctx context.Context, id string) (*masterdata.Location, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("location repo: nil db")
	}
	if id == "" {
		return nil, errors.New("location repo: empty id")
	}

	query := fmt.Sprintf(`
SELECT id, name, timezone, region, created_at, updated_at
FROM %s
WHERE id = $1
LIMIT 1`, r.table)

	var location masterdata.Location
	if err := r.db.QueryRowContext(ctx, query, id).Scan(
		&location.ID,
		&location.Name,
		&location.Timezone,
		&location.Region,
		&location.CreatedAt,
		&location.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	location.CreatedAt = location.CreatedAt.UTC()
	location.UpdatedAt = location.UpdatedAt.UTC()
	return &location, nil
}

// List loads every location.
func (r *LocationRepository) List(ctx context.Context) ([]masterdata.Location, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("location repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT id, name, timezone, region, created_at, updated_at
FROM %s
ORDER BY id ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []masterdata.Location
	for rows.Next() {
		var location masterdata.Location
		if err := rows.Scan(
			&location.ID,
			&location.Name,
			&location.Timezone,
			&location.Region,
			&location.CreatedAt,
			&location.UpdatedAt,
		); err != nil {
			return nil, err
		}
		location.CreatedAt = location.CreatedAt.UTC()
		location.UpdatedAt = location.UpdatedAt.UTC()
		result = append(result, location)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Exists reports whether a location id is present.
func (r *LocationRepository) Exists(ctx context.Context, id string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("location repo: nil db")
	}
	if id == "" {
		return false, nil
	}

	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE id = $1 LIMIT 1`, r.table)
	var one int
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Save upserts a location.
func (r *LocationRepository) Save(ctx context.Context, location *masterdata.Location) error {
	if r == nil || r.db == nil {
		return errors.New("location repo: nil db")
	}
	if location == nil {
		return errors.New("location repo: nil location")
	}
	if err := location.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	name,
	timezone,
	region
) VALUES (
	$1, $2, $3, $4
)
ON CONFLICT (id)
DO UPDATE SET
	name = EXCLUDED.name,
	timezone = EXCLUDED.timezone,
	region = EXCLUDED.region,
	updated_at = NOW()`, r.table)

	_, err := r.db.ExecContext(
		ctx,
		query,
		location.ID,
		location.Name,
		location.Timezone,
		location.Region,
	)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if location.CreatedAt.IsZero() {
		location.CreatedAt = now
	}
	location.UpdatedAt = now
	return nil
}
