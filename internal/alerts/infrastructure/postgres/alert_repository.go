package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	alerts "sensorfleet-cloud/internal/alerts/domain"
)

const alertColumns = `id, device_id, sensor_id, sensor_rule_id, location_id, severity, message, status,
	value, triggered_at, acknowledged_at, acknowledged_by, resolved_at, resolved_by,
	escalation_level, last_escalated_at, created_at, updated_at`

// AlertRepository is a Postgres repository for alerts.
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create inserts a new alert.
func (r *AlertRepository) Create(ctx context.Context, alert *alerts.Alert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if alert == nil {
		return errors.New("alert repo: nil alert")
	}
	if alert.ID == "" || alert.DeviceID == "" || alert.SensorID == "" || alert.SensorRuleID == "" {
		return errors.New("alert repo: missing fields")
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	if alert.UpdatedAt.IsZero() {
		alert.UpdatedAt = alert.CreatedAt
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alerts (
	id, device_id, sensor_id, sensor_rule_id, location_id, severity, message, status,
	value, triggered_at, acknowledged_at, acknowledged_by, resolved_at, resolved_by,
	escalation_level, last_escalated_at, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8,
	$9, $10, $11, $12, $13, $14,
	$15, $16, $17, $18
)`,
		alert.ID,
		alert.DeviceID,
		alert.SensorID,
		alert.SensorRuleID,
		alert.LocationID,
		alert.Severity,
		alert.Message,
		alert.Status,
		sql.NullFloat64{Float64: alert.Value, Valid: true},
		alert.TriggeredAt,
		nullableTime(alert.AcknowledgedAt),
		alert.AcknowledgedBy,
		nullableTime(alert.ResolvedAt),
		alert.ResolvedBy,
		alert.EscalationLevel,
		nullableTime(alert.LastEscalatedAt),
		alert.CreatedAt,
		alert.UpdatedAt,
	)
	return err
}

// GetByID fetches an alert by id.
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+alertColumns+`
FROM alerts
WHERE id = $1`, id)
	return scanAlert(row)
}

// UpdateStatus transitions an alert only when it still holds the
// expected prior status. A zero-row update means the alert is either
// missing or was moved by another actor first.
func (r *AlertRepository) UpdateStatus(ctx context.Context, id, expectedPrior, newStatus, actorID string, at time.Time) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if id == "" {
		return nil, errors.New("alert repo: alert id required")
	}
	if !alerts.ValidStatus(expectedPrior) || !alerts.ValidStatus(newStatus) {
		return nil, errors.New("alert repo: invalid status")
	}

	var result sql.Result
	var err error
	switch newStatus {
	case alerts.StatusAcknowledged:
		result, err = r.db.ExecContext(ctx, `
UPDATE alerts
SET status = $1, acknowledged_at = $2, acknowledged_by = $3, updated_at = $2
WHERE id = $4 AND status = $5`, newStatus, at, actorID, id, expectedPrior)
	case alerts.StatusResolved:
		result, err = r.db.ExecContext(ctx, `
UPDATE alerts
SET status = $1, resolved_at = $2, resolved_by = $3, updated_at = $2
WHERE id = $4 AND status = $5`, newStatus, at, actorID, id, expectedPrior)
	default:
		return nil, errors.New("alert repo: unsupported transition")
	}
	if err != nil {
		return nil, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		existing, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, alerts.ErrNotFound
		}
		return nil, alerts.ErrConflict
	}
	return r.GetByID(ctx, id)
}

// MarkEscalated bumps severity and escalation bookkeeping.
func (r *AlertRepository) MarkEscalated(ctx context.Context, id, severity string, level int, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE alerts
SET severity = $1, escalation_level = $2, last_escalated_at = $3, updated_at = $3
WHERE id = $4`, severity, level, at, id)
	return err
}

// ListActiveBefore returns unacknowledged alerts of one severity whose
// last escalation (or initial trigger) is at or before the cutoff.
func (r *AlertRepository) ListActiveBefore(ctx context.Context, severity string, cutoff time.Time, maxLevel int) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+alertColumns+`
FROM alerts
WHERE status = 'active' AND severity = $1
	AND COALESCE(last_escalated_at, triggered_at) <= $2
	AND escalation_level < $3
ORDER BY triggered_at ASC`, severity, cutoff, maxLevel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// ListFilter narrows List results. Zero values are ignored.
type ListFilter struct {
	DeviceID string
	Status   string
	Severity string
	From     time.Time
	To       time.Time
	Limit    int
}

// List returns alerts matching the filter, newest first.
func (r *AlertRepository) List(ctx context.Context, filter ListFilter) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	query := `
SELECT ` + alertColumns + `
FROM alerts
WHERE 1 = 1`
	var args []any
	if filter.DeviceID != "" {
		args = append(args, filter.DeviceID)
		query += fmt.Sprintf(" AND device_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Severity != "" {
		args = append(args, filter.Severity)
		query += fmt.Sprintf(" AND severity = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From.UTC())
		query += fmt.Sprintf(" AND triggered_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To.UTC())
		query += fmt.Sprintf(" AND triggered_at < $%d", len(args))
	}
	query += " ORDER BY triggered_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// StatusCount is one cell of the alert status breakdown.
type StatusCount struct {
	Status   string `json:"status"`
	Severity string `json:"severity"`
	Count    int    `json:"count"`
}

// CountByStatusSeverity aggregates alerts triggered at or after since.
func (r *AlertRepository) CountByStatusSeverity(ctx context.Context, since time.Time) ([]StatusCount, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT status, severity, COUNT(*)
FROM alerts
WHERE triggered_at >= $1
GROUP BY status, severity
ORDER BY status, severity`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []StatusCount
	for rows.Next() {
		var count StatusCount
		if err := rows.Scan(&count.Status, &count.Severity, &count.Count); err != nil {
			return nil, err
		}
		result = append(result, count)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func collectAlerts(rows *sql.Rows) ([]alerts.Alert, error) {
	var result []alerts.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type alertScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row alertScanner) (*alerts.Alert, error) {
	var alert alerts.Alert
	var value sql.NullFloat64
	var acknowledgedAt sql.NullTime
	var resolvedAt sql.NullTime
	var lastEscalatedAt sql.NullTime
	if err := row.Scan(
		&alert.ID,
		&alert.DeviceID,
		&alert.SensorID,
		&alert.SensorRuleID,
		&alert.LocationID,
		&alert.Severity,
		&alert.Message,
		&alert.Status,
		&value,
		&alert.TriggeredAt,
		&acknowledgedAt,
		&alert.AcknowledgedBy,
		&resolvedAt,
		&alert.ResolvedBy,
		&alert.EscalationLevel,
		&lastEscalatedAt,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	alert.TriggeredAt = alert.TriggeredAt.UTC()
	alert.CreatedAt = alert.CreatedAt.UTC()
	alert.UpdatedAt = alert.UpdatedAt.UTC()
	if value.Valid {
		alert.Value = value.Float64
	}
	if acknowledgedAt.Valid {
		alert.AcknowledgedAt = acknowledgedAt.Time.UTC()
	}
	if resolvedAt.Valid {
		alert.ResolvedAt = resolvedAt.Time.UTC()
	}
	if lastEscalatedAt.Valid {
		alert.LastEscalatedAt = lastEscalatedAt.Time.UTC()
	}
	return &alert, nil
}

func nullableTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value, Valid: true}
}
