package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rules "sensorfleet-cloud/internal/rules/domain"
)

const defaultRulesTable = "sensor_rules"

// RuleRepository is a Postgres repository for sensor rules. The rule
// config is stored as JSONB.
type RuleRepository struct {
	db    *sql.DB
	table string
}

// NewRuleRepository constructs a repository.
func NewRuleRepository(db *sql.DB, opts ...RuleOption) *RuleRepository {
	repo := &RuleRepository{db: db, table: defaultRulesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// RuleOption configures the repository.
type RuleOption func(*RuleRepository)

// WithRuleTable overrides the default table name.
func WithRuleTable(table string) RuleOption {
	return func(repo *RuleRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

const ruleColumns = `id, device_id, sensor_id, name, config, evaluation_window_minutes,
	consecutive_violations_required, cooldown_minutes, enabled, created_at, updated_at`

// Create inserts a sensor rule.
func (r *RuleRepository) Create(ctx context.Context, rule *rules.SensorRule) error {
	if r == nil || r.db == nil {
		return errors.New("rule repo: nil db")
	}
	if rule == nil {
		return errors.New("rule repo: nil rule")
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	config, err := json.Marshal(rule.Config)
	if err != nil {
		return err
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = rule.CreatedAt
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id, device_id, sensor_id, name, config, evaluation_window_minutes,
	consecutive_violations_required, cooldown_minutes, enabled, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6,
	$7, $8, $9, $10, $11
)`, r.table)

	_, err = r.db.ExecContext(ctx, query,
		rule.ID, rule.DeviceID, rule.SensorID, rule.Name, config, rule.EvaluationWindowMinutes,
		rule.ConsecutiveViolationsRequired, rule.CooldownMinutes, rule.Enabled,
		rule.CreatedAt, rule.UpdatedAt)
	return err
}

// Update rewrites a sensor rule.
func (r *RuleRepository) Update(ctx context.Context, rule *rules.SensorRule) error {
	if r == nil || r.db == nil {
		return errors.New("rule repo: nil db")
	}
	if rule == nil {
		return errors.New("rule repo: nil rule")
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	config, err := json.Marshal(rule.Config)
	if err != nil {
		return err
	}
	rule.UpdatedAt = time.Now().UTC()

	query := fmt.Sprintf(`
UPDATE %s
SET device_id = $2,
	sensor_id = $3,
	name = $4,
	config = $5,
	evaluation_window_minutes = $6,
	consecutive_violations_required = $7,
	cooldown_minutes = $8,
	enabled = $9,
	updated_at = $10
WHERE id = $1`, r.table)

	result, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.DeviceID, rule.SensorID, rule.Name, config, rule.EvaluationWindowMinutes,
		rule.ConsecutiveViolationsRequired, rule.CooldownMinutes, rule.Enabled, rule.UpdatedAt)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return rules.ErrNotFound
	}
	return nil
}

// SetEnabled flips the enabled flag. Rules are soft-disabled, never
// removed, so closed alerts keep a valid rule reference.
func (r *RuleRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	if r == nil || r.db == nil {
		return errors.New("rule repo: nil db")
	}
	if id == "" {
		return errors.New("rule repo: empty id")
	}

	query := fmt.Sprintf(`
UPDATE %s
SET enabled = $2, updated_at = $3
WHERE id = $1`, r.table)

	result, err := r.db.ExecContext(ctx, query, id, enabled, time.Now().UTC())
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return rules.ErrNotFound
	}
	return nil
}

// GetByID loads a rule by id.
func (r *RuleRepository) GetByID(ctx context.Context, id string) (*rules.SensorRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rule repo: nil db")
	}
	if id == "" {
		return nil, errors.New("rule repo: empty id")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE id = $1
LIMIT 1`, ruleColumns, r.table)

	rule, err := scanRule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rule, nil
}

// List returns rules, optionally filtered by device.
func (r *RuleRepository) List(ctx context.Context, deviceID string) ([]rules.SensorRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rule repo: nil db")
	}

	var (
		rows *sql.Rows
		err  error
	)
	if deviceID == "" {
		query := fmt.Sprintf(`
SELECT %s
FROM %s
ORDER BY device_id ASC, sensor_id ASC, created_at ASC`, ruleColumns, r.table)
		rows, err = r.db.QueryContext(ctx, query)
	} else {
		query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE device_id = $1
ORDER BY sensor_id ASC, created_at ASC`, ruleColumns, r.table)
		rows, err = r.db.QueryContext(ctx, query, deviceID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRules(rows)
}

// ListEnabledForSensor returns the enabled rules bound to one sensor,
// oldest first.
func (r *RuleRepository) ListEnabledForSensor(ctx context.Context, deviceID, sensorID string) ([]rules.SensorRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rule repo: nil db")
	}
	if deviceID == "" || sensorID == "" {
		return nil, errors.New("rule repo: invalid query")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE device_id = $1 AND sensor_id = $2 AND enabled = TRUE
ORDER BY created_at ASC`, ruleColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query, deviceID, sensorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRules(rows)
}

type ruleScanner interface {
	Scan(dest ...any) error
}

func scanRule(scanner ruleScanner) (*rules.SensorRule, error) {
	var rule rules.SensorRule
	var config []byte
	if err := scanner.Scan(
		&rule.ID,
		&rule.DeviceID,
		&rule.SensorID,
		&rule.Name,
		&config,
		&rule.EvaluationWindowMinutes,
		&rule.ConsecutiveViolationsRequired,
		&rule.CooldownMinutes,
		&rule.Enabled,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(config, &rule.Config); err != nil {
		return nil, fmt.Errorf("rule repo: decode config: %w", err)
	}
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	return &rule, nil
}

func collectRules(rows *sql.Rows) ([]rules.SensorRule, error) {
	var result []rules.SensorRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

