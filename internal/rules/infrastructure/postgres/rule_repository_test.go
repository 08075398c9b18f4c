package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rules "sensorfleet-cloud/internal/rules/domain"
)

func setupMockRuleDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *RuleRepository) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewRuleRepository(db)
}

var ruleTestColumns = []string{
	"id", "device_id", "sensor_id", "name", "config", "evaluation_window_minutes",
	"consecutive_violations_required", "cooldown_minutes", "enabled", "created_at", "updated_at",
}

func thresholdRule(id string) *rules.SensorRule {
	limit := 30.0
	return &rules.SensorRule{
		ID:       id,
		DeviceID: "dev-1",
		SensorID: "temp",
		Name:     "high temperature",
		Config: rules.RuleConfig{
			Conditions: []rules.Condition{{Kind: rules.KindThreshold, Operator: rules.OperatorGreater, Value: &limit}},
			Severity:   rules.SeverityHigh,
		},
		ConsecutiveViolationsRequired: 1,
		Enabled:                       true,
	}
}

func ruleRow(t *testing.T, rule *rules.SensorRule, at time.Time) *sqlmock.Rows {
	t.Helper()
	config, err := json.Marshal(rule.Config)
	require.NoError(t, err)
	return sqlmock.NewRows(ruleTestColumns).AddRow(
		rule.ID, rule.DeviceID, rule.SensorID, rule.Name, config, rule.EvaluationWindowMinutes,
		rule.ConsecutiveViolationsRequired, rule.CooldownMinutes, rule.Enabled, at, at,
	)
}

func TestRuleRepositoryCreate(t *testing.T) {
	db, mock, repo := setupMockRuleDB(t)
	defer db.Close()

	rule := thresholdRule("rule-1")
	mock.ExpectExec(`INSERT INTO sensor_rules`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Create(context.Background(), rule))
	assert.False(t, rule.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleRepositoryCreateRejectsInvalid(t *testing.T) {
	db, mock, repo := setupMockRuleDB(t)
	defer db.Close()

	rule := thresholdRule("rule-1")
	rule.Config.Conditions = nil

	err := repo.Create(context.Background(), rule)
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleRepositoryGetByID(t *testing.T) {
	db, mock, repo := setupMockRuleDB(t)
	defer db.Close()

	at := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	rule := thresholdRule("rule-1")
	mock.ExpectQuery(`FROM sensor_rules`).
		WithArgs("rule-1").
		WillReturnRows(ruleRow(t, rule, at))

	loaded, err := repo.GetByID(context.Background(), "rule-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "dev-1", loaded.DeviceID)
	require.Len(t, loaded.Config.Conditions, 1)
	assert.Equal(t, rules.KindThreshold, loaded.Config.Conditions[0].Kind)
	require.NotNil(t, loaded.Config.Conditions[0].Value)
	assert.Equal(t, 30.0, *loaded.Config.Conditions[0].Value)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleRepositoryGetByIDNotFound(t *testing.T) {
	db, mock, repo := setupMockRuleDB(t)
	defer db.Close()

	mock.ExpectQuery(`FROM sensor_rules`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	loaded, err := repo.GetByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, loaded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleRepositoryListEnabledForSensor(t *testing.T) {
	db, mock, repo := setupMockRuleDB(t)
	defer db.Close()

	at := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	first := thresholdRule("rule-1")
	second := thresholdRule("rule-2")
	config, err := json.Marshal(second.Config)
	require.NoError(t, err)
	rows := ruleRow(t, first, at).AddRow(
		second.ID, second.DeviceID, second.SensorID, second.Name, config, 0, 1, 0, true, at.Add(time.Minute), at.Add(time.Minute),
	)

	mock.ExpectQuery(`enabled = TRUE`).
		WithArgs("dev-1", "temp").
		WillReturnRows(rows)

	list, err := repo.ListEnabledForSensor(context.Background(), "dev-1", "temp")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "rule-1", list[0].ID)
	assert.Equal(t, "rule-2", list[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleRepositoryUpdateNotFound(t *testing.T) {
	db, mock, repo := setupMockRuleDB(t)
	defer db.Close()

	rule := thresholdRule("missing")
	mock.ExpectExec(`UPDATE sensor_rules`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), rule)
	assert.ErrorIs(t, err, rules.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleRepositorySetEnabled(t *testing.T) {
	db, mock, repo := setupMockRuleDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE sensor_rules`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetEnabled(context.Background(), "rule-1", false))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleRepositorySetEnabledNotFound(t *testing.T) {
	db, mock, repo := setupMockRuleDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE sensor_rules`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetEnabled(context.Background(), "missing", false)
	assert.ErrorIs(t, err, rules.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
