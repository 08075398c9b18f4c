package application

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	rules "sensorfleet-cloud/internal/rules/domain"
)

// RuleStore persists sensor rules.
type RuleStore interface {
	Create(ctx context.Context, rule *rules.SensorRule) error
	Update(ctx context.Context, rule *rules.SensorRule) error
	GetByID(ctx context.Context, id string) (*rules.SensorRule, error)
	List(ctx context.Context, deviceID string) ([]rules.SensorRule, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
}

// Invalidator drops live evaluation state for a rule.
type Invalidator interface {
	InvalidateRule(deviceID, sensorID, ruleID string)
}

// AuthoringService manages the rule catalog. Every change that affects
// a live rule also invalidates its debounce state.
type AuthoringService struct {
	store       RuleStore
	invalidator Invalidator
	logger      zerolog.Logger
}

// NewAuthoringService constructs the service. The invalidator is
// optional.
func NewAuthoringService(store RuleStore, invalidator Invalidator, logger zerolog.Logger) (*AuthoringService, error) {
	if store == nil {
		return nil, errors.New("rule authoring: nil store")
	}
	return &AuthoringService{
		store:       store,
		invalidator: invalidator,
		logger:      logger.With().Str("component", "rule-authoring").Logger(),
	}, nil
}

// Create validates and stores a new rule.
func (s *AuthoringService) Create(ctx context.Context, rule *rules.SensorRule) error {
	if s == nil {
		return errors.New("rule authoring: nil service")
	}
	if rule == nil {
		return errors.New("rule authoring: nil rule")
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.ConsecutiveViolationsRequired == 0 {
		rule.ConsecutiveViolationsRequired = 1
	}
	rule.Config.Logic = rule.Config.Logic.Normalize()
	if err := rule.Validate(); err != nil {
		return err
	}
	s.warnExactEquality(rule)
	return s.store.Create(ctx, rule)
}

// Update rewrites an existing rule and drops its evaluation state.
func (s *AuthoringService) Update(ctx context.Context, rule *rules.SensorRule) error {
	if s == nil {
		return errors.New("rule authoring: nil service")
	}
	if rule == nil || rule.ID == "" {
		return errors.New("rule authoring: missing rule id")
	}
	existing, err := s.store.GetByID(ctx, rule.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return rules.ErrNotFound
	}
	if rule.ConsecutiveViolationsRequired == 0 {
		rule.ConsecutiveViolationsRequired = 1
	}
	rule.Config.Logic = rule.Config.Logic.Normalize()
	rule.CreatedAt = existing.CreatedAt
	if err := rule.Validate(); err != nil {
		return err
	}
	s.warnExactEquality(rule)
	if err := s.store.Update(ctx, rule); err != nil {
		return err
	}
	s.invalidate(existing)
	if existing.DeviceID != rule.DeviceID || existing.SensorID != rule.SensorID {
		s.invalidate(rule)
	}
	return nil
}

// Disable soft-disables a rule and drops its evaluation state.
func (s *AuthoringService) Disable(ctx context.Context, id string) error {
	return s.setEnabled(ctx, id, false)
}

// Enable re-enables a rule. Evaluation state starts cold.
func (s *AuthoringService) Enable(ctx context.Context, id string) error {
	return s.setEnabled(ctx, id, true)
}

func (s *AuthoringService) setEnabled(ctx context.Context, id string, enabled bool) error {
	if s == nil {
		return errors.New("rule authoring: nil service")
	}
	if id == "" {
		return errors.New("rule authoring: missing rule id")
	}
	existing, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return rules.ErrNotFound
	}
	if existing.Enabled == enabled {
		return nil
	}
	if err := s.store.SetEnabled(ctx, id, enabled); err != nil {
		return err
	}
	s.invalidate(existing)
	s.logger.Info().
		Str("rule_id", id).
		Bool("enabled", enabled).
		Msg("rule enabled flag changed")
	return nil
}

// Get loads one rule.
func (s *AuthoringService) Get(ctx context.Context, id string) (*rules.SensorRule, error) {
	if s == nil {
		return nil, errors.New("rule authoring: nil service")
	}
	rule, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, rules.ErrNotFound
	}
	return rule, nil
}

// List returns rules, optionally filtered by device.
func (s *AuthoringService) List(ctx context.Context, deviceID string) ([]rules.SensorRule, error) {
	if s == nil {
		return nil, errors.New("rule authoring: nil service")
	}
	return s.store.List(ctx, deviceID)
}

// Test evaluates a candidate config against a sample value and history
// without persisting anything.
func (s *AuthoringService) Test(cfg rules.RuleConfig, value float64, history []float64) (Verdict, error) {
	if err := cfg.Validate(); err != nil {
		return Verdict{}, err
	}
	return EvaluateRule(cfg, value, history), nil
}

func (s *AuthoringService) invalidate(rule *rules.SensorRule) {
	if s.invalidator == nil || rule == nil {
		return
	}
	s.invalidator.InvalidateRule(rule.DeviceID, rule.SensorID, rule.ID)
}

// warnExactEquality flags == and != comparisons on continuous sensor
// values, which almost never match in practice.
func (s *AuthoringService) warnExactEquality(rule *rules.SensorRule) {
	if !rule.Config.UsesExactEquality() {
		return
	}
	s.logger.Warn().
		Str("rule_id", rule.ID).
		Str("device_id", rule.DeviceID).
		Str("sensor_id", rule.SensorID).
		Msg("rule uses exact float equality, consider a range condition")
}
