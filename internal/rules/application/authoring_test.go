package application

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	rules "sensorfleet-cloud/internal/rules/domain"
)

type stubRuleStore struct {
	byID    map[string]*rules.SensorRule
	created []*rules.SensorRule
	updated []*rules.SensorRule
	enabled map[string]bool
	err     error
}

func newStubRuleStore() *stubRuleStore {
	return &stubRuleStore{byID: make(map[string]*rules.SensorRule), enabled: make(map[string]bool)}
}

func (s *stubRuleStore) Create(_ context.Context, rule *rules.SensorRule) error {
	if s.err != nil {
		return s.err
	}
	copied := *rule
	s.created = append(s.created, &copied)
	s.byID[rule.ID] = &copied
	return nil
}

func (s *stubRuleStore) Update(_ context.Context, rule *rules.SensorRule) error {
	if s.err != nil {
		return s.err
	}
	copied := *rule
	s.updated = append(s.updated, &copied)
	s.byID[rule.ID] = &copied
	return nil
}

func (s *stubRuleStore) GetByID(_ context.Context, id string) (*rules.SensorRule, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.byID[id], nil
}

func (s *stubRuleStore) List(_ context.Context, _ string) ([]rules.SensorRule, error) {
	return nil, s.err
}

func (s *stubRuleStore) SetEnabled(_ context.Context, id string, enabled bool) error {
	if s.err != nil {
		return s.err
	}
	s.enabled[id] = enabled
	if rule := s.byID[id]; rule != nil {
		rule.Enabled = enabled
	}
	return nil
}

type stubInvalidator struct {
	keys []string
}

func (s *stubInvalidator) InvalidateRule(deviceID, sensorID, ruleID string) {
	s.keys = append(s.keys, deviceID+"|"+sensorID+"|"+ruleID)
}

func validRule(id string) *rules.SensorRule {
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

func newTestAuthoring(t *testing.T, store *stubRuleStore, invalidator *stubInvalidator) *AuthoringService {
	t.Helper()
	service, err := NewAuthoringService(store, invalidator, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewAuthoringService: %v", err)
	}
	return service
}

func TestAuthoringCreateFillsDefaults(t *testing.T) {
	store := newStubRuleStore()
	service := newTestAuthoring(t, store, nil)

	rule := validRule("")
	rule.ConsecutiveViolationsRequired = 0
	rule.Config.Logic = ""

	if err := service.Create(context.Background(), rule); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rule.ID == "" {
		t.Fatal("expected generated rule id")
	}
	if rule.ConsecutiveViolationsRequired != 1 {
		t.Fatalf("expected default consecutive violations 1, got %d", rule.ConsecutiveViolationsRequired)
	}
	if rule.Config.Logic != rules.LogicOr {
		t.Fatalf("expected normalized logic or, got %q", rule.Config.Logic)
	}
	if len(store.created) != 1 {
		t.Fatalf("expected one stored rule, got %d", len(store.created))
	}
}

func TestAuthoringCreateRejectsInvalidConfig(t *testing.T) {
	store := newStubRuleStore()
	service := newTestAuthoring(t, store, nil)

	rule := validRule("rule-1")
	rule.Config.Severity = "extreme"

	if err := service.Create(context.Background(), rule); err == nil {
		t.Fatal("expected validation error")
	}
	if len(store.created) != 0 {
		t.Fatal("invalid rule must not be stored")
	}
}

func TestAuthoringUpdateInvalidatesState(t *testing.T) {
	store := newStubRuleStore()
	invalidator := &stubInvalidator{}
	service := newTestAuthoring(t, store, invalidator)

	existing := validRule("rule-1")
	store.byID["rule-1"] = existing

	updated := validRule("rule-1")
	updated.Name = "renamed"
	if err := service.Update(context.Background(), updated); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(invalidator.keys) != 1 || invalidator.keys[0] != "dev-1|temp|rule-1" {
		t.Fatalf("expected state invalidation for dev-1|temp|rule-1, got %v", invalidator.keys)
	}
}

func TestAuthoringUpdateRebindInvalidatesBothKeys(t *testing.T) {
	store := newStubRuleStore()
	invalidator := &stubInvalidator{}
	service := newTestAuthoring(t, store, invalidator)

	existing := validRule("rule-1")
	store.byID["rule-1"] = existing

	moved := validRule("rule-1")
	moved.DeviceID = "dev-2"
	if err := service.Update(context.Background(), moved); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(invalidator.keys) != 2 {
		t.Fatalf("expected invalidation of old and new key, got %v", invalidator.keys)
	}
}

func TestAuthoringUpdateUnknownRule(t *testing.T) {
	store := newStubRuleStore()
	service := newTestAuthoring(t, store, nil)

	err := service.Update(context.Background(), validRule("missing"))
	if !errors.Is(err, rules.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAuthoringDisable(t *testing.T) {
	store := newStubRuleStore()
	invalidator := &stubInvalidator{}
	service := newTestAuthoring(t, store, invalidator)

	store.byID["rule-1"] = validRule("rule-1")

	if err := service.Disable(context.Background(), "rule-1"); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if enabled, ok := store.enabled["rule-1"]; !ok || enabled {
		t.Fatal("expected rule soft-disabled")
	}
	if len(invalidator.keys) != 1 {
		t.Fatalf("expected one invalidation, got %v", invalidator.keys)
	}

	// Disabling an already disabled rule is a no-op.
	if err := service.Disable(context.Background(), "rule-1"); err != nil {
		t.Fatalf("second Disable: %v", err)
	}
	if len(invalidator.keys) != 1 {
		t.Fatalf("no-op disable must not invalidate again, got %v", invalidator.keys)
	}
}

func TestAuthoringTestVerdict(t *testing.T) {
	store := newStubRuleStore()
	service := newTestAuthoring(t, store, nil)

	limit := 30.0
	cfg := rules.RuleConfig{
		Conditions: []rules.Condition{{Kind: rules.KindThreshold, Operator: rules.OperatorGreater, Value: &limit}},
		Severity:   rules.SeverityLow,
	}

	verdict, err := service.Test(cfg, 35, nil)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if !verdict.Triggered || len(verdict.Matched) != 1 {
		t.Fatalf("expected triggered verdict with one matched condition, got %+v", verdict)
	}

	verdict, err = service.Test(cfg, 25, nil)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if verdict.Triggered {
		t.Fatalf("expected not triggered, got %+v", verdict)
	}
}

func TestAuthoringTestRejectsInvalidConfig(t *testing.T) {
	store := newStubRuleStore()
	service := newTestAuthoring(t, store, nil)

	if _, err := service.Test(rules.RuleConfig{}, 1, nil); err == nil {
		t.Fatal("expected validation error for empty config")
	}
}
