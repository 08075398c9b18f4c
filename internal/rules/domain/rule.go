package rules

import (
	"errors"
	"fmt"
	"time"
)

// Logic combines the per-condition outcomes of a rule.
type Logic string

const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
)

// Normalize maps an absent or unrecognized logic value to LogicOr. OR is
// the intentional default: a rule without an explicit logic triggers as
// soon as any one of its conditions matches.
func (l Logic) Normalize() Logic {
	if l == LogicAnd {
		return LogicAnd
	}
	return LogicOr
}

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// ValidSeverity returns true when the severity is one of the known levels.
func ValidSeverity(severity string) bool {
	switch severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// RuleConfig is the evaluated portion of a sensor rule: an ordered list of
// condition clauses combined under a logic operator.
type RuleConfig struct {
	Conditions      []Condition `json:"conditions"`
	Logic           Logic       `json:"logic,omitempty"`
	Severity        string      `json:"severity"`
	MessageTemplate string      `json:"message_template,omitempty"`
}

// Validate checks the config and every clause in it.
func (c RuleConfig) Validate() error {
	if len(c.Conditions) == 0 {
		return errors.New("rule config: at least one condition required")
	}
	if !ValidSeverity(c.Severity) {
		return fmt.Errorf("rule config: invalid severity %q", c.Severity)
	}
	for i, cond := range c.Conditions {
		if err := cond.Validate(); err != nil {
			return fmt.Errorf("rule config: condition %d: %w", i, err)
		}
	}
	return nil
}

// UsesExactEquality reports whether any clause compares floats with == or
// !=. Authoring surfaces use it to warn about exact comparisons on
// continuous sensor values.
func (c RuleConfig) UsesExactEquality() bool {
	for _, cond := range c.Conditions {
		if cond.Kind == KindThreshold && cond.Operator.ExactEquality() {
			return true
		}
	}
	return false
}

// SensorRule binds a rule configuration to one sensor of one device.
type SensorRule struct {
	ID                            string     `json:"id"`
	DeviceID                      string     `json:"device_id"`
	SensorID                      string     `json:"sensor_id"`
	Name                          string     `json:"name"`
	Config                        RuleConfig `json:"config"`
	EvaluationWindowMinutes       int        `json:"evaluation_window_minutes"`
	ConsecutiveViolationsRequired int        `json:"consecutive_violations_required"`
	CooldownMinutes               int        `json:"cooldown_minutes"`
	Enabled                       bool       `json:"enabled"`
	CreatedAt                     time.Time  `json:"created_at"`
	UpdatedAt                     time.Time  `json:"updated_at"`
}

// Validate checks rule invariants.
func (r SensorRule) Validate() error {
	if r.ID == "" {
		return errors.New("sensor rule: empty id")
	}
	if r.DeviceID == "" {
		return errors.New("sensor rule: empty device id")
	}
	if r.SensorID == "" {
		return errors.New("sensor rule: empty sensor id")
	}
	if r.Name == "" {
		return errors.New("sensor rule: empty name")
	}
	if r.ConsecutiveViolationsRequired < 1 {
		return errors.New("sensor rule: consecutive violations required must be at least 1")
	}
	if r.CooldownMinutes < 0 {
		return errors.New("sensor rule: cooldown minutes must not be negative")
	}
	if r.EvaluationWindowMinutes < 0 {
		return errors.New("sensor rule: evaluation window minutes must not be negative")
	}
	return r.Config.Validate()
}

// StateKey identifies the debounce state slot for this rule.
func (r SensorRule) StateKey() string {
	return r.DeviceID + "|" + r.SensorID + "|" + r.ID
}

// CooldownDuration returns the cooldown as a duration.
func (r SensorRule) CooldownDuration() time.Duration {
	return time.Duration(r.CooldownMinutes) * time.Minute
}

// EvaluationWindow returns the history window as a duration. Zero means
// the window is unbounded and only the history depth limits lookback.
func (r SensorRule) EvaluationWindow() time.Duration {
	return time.Duration(r.EvaluationWindowMinutes) * time.Minute
}
