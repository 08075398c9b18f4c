package application

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EscalationLevel pairs a severity with how long an alert may stay
// active before it gets escalated.
type EscalationLevel struct {
	Severity     string `yaml:"severity"`
	AfterMinutes int    `yaml:"after_minutes"`
}

// After returns the attention window as a duration.
func (l EscalationLevel) After() time.Duration {
	return time.Duration(l.AfterMinutes) * time.Minute
}

// EscalationConfig defines the escalation policy.
type EscalationConfig struct {
	Levels          []EscalationLevel `yaml:"levels"`
	IntervalSeconds int               `yaml:"interval_seconds"`
	MaxEscalations  int               `yaml:"max_escalations"`
}

// Interval returns how often the escalator scans.
func (c EscalationConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Validate checks the policy for holes.
func (c EscalationConfig) Validate() error {
	if len(c.Levels) == 0 {
		return fmt.Errorf("escalation: no levels configured")
	}
	for _, level := range c.Levels {
		if _, ok := severityLadder[level.Severity]; !ok {
			return fmt.Errorf("escalation: unknown severity %q", level.Severity)
		}
		if level.AfterMinutes <= 0 {
			return fmt.Errorf("escalation: severity %q needs a positive window", level.Severity)
		}
	}
	if c.IntervalSeconds <= 0 {
		return fmt.Errorf("escalation: interval must be positive")
	}
	if c.MaxEscalations <= 0 {
		return fmt.Errorf("escalation: max escalations must be positive")
	}
	return nil
}

// LoadEscalationConfig loads the escalation policy from the engine
// config file (escalation section) with env overrides layered on top.
func LoadEscalationConfig() (EscalationConfig, error) {
	cfg := EscalationConfig{
		Levels: []EscalationLevel{
			{Severity: "critical", AfterMinutes: 5},
			{Severity: "high", AfterMinutes: 15},
			{Severity: "medium", AfterMinutes: 30},
			{Severity: "low", AfterMinutes: 60},
		},
		IntervalSeconds: 60,
		MaxEscalations:  3,
	}

	if path := os.Getenv("ENGINE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		wrapper := struct {
			Escalation EscalationConfig `yaml:"escalation"`
		}{Escalation: cfg}
		if err := yaml.Unmarshal(data, &wrapper); err != nil {
			return cfg, err
		}
		cfg = wrapper.Escalation
	}

	if value := os.Getenv("ESCALATION_INTERVAL_SECONDS"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil && parsed > 0 {
			cfg.IntervalSeconds = parsed
		}
	}
	if value := os.Getenv("ESCALATION_MAX"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil && parsed > 0 {
			cfg.MaxEscalations = parsed
		}
	}
	return cfg, cfg.Validate()
}
