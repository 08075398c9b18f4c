package application

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	rules "sensorfleet-cloud/internal/rules/domain"
)

// EvaluationConfig tunes the reading evaluation pipeline.
type EvaluationConfig struct {
	TrackerShards          int `yaml:"tracker_shards"`
	HistoryDepth           int `yaml:"history_depth"`
	DispatchTimeoutSeconds int `yaml:"dispatch_timeout_seconds"`
}

// DispatchTimeout returns the alert dispatch bound as a duration.
func (c EvaluationConfig) DispatchTimeout() time.Duration {
	return time.Duration(c.DispatchTimeoutSeconds) * time.Second
}

// Validate checks the tunables for nonsense values.
func (c EvaluationConfig) Validate() error {
	if c.TrackerShards <= 0 {
		return fmt.Errorf("evaluation: tracker shards must be positive")
	}
	if c.HistoryDepth <= 0 {
		return fmt.Errorf("evaluation: history depth must be positive")
	}
	if c.DispatchTimeoutSeconds <= 0 {
		return fmt.Errorf("evaluation: dispatch timeout must be positive")
	}
	return nil
}

// LoadEvaluationConfig loads pipeline tunables from the engine config
// file (evaluation section) with env overrides layered on top.
func LoadEvaluationConfig() (EvaluationConfig, error) {
	cfg := EvaluationConfig{
		TrackerShards:          defaultTrackerShards,
		HistoryDepth:           rules.DefaultHistoryDepth,
		DispatchTimeoutSeconds: int(defaultDispatchTimeout / time.Second),
	}

	if path := os.Getenv("ENGINE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		wrapper := struct {
			Evaluation EvaluationConfig `yaml:"evaluation"`
		}{Evaluation: cfg}
		if err := yaml.Unmarshal(data, &wrapper); err != nil {
			return cfg, err
		}
		cfg = wrapper.Evaluation
	}

	if value := os.Getenv("TRACKER_SHARDS"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil && parsed > 0 {
			cfg.TrackerShards = parsed
		}
	}
	if value := os.Getenv("HISTORY_DEPTH"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil && parsed > 0 {
			cfg.HistoryDepth = parsed
		}
	}
	if value := os.Getenv("DISPATCH_TIMEOUT_SECONDS"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil && parsed > 0 {
			cfg.DispatchTimeoutSeconds = parsed
		}
	}
	return cfg, cfg.Validate()
}
