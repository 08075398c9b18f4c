package realtime

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DeliveryConfig tunes per-session event delivery.
type DeliveryConfig struct {
	SessionQueueSize int `yaml:"session_queue_size"`
}

// Validate checks the tunables.
func (c DeliveryConfig) Validate() error {
	if c.SessionQueueSize <= 0 {
		return fmt.Errorf("realtime: session queue size must be positive")
	}
	return nil
}

// LoadDeliveryConfig loads delivery tunables from the engine config
// file (realtime section) with env overrides layered on top.
func LoadDeliveryConfig() (DeliveryConfig, error) {
	cfg := DeliveryConfig{SessionQueueSize: defaultSessionQueue}

	if path := os.Getenv("ENGINE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		wrapper := struct {
			Realtime DeliveryConfig `yaml:"realtime"`
		}{Realtime: cfg}
		if err := yaml.Unmarshal(data, &wrapper); err != nil {
			return cfg, err
		}
		cfg = wrapper.Realtime
	}

	if value := os.Getenv("WS_QUEUE_SIZE"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil && parsed > 0 {
			cfg.SessionQueueSize = parsed
		}
	}
	return cfg, cfg.Validate()
}
