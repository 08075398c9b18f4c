package events

import "time"

// ReadingSample is one normalized sensor sample.
type ReadingSample struct {
	SensorID string    `json:"sensor_id"`
	Value    float64   `json:"value"`
	At       time.Time `json:"at"`
}

// ReadingReceived is raised after a device's readings are stored.
type ReadingReceived struct {
	EventID    string          `json:"event_id"`
	DeviceID   string          `json:"device_id"`
	Readings   []ReadingSample `json:"readings"`
	OccurredAt time.Time       `json:"occurred_at"`
}
