package telemetry

import (
	"context"
	"errors"
	"time"
)

// Reading is one sensor sample reported by a device.
type Reading struct {
	DeviceID string
	SensorID string
	Value    float64
	At       time.Time
}

// Validate checks required fields.
func (r Reading) Validate() error {
	if r.DeviceID == "" {
		return errors.New("reading: missing device id")
	}
	if r.SensorID == "" {
		return errors.New("reading: missing sensor id")
	}
	if r.At.IsZero() {
		return errors.New("reading: missing timestamp")
	}
	return nil
}

// ReadingRepository persists sensor readings.
type ReadingRepository interface {
	InsertReadings(ctx context.Context, readings []Reading) error
	// ListRecent returns up to limit readings of one sensor strictly
	// older than before and no older than before minus window,
	// oldest first.
	ListRecent(ctx context.Context, deviceID, sensorID string, before time.Time, window time.Duration, limit int) ([]Reading, error)
}

// LatestCache holds the newest reading per (device, sensor).
type LatestCache interface {
	SetLatest(ctx context.Context, reading Reading) error
	Latest(ctx context.Context, deviceID string) ([]Reading, error)
}
