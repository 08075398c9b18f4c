package telemetry

import (
	"context"
	"errors"
	"time"

	rules "sensorfleet-cloud/internal/rules/domain"
	telemetry "sensorfleet-cloud/internal/telemetry/domain"
)

// ReadingSource loads persisted readings.
type ReadingSource interface {
	ListRecent(ctx context.Context, deviceID, sensorID string, before time.Time, window time.Duration, limit int) ([]telemetry.Reading, error)
}

// HistoryReader adapts stored readings into evaluation samples, used to
// reseed in-memory history after a restart.
type HistoryReader struct {
	source ReadingSource
}

// NewHistoryReader constructs a reader.
func NewHistoryReader(source ReadingSource) (*HistoryReader, error) {
	if source == nil {
		return nil, errors.New("history reader: nil source")
	}
	return &HistoryReader{source: source}, nil
}

// ListRecent returns samples strictly older than before, oldest first.
func (r *HistoryReader) ListRecent(ctx context.Context, deviceID, sensorID string, before time.Time, window time.Duration, limit int) ([]rules.Sample, error) {
	readings, err := r.source.ListRecent(ctx, deviceID, sensorID, before, window, limit)
	if err != nil {
		return nil, err
	}
	samples := make([]rules.Sample, 0, len(readings))
	for _, reading := range readings {
		samples = append(samples, rules.Sample{At: reading.At, Value: reading.Value})
	}
	return samples, nil
}
