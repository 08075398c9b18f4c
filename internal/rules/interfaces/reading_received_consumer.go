package interfaces

import (
	"context"
	"errors"
	"time"

	"sensorfleet-cloud/internal/observability/metrics"
	ruleapp "sensorfleet-cloud/internal/rules/application"
	telemetryevents "sensorfleet-cloud/internal/telemetry/application/events"
)

// ReadingReceivedConsumer feeds ingested readings into rule evaluation.
type ReadingReceivedConsumer struct {
	engine *ruleapp.Service
}

// NewReadingReceivedConsumer constructs a consumer.
func NewReadingReceivedConsumer(engine *ruleapp.Service) (*ReadingReceivedConsumer, error) {
	if engine == nil {
		return nil, errors.New("rules consumer: nil engine")
	}
	return &ReadingReceivedConsumer{engine: engine}, nil
}

// Consume evaluates every sample of a reading event. A failing sample
// does not stop the remaining samples.
func (c *ReadingReceivedConsumer) Consume(ctx context.Context, event telemetryevents.ReadingReceived) error {
	if !event.OccurredAt.IsZero() {
		metrics.ObserveConsumerLag("rules", time.Since(event.OccurredAt))
	}

	var firstErr error
	for _, sample := range event.Readings {
		if err := c.engine.HandleReading(ctx, event.DeviceID, sample.SensorID, sample.Value, sample.At); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
