package application

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"sensorfleet-cloud/internal/eventing"
	"sensorfleet-cloud/internal/telemetry/application/events"
	telemetry "sensorfleet-cloud/internal/telemetry/domain"
)

// EventPublisher publishes telemetry events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// IngestService stores incoming readings and fans them out.
type IngestService struct {
	readings  telemetry.ReadingRepository
	cache     telemetry.LatestCache
	publisher EventPublisher
	logger    zerolog.Logger
}

// NewIngestService constructs an ingest service. The latest cache is
// optional.
func NewIngestService(readings telemetry.ReadingRepository, cache telemetry.LatestCache, publisher EventPublisher, logger zerolog.Logger) (*IngestService, error) {
	if readings == nil {
		return nil, errors.New("telemetry ingest: nil repository")
	}
	if publisher == nil {
		return nil, errors.New("telemetry ingest: nil publisher")
	}
	return &IngestService{
		readings:  readings,
		cache:     cache,
		publisher: publisher,
		logger:    logger.With().Str("component", "telemetry-ingest").Logger(),
	}, nil
}

// Ingest validates and persists a batch of readings, refreshes the
// latest cache and publishes one ReadingReceived per device. The stored
// rows are the source of truth: cache and publish failures are logged
// but do not fail the batch.
func (s *IngestService) Ingest(ctx context.Context, batch []telemetry.Reading) (int, error) {
	if s == nil {
		return 0, errors.New("telemetry ingest: nil service")
	}
	if len(batch) == 0 {
		return 0, errors.New("telemetry ingest: empty batch")
	}
	for i := range batch {
		if err := batch[i].Validate(); err != nil {
			return 0, err
		}
		batch[i].At = batch[i].At.UTC()
	}

	if err := s.readings.InsertReadings(ctx, batch); err != nil {
		return 0, err
	}

	if s.cache != nil {
		for _, reading := range newestPerSensor(batch) {
			if err := s.cache.SetLatest(ctx, reading); err != nil {
				s.logger.Warn().Err(err).
					Str("device_id", reading.DeviceID).
					Str("sensor_id", reading.SensorID).
					Msg("latest cache update failed")
			}
		}
	}

	now := time.Now().UTC()
	for deviceID, samples := range groupByDevice(batch) {
		event := events.ReadingReceived{
			EventID:    eventing.NewEventID(),
			DeviceID:   deviceID,
			Readings:   samples,
			OccurredAt: now,
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn().Err(err).
				Str("device_id", deviceID).
				Msg("reading event publish failed")
		}
	}
	return len(batch), nil
}

// newestPerSensor keeps only the most recent reading for each
// (device, sensor) of the batch.
func newestPerSensor(batch []telemetry.Reading) []telemetry.Reading {
	latest := make(map[string]telemetry.Reading)
	for _, reading := range batch {
		key := reading.DeviceID + "|" + reading.SensorID
		if existing, ok := latest[key]; !ok || reading.At.After(existing.At) {
			latest[key] = reading
		}
	}
	result := make([]telemetry.Reading, 0, len(latest))
	for _, reading := range latest {
		result = append(result, reading)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].DeviceID != result[j].DeviceID {
			return result[i].DeviceID < result[j].DeviceID
		}
		return result[i].SensorID < result[j].SensorID
	})
	return result
}

func groupByDevice(batch []telemetry.Reading) map[string][]events.ReadingSample {
	grouped := make(map[string][]events.ReadingSample)
	for _, reading := range batch {
		grouped[reading.DeviceID] = append(grouped[reading.DeviceID], events.ReadingSample{
			SensorID: reading.SensorID,
			Value:    reading.Value,
			At:       reading.At,
		})
	}
	return grouped
}
