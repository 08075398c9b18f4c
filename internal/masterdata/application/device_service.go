package application

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	mdevents "sensorfleet-cloud/internal/masterdata/application/events"
	masterdata "sensorfleet-cloud/internal/masterdata/domain"
)

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// DeviceService provides device commands and queries.
type DeviceService struct {
	devices   masterdata.DeviceRepository
	publisher EventPublisher
	logger    zerolog.Logger
}

// NewDeviceService constructs a device service.
func NewDeviceService(devices masterdata.DeviceRepository, publisher EventPublisher, logger zerolog.Logger) (*DeviceService, error) {
	if devices == nil {
		return nil, errors.New("device service: nil repository")
	}
	return &DeviceService{
		devices:   devices,
		publisher: publisher,
		logger:    logger.With().Str("component", "device-service").Logger(),
	}, nil
}

// Upsert validates and saves a device.
func (s *DeviceService) Upsert(ctx context.Context, device *masterdata.Device) error {
	if device == nil {
		return errors.New("device service: nil device")
	}
	if err := device.Validate(); err != nil {
		return err
	}
	return s.devices.Save(ctx, device)
}

// Get loads one device.
func (s *DeviceService) Get(ctx context.Context, id string) (*masterdata.Device, error) {
	device, err := s.devices.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, masterdata.ErrNotFound
	}
	return device, nil
}

// List loads devices, optionally filtered to one location.
func (s *DeviceService) List(ctx context.Context, locationID string) ([]masterdata.Device, error) {
	if locationID != "" {
		return s.devices.ListByLocation(ctx, locationID)
	}
	return s.devices.List(ctx)
}

// SetArmed flips a device's armed flag and announces the change.
// Setting the flag to its current value is an idempotent no-op.
func (s *DeviceService) SetArmed(ctx context.Context, id string, armed bool, actorID string) (*masterdata.Device, error) {
	device, err := s.devices.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, masterdata.ErrNotFound
	}
	if device.Armed == armed {
		return device, nil
	}

	now := time.Now().UTC()
	if err := s.devices.SetArmed(ctx, id, armed, now); err != nil {
		return nil, err
	}
	device.Armed = armed
	device.UpdatedAt = now

	if s.publisher != nil {
		event := mdevents.DeviceConfigChanged{
			DeviceID:   device.ID,
			LocationID: device.LocationID,
			Armed:      armed,
			ActorID:    actorID,
			OccurredAt: now,
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn().Err(err).Str("device_id", device.ID).Msg("publish device config change")
		}
	}
	s.logger.Info().Str("device_id", device.ID).Bool("armed", armed).Str("actor_id", actorID).Msg("device armed flag changed")
	return device, nil
}
