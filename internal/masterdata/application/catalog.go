package application

import (
	"context"
	"errors"

	masterdata "sensorfleet-cloud/internal/masterdata/domain"
)

// EntityCatalog answers existence and lookup questions about devices
// and locations for other contexts, notably the realtime registry's
// subscription validation.
type EntityCatalog struct {
	devices   masterdata.DeviceRepository
	locations masterdata.LocationRepository
}

// NewEntityCatalog constructs a catalog.
func NewEntityCatalog(devices masterdata.DeviceRepository, locations masterdata.LocationRepository) (*EntityCatalog, error) {
	if devices == nil {
		return nil, errors.New("entity catalog: nil device repository")
	}
	if locations == nil {
		return nil, errors.New("entity catalog: nil location repository")
	}
	return &EntityCatalog{devices: devices, locations: locations}, nil
}

// DeviceExists reports whether a device id is known.
func (c *EntityCatalog) DeviceExists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	return c.devices.Exists(ctx, id)
}

// LocationExists reports whether a location id is known.
func (c *EntityCatalog) LocationExists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	return c.locations.Exists(ctx, id)
}

// LocationIDForDevice resolves the location a device belongs to.
// Unknown devices resolve to an empty id, not an error.
func (c *EntityCatalog) LocationIDForDevice(ctx context.Context, deviceID string) (string, error) {
	if deviceID == "" {
		return "", nil
	}
	device, err := c.devices.Get(ctx, deviceID)
	if err != nil {
		return "", err
	}
	if device == nil {
		return "", nil
	}
	return device.LocationID, nil
}
