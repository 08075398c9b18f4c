package masterdata

import (
	"context"
	"errors"
	"time"
)

// Device represents a sensor device bound to a location.
type Device struct {
	ID         string    `json:"id"`
	LocationID string    `json:"location_id"`
	Name       string    `json:"name"`
	Kind       string    `json:"kind,omitempty"`
	Armed      bool      `json:"armed"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Validate checks device invariants.
func (d Device) Validate() error {
	if d.ID == "" {
		return errors.New("device: empty id")
	}
	if d.LocationID == "" {
		return errors.New("device: empty location id")
	}
	return nil
}

// DeviceRepository manages device persistence.
type DeviceRepository interface {
	Get(ctx context.Context, id string) (*Device, error)
	List(ctx context.Context) ([]Device, error)
	ListByLocation(ctx context.Context, locationID string) ([]Device, error)
	Exists(ctx context.Context, id string) (bool, error)
	Save(ctx context.Context, device *Device) error
	SetArmed(ctx context.Context, id string, armed bool, at time.Time) error
}
