package application

import (
	"context"
	"errors"

	masterdata "sensorfleet-cloud/internal/masterdata/domain"
)

// LocationService provides location commands and queries.
type LocationService struct {
	locations masterdata.LocationRepository
}

// NewLocationService constructs a location service.
func NewLocationService(locations masterdata.LocationRepository) (*LocationService, error) {
	if locations == nil {
		return nil, errors.New("location service: nil repository")
	}
	return &LocationService{locations: locations}, nil
}

// Upsert validates and saves a location.
func (s *LocationService) Upsert(ctx context.Context, location *masterdata.Location) error {
	if location == nil {
		return errors.New("location service: nil location")
	}
	if err := location.Validate(); err != nil {
		return err
	}
	return s.locations.Save(ctx, location)
}

// Get loads one location.
func (s *LocationService) Get(ctx context.Context, id string) (*masterdata.Location, error) {
	location, err := s.locations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if location == nil {
		return nil, masterdata.ErrNotFound
	}
	return location, nil
}

// List loads all locations.
func (s *LocationService) List(ctx context.Context) ([]masterdata.Location, error) {
	return s.locations.List(ctx)
}
