package masterdata

import (
	"context"
	"errors"
	"time"
)

// Location represents a monitored site.
type Location struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Timezone  string    `json:"timezone"`
	Region    string    `json:"region,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks location invariants.
func (l Location) Validate() error {
	if l.ID == "" {
		return errors.New("location: empty id")
	}
	if l.Name == "" {
		return errors.New("location: empty name")
	}
	if l.Timezone == "" {
		return errors.New("location: empty timezone")
	}
	return nil
}

// LocationRepository manages location persistence.
type LocationRepository interface {
	Get(ctx context.Context, id string) (*Location, error)
	List(ctx context.Context) ([]Location, error)
	Exists(ctx context.Context, id string) (bool, error)
	Save(ctx context.Context, location *Location) error
}
