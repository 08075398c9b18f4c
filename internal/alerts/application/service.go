package application

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	alertevents "sensorfleet-cloud/internal/alerts/application/events"
	alerts "sensorfleet-cloud/internal/alerts/domain"
	alertrepo "sensorfleet-cloud/internal/alerts/infrastructure/postgres"
	"sensorfleet-cloud/internal/observability/metrics"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Service handles alert state transitions and queries.
type Service struct {
	alerts    *alertrepo.AlertRepository
	publisher EventPublisher
	clock     Clock
	logger    zerolog.Logger
}

// ServiceOption customizes the alert service.
type ServiceOption func(*Service)

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		s.clock = clock
	}
}

// NewService constructs an alert service.
func NewService(repo *alertrepo.AlertRepository, publisher EventPublisher, logger zerolog.Logger, opts ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("alerts: nil repository")
	}
	service := &Service{
		alerts:    repo,
		publisher: publisher,
		clock:     systemClock{},
		logger:    logger.With().Str("component", "alert-service").Logger(),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Acknowledge moves an active alert to acknowledged. Alerts in any
// other state report a conflict.
func (s *Service) Acknowledge(ctx context.Context, id, actorID string) (*alerts.Alert, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	if id == "" {
		return nil, errors.New("alerts: alert id required")
	}
	if actorID == "" {
		return nil, errors.New("alerts: actor id required")
	}
	now := s.clock.Now().UTC()
	updated, err := s.alerts.UpdateStatus(ctx, id, alerts.StatusActive, alerts.StatusAcknowledged, actorID, now)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, alertevents.AlertAcknowledged{
		Alert:      *updated,
		DeviceID:   updated.DeviceID,
		ActorID:    actorID,
		OccurredAt: now,
	})
	metrics.IncAlertTransition(alerts.StatusAcknowledged)
	return updated, nil
}

// Resolve closes an alert from either open state. Resolving an alert
// that is already resolved reports a conflict and leaves the original
// resolution untouched.
func (s *Service) Resolve(ctx context.Context, id, actorID string) (*alerts.Alert, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	if id == "" {
		return nil, errors.New("alerts: alert id required")
	}
	if actorID == "" {
		return nil, errors.New("alerts: actor id required")
	}
	current, err := s.alerts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, alerts.ErrNotFound
	}
	if current.Status == alerts.StatusResolved {
		return nil, alerts.ErrConflict
	}
	now := s.clock.Now().UTC()
	updated, err := s.alerts.UpdateStatus(ctx, id, current.Status, alerts.StatusResolved, actorID, now)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, alertevents.AlertResolved{
		Alert:      *updated,
		DeviceID:   updated.DeviceID,
		ActorID:    actorID,
		OccurredAt: now,
	})
	metrics.IncAlertTransition(alerts.StatusResolved)
	return updated, nil
}

// Get returns one alert by id.
func (s *Service) Get(ctx context.Context, id string) (*alerts.Alert, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	if id == "" {
		return nil, errors.New("alerts: alert id required")
	}
	alert, err := s.alerts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, alerts.ErrNotFound
	}
	return alert, nil
}

// List returns alerts matching the filter.
func (s *Service) List(ctx context.Context, filter alertrepo.ListFilter) ([]alerts.Alert, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	return s.alerts.List(ctx, filter)
}

// CountByStatusSeverity aggregates alerts triggered since the cutoff.
func (s *Service) CountByStatusSeverity(ctx context.Context, since time.Time) ([]alertrepo.StatusCount, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	return s.alerts.CountByStatusSeverity(ctx, since.UTC())
}

func (s *Service) publish(ctx context.Context, event any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Msg("alert event not published")
	}
}

func atOrNow(value time.Time, clock Clock) time.Time {
	if value.IsZero() {
		return clock.Now().UTC()
	}
	return value.UTC()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
