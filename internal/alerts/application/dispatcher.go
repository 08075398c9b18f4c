package application

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"time"

	"github.com/rs/zerolog"

	alertevents "sensorfleet-cloud/internal/alerts/application/events"
	alerts "sensorfleet-cloud/internal/alerts/domain"
	alertrepo "sensorfleet-cloud/internal/alerts/infrastructure/postgres"
	rulesapp "sensorfleet-cloud/internal/rules/application"
)

// EventPublisher publishes alert lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// LocationResolver maps a device to its location, when known.
type LocationResolver interface {
	LocationIDForDevice(ctx context.Context, deviceID string) (string, error)
}

// Dispatcher persists alerts raised by rule evaluation and announces
// them on the event bus.
type Dispatcher struct {
	alerts    *alertrepo.AlertRepository
	locations LocationResolver
	publisher EventPublisher
	clock     Clock
	logger    zerolog.Logger
}

// DispatcherOption customizes the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherClock assigns a clock.
func WithDispatcherClock(clock Clock) DispatcherOption {
	return func(d *Dispatcher) {
		d.clock = clock
	}
}

// WithLocationResolver assigns a device location lookup.
func WithLocationResolver(resolver LocationResolver) DispatcherOption {
	return func(d *Dispatcher) {
		d.locations = resolver
	}
}

// NewDispatcher constructs an alert dispatcher.
func NewDispatcher(repo *alertrepo.AlertRepository, publisher EventPublisher, logger zerolog.Logger, opts ...DispatcherOption) (*Dispatcher, error) {
	if repo == nil {
		return nil, errors.New("alerts: nil repository")
	}
	dispatcher := &Dispatcher{
		alerts:    repo,
		publisher: publisher,
		clock:     systemClock{},
		logger:    logger.With().Str("component", "alert-dispatcher").Logger(),
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	return dispatcher, nil
}

// Dispatch creates a new active alert from a fired rule.
func (d *Dispatcher) Dispatch(ctx context.Context, req rulesapp.DispatchRequest) (*alerts.Alert, error) {
	if d == nil {
		return nil, errors.New("alerts: nil dispatcher")
	}
	if req.DeviceID == "" || req.SensorID == "" || req.SensorRuleID == "" {
		return nil, errors.New("alerts: dispatch missing identifiers")
	}
	triggeredAt := atOrNow(req.TriggeredAt, d.clock)
	now := d.clock.Now().UTC()

	locationID := ""
	if d.locations != nil {
		resolved, err := d.locations.LocationIDForDevice(ctx, req.DeviceID)
		if err != nil {
			d.logger.Warn().Err(err).Str("device_id", req.DeviceID).Msg("location lookup failed")
		} else {
			locationID = resolved
		}
	}

	alert := &alerts.Alert{
		ID:           buildAlertID(req.DeviceID, req.SensorRuleID, triggeredAt),
		DeviceID:     req.DeviceID,
		SensorID:     req.SensorID,
		SensorRuleID: req.SensorRuleID,
		LocationID:   locationID,
		Severity:     req.Severity,
		Message:      req.Message,
		Status:       alerts.StatusActive,
		Value:        req.Value,
		TriggeredAt:  triggeredAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := d.alerts.Create(ctx, alert); err != nil {
		return nil, err
	}

	event := alertevents.AlertRaised{Alert: *alert, DeviceID: alert.DeviceID, OccurredAt: triggeredAt}
	if d.publisher != nil {
		if err := d.publisher.Publish(ctx, event); err != nil {
			// The alert row is the source of truth; a lost announcement
			// only degrades live delivery.
			d.logger.Warn().Err(err).Str("alert_id", alert.ID).Msg("alert raised event not published")
		}
	}
	return alert, nil
}

func buildAlertID(deviceID, ruleID string, triggeredAt time.Time) string {
	sum := sha1.Sum([]byte(deviceID + "|" + ruleID + "|" + triggeredAt.Format(time.RFC3339Nano)))
	return "alert-" + hex.EncodeToString(sum[:8])
}
