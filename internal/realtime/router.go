package realtime

import (
	"errors"

	"github.com/rs/zerolog"

	alerts "sensorfleet-cloud/internal/alerts/domain"
)

// Wire event names routed to subscribed sessions.
const (
	EventAlertRaised       = "alert-raised"
	EventAlertAcknowledged = "alert-acknowledged"
	EventAlertResolved     = "alert-resolved"
	EventAlertEscalated    = "alert-escalated"
	EventReading           = "reading"
	EventReadingSnapshot   = "reading-snapshot"
	EventCommandIssued     = "command-issued"
	EventCommandCompleted  = "command-completed"
	EventDeviceConfig      = "device-config-changed"
)

// Router resolves a domain happening to its audience topics and pushes
// it through the registry.
type Router struct {
	registry *Registry
	logger   zerolog.Logger
}

// NewRouter constructs a router.
func NewRouter(registry *Registry, logger zerolog.Logger) (*Router, error) {
	if registry == nil {
		return nil, errors.New("realtime: nil registry")
	}
	return &Router{
		registry: registry,
		logger:   logger.With().Str("component", "event-router").Logger(),
	}, nil
}

// PublishAlert fans an alert lifecycle event out to the global feed,
// the device topic and, when known, the location topic.
func (r *Router) PublishAlert(name string, alert alerts.Alert) int {
	delivered := r.registry.Publish(GlobalAlertsTopic(), name, alert)
	if alert.DeviceID != "" {
		delivered += r.registry.Publish(DeviceTopic(alert.DeviceID), name, alert)
	}
	if alert.LocationID != "" {
		delivered += r.registry.Publish(LocationTopic(alert.LocationID), name, alert)
	}
	return delivered
}

// PublishReading pushes a live reading to the device topic.
func (r *Router) PublishReading(deviceID string, payload any) int {
	if deviceID == "" {
		return 0
	}
	return r.registry.Publish(DeviceTopic(deviceID), EventReading, payload)
}

// PublishCommand pushes a command lifecycle event to the device topic
// and to the issuing user's own topic.
func (r *Router) PublishCommand(name, deviceID, issuerID string, payload any) int {
	delivered := 0
	if deviceID != "" {
		delivered += r.registry.Publish(DeviceTopic(deviceID), name, payload)
	}
	if issuerID != "" {
		delivered += r.registry.Publish(UserTopic(issuerID), name, payload)
	}
	return delivered
}

// PublishDeviceConfig pushes a device configuration change to the
// device topic and, when known, the location topic.
func (r *Router) PublishDeviceConfig(deviceID, locationID string, payload any) int {
	delivered := 0
	if deviceID != "" {
		delivered += r.registry.Publish(DeviceTopic(deviceID), EventDeviceConfig, payload)
	}
	if locationID != "" {
		delivered += r.registry.Publish(LocationTopic(locationID), EventDeviceConfig, payload)
	}
	return delivered
}
