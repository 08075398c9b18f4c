package realtime

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	alertevents "sensorfleet-cloud/internal/alerts/application/events"
	commandsevents "sensorfleet-cloud/internal/commands/application/events"
	"sensorfleet-cloud/internal/eventing"
	"sensorfleet-cloud/internal/eventing/eventbus"
	masterdataevents "sensorfleet-cloud/internal/masterdata/application/events"
	telemetryevents "sensorfleet-cloud/internal/telemetry/application/events"
)

// Broadcaster feeds domain events into the router so live sessions see
// them. It is the only bridge between the event bus and the registry.
type Broadcaster struct {
	router *Router
	logger zerolog.Logger
}

// NewBroadcaster constructs a broadcaster.
func NewBroadcaster(router *Router, logger zerolog.Logger) (*Broadcaster, error) {
	if router == nil {
		return nil, errors.New("realtime: nil router")
	}
	return &Broadcaster{
		router: router,
		logger: logger.With().Str("component", "realtime-broadcaster").Logger(),
	}, nil
}

// HandleAlertRaised fans a new alert out to its audiences.
func (b *Broadcaster) HandleAlertRaised(_ context.Context, event alertevents.AlertRaised) error {
	b.router.PublishAlert(EventAlertRaised, event.Alert)
	return nil
}

// HandleAlertAcknowledged fans an acknowledgement out.
func (b *Broadcaster) HandleAlertAcknowledged(_ context.Context, event alertevents.AlertAcknowledged) error {
	b.router.PublishAlert(EventAlertAcknowledged, event.Alert)
	return nil
}

// HandleAlertResolved fans a resolution out.
func (b *Broadcaster) HandleAlertResolved(_ context.Context, event alertevents.AlertResolved) error {
	b.router.PublishAlert(EventAlertResolved, event.Alert)
	return nil
}

// HandleAlertEscalated fans a severity escalation out.
func (b *Broadcaster) HandleAlertEscalated(_ context.Context, event alertevents.AlertEscalated) error {
	b.router.PublishAlert(EventAlertEscalated, event.Alert)
	return nil
}

// HandleReadingReceived pushes a stored reading batch to the device's
// subscribers.
func (b *Broadcaster) HandleReadingReceived(_ context.Context, event telemetryevents.ReadingReceived) error {
	b.router.PublishReading(event.DeviceID, event)
	return nil
}

// HandleCommandIssued pushes a freshly issued command to the device's
// subscribers and to the issuer.
func (b *Broadcaster) HandleCommandIssued(_ context.Context, event commandsevents.CommandIssued) error {
	b.router.PublishCommand(EventCommandIssued, event.DeviceID, event.IssuedBy, event)
	return nil
}

// HandleCommandCompleted pushes a terminal command status the same way.
func (b *Broadcaster) HandleCommandCompleted(_ context.Context, event commandsevents.CommandCompleted) error {
	b.router.PublishCommand(EventCommandCompleted, event.DeviceID, event.IssuedBy, event)
	return nil
}

// HandleDeviceConfigChanged pushes an armed-flag change to the device
// and its location.
func (b *Broadcaster) HandleDeviceConfigChanged(_ context.Context, event masterdataevents.DeviceConfigChanged) error {
	b.router.PublishDeviceConfig(event.DeviceID, event.LocationID, event)
	return nil
}

// WireBroadcaster registers the broadcaster on the event bus. Alert and
// command events go through the processed store so an outbox redelivery
// is not pushed twice; readings skip it, a live feed gains nothing from
// replay bookkeeping at that volume.
func WireBroadcaster(bus eventbus.EventBus, broadcaster *Broadcaster, processed eventing.ProcessedStore) {
	if bus == nil || broadcaster == nil {
		return
	}

	eventing.Subscribe(bus, eventbus.EventTypeOf[alertevents.AlertRaised](), "realtime.alerts", func(ctx context.Context, event any) error {
		evt, ok := event.(alertevents.AlertRaised)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		return broadcaster.HandleAlertRaised(ctx, evt)
	}, processed)

	eventing.Subscribe(bus, eventbus.EventTypeOf[alertevents.AlertAcknowledged](), "realtime.alerts", func(ctx context.Context, event any) error {
		evt, ok := event.(alertevents.AlertAcknowledged)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		return broadcaster.HandleAlertAcknowledged(ctx, evt)
	}, processed)

	eventing.Subscribe(bus, eventbus.EventTypeOf[alertevents.AlertResolved](), "realtime.alerts", func(ctx context.Context, event any) error {
		evt, ok := event.(alertevents.AlertResolved)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		return broadcaster.HandleAlertResolved(ctx, evt)
	}, processed)

	eventing.Subscribe(bus, eventbus.EventTypeOf[alertevents.AlertEscalated](), "realtime.alerts", func(ctx context.Context, event any) error {
		evt, ok := event.(alertevents.AlertEscalated)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		return broadcaster.HandleAlertEscalated(ctx, evt)
	}, processed)

	eventing.Subscribe(bus, eventbus.EventTypeOf[telemetryevents.ReadingReceived](), "realtime.readings", func(ctx context.Context, event any) error {
		evt, ok := event.(telemetryevents.ReadingReceived)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		return broadcaster.HandleReadingReceived(ctx, evt)
	}, nil)

	eventing.Subscribe(bus, eventbus.EventTypeOf[commandsevents.CommandIssued](), "realtime.commands", func(ctx context.Context, event any) error {
		evt, ok := event.(commandsevents.CommandIssued)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		return broadcaster.HandleCommandIssued(ctx, evt)
	}, processed)

	eventing.Subscribe(bus, eventbus.EventTypeOf[commandsevents.CommandCompleted](), "realtime.commands", func(ctx context.Context, event any) error {
		evt, ok := event.(commandsevents.CommandCompleted)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		return broadcaster.HandleCommandCompleted(ctx, evt)
	}, processed)

	eventing.Subscribe(bus, eventbus.EventTypeOf[masterdataevents.DeviceConfigChanged](), "realtime.config", func(ctx context.Context, event any) error {
		evt, ok := event.(masterdataevents.DeviceConfigChanged)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		return broadcaster.HandleDeviceConfigChanged(ctx, evt)
	}, processed)
}
