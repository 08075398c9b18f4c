package realtime

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	alerts "sensorfleet-cloud/internal/alerts/domain"
)

func TestPublishAlertFansOutToAllAudiences(t *testing.T) {
	registry := newTestRegistry(t, nil)
	router, err := NewRouter(registry, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	global := NewSession("conn-g", "user-1", "viewer", 4)
	device := NewSession("conn-d", "user-2", "viewer", 4)
	location := NewSession("conn-l", "user-3", "viewer", 4)
	for _, session := range []*Session{global, device, location} {
		if err := registry.Register(session); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	ctx := context.Background()
	if err := registry.Subscribe(ctx, "conn-g", GlobalAlertsTopic()); err != nil {
		t.Fatalf("subscribe global: %v", err)
	}
	if err := registry.Subscribe(ctx, "conn-d", DeviceTopic("dev-1")); err != nil {
		t.Fatalf("subscribe device: %v", err)
	}
	if err := registry.Subscribe(ctx, "conn-l", LocationTopic("loc-1")); err != nil {
		t.Fatalf("subscribe location: %v", err)
	}

	alert := alerts.Alert{ID: "alert-1", DeviceID: "dev-1", LocationID: "loc-1", Severity: "high"}
	if delivered := router.PublishAlert(EventAlertRaised, alert); delivered != 3 {
		t.Fatalf("delivered = %d, want 3", delivered)
	}
	for _, session := range []*Session{global, device, location} {
		events := drainEvents(session)
		if len(events) != 1 {
			t.Fatalf("session %s received %d events, want 1", session.ID, len(events))
		}
		if events[0].Name != EventAlertRaised {
			t.Fatalf("session %s received event %q", session.ID, events[0].Name)
		}
	}
}

func TestPublishAlertSkipsUnknownLocation(t *testing.T) {
	registry := newTestRegistry(t, nil)
	router, err := NewRouter(registry, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	session := NewSession("conn-1", "user-1", "viewer", 4)
	if err := registry.Register(session); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Subscribe(context.Background(), "conn-1", GlobalAlertsTopic()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	alert := alerts.Alert{ID: "alert-1", DeviceID: "dev-1", Severity: "low"}
	if delivered := router.PublishAlert(EventAlertRaised, alert); delivered != 1 {
		t.Fatalf("delivered = %d, want 1", delivered)
	}
}

func TestPublishCommandReachesDeviceAndIssuer(t *testing.T) {
	registry := newTestRegistry(t, nil)
	router, err := NewRouter(registry, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	watcher := NewSession("conn-1", "user-1", "viewer", 4)
	issuer := NewSession("conn-2", "user-2", "operator", 4)
	for _, session := range []*Session{watcher, issuer} {
		if err := registry.Register(session); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	ctx := context.Background()
	if err := registry.Subscribe(ctx, "conn-1", DeviceTopic("dev-1")); err != nil {
		t.Fatalf("subscribe device: %v", err)
	}
	if err := registry.Subscribe(ctx, "conn-2", UserTopic("user-2")); err != nil {
		t.Fatalf("subscribe user: %v", err)
	}

	delivered := router.PublishCommand(EventCommandCompleted, "dev-1", "user-2", map[string]string{"id": "cmd-1"})
	if delivered != 2 {
		t.Fatalf("delivered = %d, want 2", delivered)
	}
	if events := drainEvents(watcher); len(events) != 1 || events[0].Topic != "device:dev-1" {
		t.Fatalf("watcher events = %+v", events)
	}
	if events := drainEvents(issuer); len(events) != 1 || events[0].Topic != "user:user-2" {
		t.Fatalf("issuer events = %+v", events)
	}
}
