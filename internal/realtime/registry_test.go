package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type stubEntities struct {
	devices   map[string]bool
	locations map[string]bool
	err       error
}

func (s *stubEntities) DeviceExists(_ context.Context, id string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.devices[id], nil
}

func (s *stubEntities) LocationExists(_ context.Context, id string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.locations[id], nil
}

func newTestRegistry(t *testing.T, entities *stubEntities) *Registry {
	t.Helper()
	if entities == nil {
		entities = &stubEntities{
			devices:   map[string]bool{"dev-1": true, "dev-2": true},
			locations: map[string]bool{"loc-1": true},
		}
	}
	registry, err := NewRegistry(entities, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return registry
}

func drainEvents(session *Session) []Event {
	var events []Event
	for {
		select {
		case event := <-session.Events():
			events = append(events, event)
		default:
			return events
		}
	}
}

func TestPublishReachesSubscribers(t *testing.T) {
	registry := newTestRegistry(t, nil)
	session := NewSession("conn-1", "user-1", "viewer", 4)
	if err := registry.Register(session); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Subscribe(context.Background(), "conn-1", DeviceTopic("dev-1")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	delivered := registry.Publish(DeviceTopic("dev-1"), EventReading, map[string]float64{"value": 21.5})
	if delivered != 1 {
		t.Fatalf("delivered = %d, want 1", delivered)
	}
	events := drainEvents(session)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Topic != "device:dev-1" || events[0].Name != EventReading {
		t.Fatalf("unexpected event %+v", events[0])
	}
}

func TestSubscribeUnknownDeviceRejected(t *testing.T) {
	registry := newTestRegistry(t, nil)
	session := NewSession("conn-1", "user-1", "viewer", 4)
	if err := registry.Register(session); err != nil {
		t.Fatalf("register: %v", err)
	}

	err := registry.Subscribe(context.Background(), "conn-1", DeviceTopic("ghost"))
	if !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("err = %v, want ErrUnknownEntity", err)
	}

	// The rejected subscription must leave no membership behind.
	if n := registry.Publish(DeviceTopic("ghost"), EventReading, nil); n != 0 {
		t.Fatalf("delivered = %d, want 0", n)
	}
	if events := drainEvents(session); len(events) != 0 {
		t.Fatalf("session received %d events after rejected subscribe", len(events))
	}
}

func TestSubscribeEntityCheckFailurePropagates(t *testing.T) {
	registry := newTestRegistry(t, &stubEntities{err: errors.New("store down")})
	session := NewSession("conn-1", "user-1", "viewer", 4)
	if err := registry.Register(session); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := registry.Subscribe(context.Background(), "conn-1", DeviceTopic("dev-1"))
	if err == nil || errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("err = %v, want wrapped store failure", err)
	}
}

func TestSubscribeUnknownSession(t *testing.T) {
	registry := newTestRegistry(t, nil)
	err := registry.Subscribe(context.Background(), "nobody", GlobalAlertsTopic())
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestUnregisterRemovesAllMemberships(t *testing.T) {
	registry := newTestRegistry(t, nil)
	session := NewSession("conn-1", "user-1", "viewer", 4)
	if err := registry.Register(session); err != nil {
		t.Fatalf("register: %v", err)
	}
	topics := []Topic{DeviceTopic("dev-1"), DeviceTopic("dev-2"), LocationTopic("loc-1"), GlobalAlertsTopic(), UserTopic("user-1")}
	for _, topic := range topics {
		if err := registry.Subscribe(context.Background(), "conn-1", topic); err != nil {
			t.Fatalf("subscribe %s: %v", topic, err)
		}
	}

	registry.Unregister("conn-1")

	if n := registry.SessionCount(); n != 0 {
		t.Fatalf("SessionCount = %d, want 0", n)
	}
	for _, topic := range topics {
		if n := registry.SubscriberCount(topic); n != 0 {
			t.Fatalf("topic %s retains %d subscribers after unregister", topic, n)
		}
		if n := registry.Publish(topic, EventAlertRaised, nil); n != 0 {
			t.Fatalf("publish to %s delivered %d after unregister", topic, n)
		}
	}
	if !session.Closed() {
		t.Fatal("session not closed by unregister")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	registry := newTestRegistry(t, nil)
	session := NewSession("conn-1", "user-1", "viewer", 4)
	if err := registry.Register(session); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Never joined, unknown connection, double leave: all quiet no-ops.
	registry.Unsubscribe("conn-1", DeviceTopic("dev-1"))
	registry.Unsubscribe("nobody", DeviceTopic("dev-1"))

	if err := registry.Subscribe(context.Background(), "conn-1", DeviceTopic("dev-1")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	registry.Unsubscribe("conn-1", DeviceTopic("dev-1"))
	registry.Unsubscribe("conn-1", DeviceTopic("dev-1"))

	if n := registry.Publish(DeviceTopic("dev-1"), EventReading, nil); n != 0 {
		t.Fatalf("delivered = %d after unsubscribe, want 0", n)
	}
}

func TestPublishSkipsLateSubscribers(t *testing.T) {
	registry := newTestRegistry(t, nil)
	early := NewSession("conn-1", "user-1", "viewer", 4)
	late := NewSession("conn-2", "user-2", "viewer", 4)
	for _, session := range []*Session{early, late} {
		if err := registry.Register(session); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if err := registry.Subscribe(context.Background(), "conn-1", GlobalAlertsTopic()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	registry.Publish(GlobalAlertsTopic(), EventAlertRaised, map[string]string{"id": "alert-1"})

	if err := registry.Subscribe(context.Background(), "conn-2", GlobalAlertsTopic()); err != nil {
		t.Fatalf("subscribe late: %v", err)
	}
	if events := drainEvents(late); len(events) != 0 {
		t.Fatalf("late subscriber received %d buffered events, want 0", len(events))
	}
	if events := drainEvents(early); len(events) != 1 {
		t.Fatalf("early subscriber received %d events, want 1", len(events))
	}
}

func TestSlowSessionDropsWithoutBlocking(t *testing.T) {
	registry := newTestRegistry(t, nil)
	slow := NewSession("conn-1", "user-1", "viewer", 1)
	healthy := NewSession("conn-2", "user-2", "viewer", 4)
	for _, session := range []*Session{slow, healthy} {
		if err := registry.Register(session); err != nil {
			t.Fatalf("register: %v", err)
		}
		if err := registry.Subscribe(context.Background(), session.ID, GlobalAlertsTopic()); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}

	first := registry.Publish(GlobalAlertsTopic(), EventAlertRaised, map[string]int{"n": 1})
	second := registry.Publish(GlobalAlertsTopic(), EventAlertRaised, map[string]int{"n": 2})
	if first != 2 {
		t.Fatalf("first publish delivered %d, want 2", first)
	}
	// The slow session's queue of one is full; only the healthy one gets it.
	if second != 1 {
		t.Fatalf("second publish delivered %d, want 1", second)
	}
	if events := drainEvents(healthy); len(events) != 2 {
		t.Fatalf("healthy session received %d events, want 2", len(events))
	}
	if events := drainEvents(slow); len(events) != 1 {
		t.Fatalf("slow session received %d events, want 1", len(events))
	}
}

func TestDeliverToTargetsOneSession(t *testing.T) {
	registry := newTestRegistry(t, nil)
	first := NewSession("conn-1", "user-1", "viewer", 4)
	second := NewSession("conn-2", "user-2", "viewer", 4)
	for _, session := range []*Session{first, second} {
		if err := registry.Register(session); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	if ok := registry.DeliverTo("conn-1", Event{Name: "error"}); !ok {
		t.Fatal("DeliverTo known session returned false")
	}
	if ok := registry.DeliverTo("nobody", Event{Name: "error"}); ok {
		t.Fatal("DeliverTo unknown session returned true")
	}
	if events := drainEvents(first); len(events) != 1 {
		t.Fatalf("target received %d events, want 1", len(events))
	}
	if events := drainEvents(second); len(events) != 0 {
		t.Fatalf("bystander received %d events, want 0", len(events))
	}
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	registry := newTestRegistry(t, nil)
	if err := registry.Register(NewSession("conn-1", "user-1", "viewer", 4)); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := registry.Register(NewSession("conn-1", "user-2", "viewer", 4))
	if !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("err = %v, want ErrDuplicateSession", err)
	}
}

func TestConcurrentPublishAndUnregister(t *testing.T) {
	registry := newTestRegistry(t, nil)
	const sessions = 16
	ids := make([]string, 0, sessions)
	for i := 0; i < sessions; i++ {
		session := NewSession(string(rune('a'+i)), "user-1", "viewer", 2)
		if err := registry.Register(session); err != nil {
			t.Fatalf("register: %v", err)
		}
		if err := registry.Subscribe(context.Background(), session.ID, GlobalAlertsTopic()); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		ids = append(ids, session.ID)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			registry.Publish(GlobalAlertsTopic(), EventAlertRaised, map[string]int{"n": i})
		}
	}()
	go func() {
		defer wg.Done()
		for _, id := range ids {
			registry.Unregister(id)
		}
	}()
	wg.Wait()

	if n := registry.SessionCount(); n != 0 {
		t.Fatalf("SessionCount = %d after concurrent teardown, want 0", n)
	}
	if n := registry.SubscriberCount(GlobalAlertsTopic()); n != 0 {
		t.Fatalf("global topic retains %d subscribers, want 0", n)
	}
}

func TestParseTopic(t *testing.T) {
	cases := []struct {
		raw  string
		want Topic
	}{
		{"device:dev-1", DeviceTopic("dev-1")},
		{"location:loc-1", LocationTopic("loc-1")},
		{"global-alerts", GlobalAlertsTopic()},
		{"user:user-9", UserTopic("user-9")},
	}
	for _, tc := range cases {
		got, err := ParseTopic(tc.raw)
		if err != nil {
			t.Fatalf("ParseTopic(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ParseTopic(%q) = %+v, want %+v", tc.raw, got, tc.want)
		}
		if got.String() != tc.raw {
			t.Fatalf("String() = %q, want %q", got.String(), tc.raw)
		}
	}

	for _, raw := range []string{"", "device:", "plain", "fleet:x", "global-alerts:extra"} {
		if _, err := ParseTopic(raw); !errors.Is(err, ErrInvalidTopic) {
			t.Fatalf("ParseTopic(%q) err = %v, want ErrInvalidTopic", raw, err)
		}
	}
}
