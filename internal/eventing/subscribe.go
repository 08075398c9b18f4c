package eventing

import (
	"context"

	"sensorfleet-cloud/internal/eventing/eventbus"
)

// ProcessedStore remembers which (event, consumer) pairs already ran.
type ProcessedStore interface {
	HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, consumerName string) error
}

// Subscribe registers a handler on the bus. With a store the handler is
// wrapped so replayed outbox events are consumed at most once per
// consumer name; with a nil store the handler runs on every delivery.
func Subscribe(bus eventbus.EventBus, eventType, consumerName string, handler eventbus.EventHandler, store ProcessedStore) {
	if store != nil {
		handler = WrapHandler(consumerName, handler, store)
	}
	bus.Subscribe(eventType, handler)
}

// WrapHandler makes a handler idempotent per consumer name. Events
// arriving without an envelope (hot-path bus publishes) have no stable
// id to dedupe on and run unconditionally.
func WrapHandler(consumerName string, handler eventbus.EventHandler, store ProcessedStore) eventbus.EventHandler {
	return func(ctx context.Context, event any) error {
		env, fromOutbox := EnvelopeFromContext(ctx)
		if !fromOutbox || env.EventID == "" {
			return handler(ctx, event)
		}
		done, err := store.HasProcessed(ctx, env.EventID, consumerName)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := handler(ctx, event); err != nil {
			return err
		}
		return store.MarkProcessed(ctx, env.EventID, consumerName)
	}
}
