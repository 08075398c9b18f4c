package eventing

import (
	"context"

	"sensorfleet-cloud/internal/eventing/eventbus"
)

// OutboxWriter inserts outbox records.
type OutboxWriter interface {
	Insert(ctx context.Context, env Envelope) (string, error)
}

// Subscriber registers handlers.
type Subscriber interface {
	Subscribe(eventType string, handler eventbus.EventHandler)
}

// Publisher satisfies the services' EventPublisher by writing the
// event to the outbox only. Delivery happens when the dispatcher drains
// the outbox on its tick, never inline, so a consumer that publishes a
// follow-up event cannot re-enter its own delivery.
type Publisher struct {
	outbox OutboxWriter
	sub    Subscriber
}

// NewPublisher constructs a publisher.
func NewPublisher(outbox OutboxWriter, sub Subscriber) *Publisher {
	return &Publisher{outbox: outbox, sub: sub}
}

// Publish envelopes the event with metadata from the context and
// inserts it as a pending outbox row.
func (p *Publisher) Publish(ctx context.Context, event any) error {
	if p == nil || p.outbox == nil {
		return nil
	}
	env, err := BuildEnvelope(event, MetaFromContext(ctx))
	if err != nil {
		return err
	}
	if _, err := p.outbox.Insert(ctx, env); err != nil {
		return err
	}
	return nil
}

// Subscribe delegates to the underlying subscriber when available.
func (p *Publisher) Subscribe(eventType string, handler eventbus.EventHandler) {
	if p == nil || p.sub == nil {
		return
	}
	p.sub.Subscribe(eventType, handler)
}
