package eventing

import "context"

const defaultDrainBatch = 50

// Dispatcher drains the outbox onto the in-process bus. Rows that fail
// to decode or deliver are marked failed and parked in the dead-letter
// store; the drain continues past them.
type Dispatcher struct {
	bus      EventBus
	outbox   OutboxStore
	registry *Registry
	dlq      DLQStore
}

// EventBus is the minimal publish interface.
type EventBus interface {
	Publish(ctx context.Context, event any) error
}

// OutboxStore provides access to outbox records.
type OutboxStore interface {
	ListPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// DLQStore records failures.
type DLQStore interface {
	RecordFailure(ctx context.Context, env Envelope, err error) error
}

// OutboxRecord represents a pending outbox entry.
type OutboxRecord struct {
	ID       string
	Envelope Envelope
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(bus EventBus, outbox OutboxStore, registry *Registry, dlq DLQStore) *Dispatcher {
	return &Dispatcher{bus: bus, outbox: outbox, registry: registry, dlq: dlq}
}

// Dispatch pulls up to limit pending outbox rows and delivers each in
// turn.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) error {
	if d == nil || d.outbox == nil || d.bus == nil || d.registry == nil {
		return nil
	}
	if limit <= 0 {
		limit = defaultDrainBatch
	}
	pending, err := d.outbox.ListPending(ctx, limit)
	if err != nil {
		return err
	}
	for _, record := range pending {
		if err := d.deliver(ctx, record); err != nil {
			d.park(ctx, record, err)
			continue
		}
		_ = d.outbox.MarkSent(ctx, record.ID)
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, record OutboxRecord) error {
	event, err := d.registry.DecodePayload(record.Envelope)
	if err != nil {
		return err
	}
	return d.bus.Publish(WithEnvelope(ctx, record.Envelope), event)
}

func (d *Dispatcher) park(ctx context.Context, record OutboxRecord, cause error) {
	_ = d.outbox.MarkFailed(ctx, record.ID)
	if d.dlq != nil {
		_ = d.dlq.RecordFailure(ctx, record.Envelope, cause)
	}
}
