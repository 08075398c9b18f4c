package eventing

import "context"

type envelopeKey struct{}

type metaKey struct{}

// WithEnvelope attaches the envelope being delivered to the context so
// idempotency wrappers can read the event id.
func WithEnvelope(ctx context.Context, env Envelope) context.Context {
	return context.WithValue(ctx, envelopeKey{}, env)
}

// EnvelopeFromContext returns the envelope under delivery, when inside
// a dispatcher-driven handler.
func EnvelopeFromContext(ctx context.Context) (Envelope, bool) {
	env, ok := ctx.Value(envelopeKey{}).(Envelope)
	return env, ok
}

func contextMeta(ctx context.Context) Meta {
	meta, _ := ctx.Value(metaKey{}).(Meta)
	return meta
}

// WithEventID pins the event id the next publish on this context will
// use, letting callers know the id before the row exists.
func WithEventID(ctx context.Context, eventID string) context.Context {
	meta := contextMeta(ctx)
	meta.EventID = eventID
	return context.WithValue(ctx, metaKey{}, meta)
}

// WithDeviceID tags subsequent publishes with a device id.
func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	meta := contextMeta(ctx)
	meta.DeviceID = deviceID
	return context.WithValue(ctx, metaKey{}, meta)
}

// WithCorrelationID tags subsequent publishes with a correlation id.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	meta := contextMeta(ctx)
	meta.CorrelationID = correlationID
	return context.WithValue(ctx, metaKey{}, meta)
}

// MetaFromContext collects the publish metadata accumulated on the
// context.
func MetaFromContext(ctx context.Context) Meta {
	return contextMeta(ctx)
}
