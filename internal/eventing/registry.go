package eventing

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// Registry knows which concrete Go type each event type name decodes
// into. The dispatcher consults it to turn outbox envelopes back into
// the events consumers were subscribed with.
type Registry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewRegistry constructs a registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]reflect.Type)}
}

// Register records an event type from a sample value or pointer.
func (r *Registry) Register(sample any) {
	if r == nil || sample == nil {
		return
	}
	t := reflect.TypeOf(sample)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	r.mu.Lock()
	r.types[t.String()] = t
	r.mu.Unlock()
}

// DecodePayload decodes an envelope payload into its registered type.
func (r *Registry) DecodePayload(env Envelope) (any, error) {
	if r == nil {
		return nil, fmt.Errorf("eventing: nil registry")
	}
	r.mu.RLock()
	t, known := r.types[env.EventType]
	r.mu.RUnlock()
	if !known {
		return nil, fmt.Errorf("eventing: unregistered event type %q", env.EventType)
	}
	target := reflect.New(t)
	if err := json.Unmarshal(env.Payload, target.Interface()); err != nil {
		return nil, fmt.Errorf("eventing: decode %s: %w", env.EventType, err)
	}
	return target.Elem().Interface(), nil
}
