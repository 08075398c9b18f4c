package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sensorfleet-cloud/internal/observability/metrics"
)

// EntityChecker answers whether a subscription target exists.
type EntityChecker interface {
	DeviceExists(ctx context.Context, id string) (bool, error)
	LocationExists(ctx context.Context, id string) (bool, error)
}

// Registry tracks live sessions and their topic subscriptions. All maps
// are private and guarded; callers only go through the operations below.
type Registry struct {
	entities EntityChecker
	logger   zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	topics   map[Topic]map[string]*Session
	joined   map[string]map[Topic]struct{}
}

// NewRegistry constructs a registry.
func NewRegistry(entities EntityChecker, logger zerolog.Logger) (*Registry, error) {
	if entities == nil {
		return nil, errors.New("realtime: nil entity checker")
	}
	return &Registry{
		entities: entities,
		logger:   logger.With().Str("component", "connection-registry").Logger(),
		sessions: make(map[string]*Session),
		topics:   make(map[Topic]map[string]*Session),
		joined:   make(map[string]map[Topic]struct{}),
	}, nil
}

// Register admits a new session.
func (r *Registry) Register(session *Session) error {
	if session == nil || session.ID == "" {
		return errors.New("realtime: nil or unidentified session")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[session.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSession, session.ID)
	}
	r.sessions[session.ID] = session
	r.joined[session.ID] = make(map[Topic]struct{})
	metrics.SessionOpened()
	r.logger.Debug().Str("connection_id", session.ID).Str("user_id", session.UserID).Msg("session registered")
	return nil
}

// Unregister drops a session and removes it from every topic it had
// joined. Unknown ids are ignored; the session is closed afterwards so
// an in-flight publish either enqueued before the close or fails the
// non-blocking send, never corrupting the maps.
func (r *Registry) Unregister(connectionID string) {
	r.mu.Lock()
	session, ok := r.sessions[connectionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, connectionID)
	for topic := range r.joined[connectionID] {
		if set := r.topics[topic]; set != nil {
			delete(set, connectionID)
			if len(set) == 0 {
				delete(r.topics, topic)
			}
		}
		metrics.SubscriptionRemoved(string(topic.Kind))
	}
	delete(r.joined, connectionID)
	r.mu.Unlock()

	session.Close()
	metrics.SessionClosed()
	r.logger.Debug().Str("connection_id", connectionID).Msg("session unregistered")
}

// Subscribe joins a session to a topic. Device and location topics are
// admitted only when the entity exists; an unknown entity is reported
// to the caller with ErrUnknownEntity and nothing is recorded.
// Re-subscribing to a topic already joined is a no-op.
func (r *Registry) Subscribe(ctx context.Context, connectionID string, topic Topic) error {
	if err := topic.Validate(); err != nil {
		return err
	}
	// Existence checks hit the store, keep them outside the lock.
	switch topic.Kind {
	case TopicDevice:
		ok, err := r.entities.DeviceExists(ctx, topic.ID)
		if err != nil {
			return fmt.Errorf("check device %s: %w", topic.ID, err)
		}
		if !ok {
			return fmt.Errorf("%w: device %s", ErrUnknownEntity, topic.ID)
		}
	case TopicLocation:
		ok, err := r.entities.LocationExists(ctx, topic.ID)
		if err != nil {
			return fmt.Errorf("check location %s: %w", topic.ID, err)
		}
		if !ok {
			return fmt.Errorf("%w: location %s", ErrUnknownEntity, topic.ID)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[connectionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, connectionID)
	}
	if _, already := r.joined[connectionID][topic]; already {
		return nil
	}
	set := r.topics[topic]
	if set == nil {
		set = make(map[string]*Session)
		r.topics[topic] = set
	}
	set[connectionID] = session
	r.joined[connectionID][topic] = struct{}{}
	metrics.SubscriptionAdded(string(topic.Kind))
	return nil
}

// Unsubscribe leaves a topic. Leaving a topic never joined, or leaving
// with an unknown connection id, is not an error.
func (r *Registry) Unsubscribe(connectionID string, topic Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	joined, ok := r.joined[connectionID]
	if !ok {
		return
	}
	if _, member := joined[topic]; !member {
		return
	}
	delete(joined, topic)
	if set := r.topics[topic]; set != nil {
		delete(set, connectionID)
		if len(set) == 0 {
			delete(r.topics, topic)
		}
	}
	metrics.SubscriptionRemoved(string(topic.Kind))
}

// Publish delivers an event to every session subscribed to the topic at
// the time of the call and returns how many accepted it. A slow or
// closed session is skipped, never waited on.
func (r *Registry) Publish(topic Topic, name string, payload any) int {
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			r.logger.Error().Err(err).Str("topic", topic.String()).Str("event", name).Msg("encode event payload")
			return 0
		}
		raw = encoded
	}
	event := Event{
		Topic:      topic.String(),
		Name:       name,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}

	r.mu.RLock()
	set := r.topics[topic]
	targets := make([]*Session, 0, len(set))
	for _, session := range set {
		targets = append(targets, session)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, session := range targets {
		if session.Deliver(event) {
			delivered++
			metrics.IncMessageDelivered(string(topic.Kind))
			continue
		}
		reason := "queue_full"
		if session.Closed() {
			reason = "session_closed"
		}
		metrics.IncMessageDropped(reason)
		r.logger.Warn().
			Str("connection_id", session.ID).
			Str("topic", topic.String()).
			Str("event", name).
			Str("reason", reason).
			Msg("event dropped")
	}
	return delivered
}

// DeliverTo enqueues an event for one session only, regardless of its
// subscriptions. Used for caller-directed errors and replies.
func (r *Registry) DeliverTo(connectionID string, event Event) bool {
	r.mu.RLock()
	session, ok := r.sessions[connectionID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return session.Deliver(event)
}

// CloseAll unregisters every session so transport write loops can send
// their close frames and exit. Used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		r.Unregister(id)
	}
}

// SessionCount reports how many sessions are registered.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SubscriberCount reports how many sessions a topic currently has.
func (r *Registry) SubscriberCount(topic Topic) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}
