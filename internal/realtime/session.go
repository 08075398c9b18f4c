package realtime

import (
	"encoding/json"
	"sync"
	"time"
)

// Event is one outbound message queued for a subscribed session.
type Event struct {
	Topic      string          `json:"topic"`
	Name       string          `json:"event"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

const defaultSessionQueue = 32

// Session is one live operator connection. The transport drains Events
// from the queue; the registry fills it. A full queue drops the event
// rather than block the publisher.
type Session struct {
	ID     string
	UserID string
	Role   string

	send      chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewSession builds a session with the given outbound queue size.
// A non-positive queue size falls back to the default.
func NewSession(id, userID, role string, queue int) *Session {
	if queue <= 0 {
		queue = defaultSessionQueue
	}
	return &Session{
		ID:     id,
		UserID: userID,
		Role:   role,
		send:   make(chan Event, queue),
		done:   make(chan struct{}),
	}
}

// Events is the outbound queue drained by the transport write loop.
func (s *Session) Events() <-chan Event {
	return s.send
}

// Done closes when the session is shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Deliver enqueues an event without blocking. It reports false when the
// session is closed or its queue is full.
func (s *Session) Deliver(event Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- event:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

// Close shuts the session down. Safe to call more than once and safe
// against concurrent Deliver calls; the send channel is never closed.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// Closed reports whether Close has run.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
