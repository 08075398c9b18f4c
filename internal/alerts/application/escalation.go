package application

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	alertevents "sensorfleet-cloud/internal/alerts/application/events"
	alerts "sensorfleet-cloud/internal/alerts/domain"
	"sensorfleet-cloud/internal/observability/metrics"
)

// EscalationStore provides the alert queries the escalator needs.
type EscalationStore interface {
	ListActiveBefore(ctx context.Context, severity string, cutoff time.Time, maxLevel int) ([]alerts.Alert, error)
	MarkEscalated(ctx context.Context, id, severity string, level int, at time.Time) error
}

var severityLadder = map[string]string{
	"low":      "medium",
	"medium":   "high",
	"high":     "critical",
	"critical": "critical",
}

// Escalator periodically bumps alerts that stay active past their
// severity's attention window.
type Escalator struct {
	store     EscalationStore
	publisher EventPublisher
	cfg       EscalationConfig
	clock     Clock
	logger    zerolog.Logger
	running   atomic.Bool
}

// EscalatorOption customizes the escalator.
type EscalatorOption func(*Escalator)

// WithEscalatorClock assigns a clock.
func WithEscalatorClock(clock Clock) EscalatorOption {
	return func(e *Escalator) {
		e.clock = clock
	}
}

// NewEscalator constructs an escalator.
func NewEscalator(store EscalationStore, publisher EventPublisher, cfg EscalationConfig, logger zerolog.Logger, opts ...EscalatorOption) (*Escalator, error) {
	if store == nil {
		return nil, errors.New("alerts: nil escalation store")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	escalator := &Escalator{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		clock:     systemClock{},
		logger:    logger.With().Str("component", "alert-escalator").Logger(),
	}
	for _, opt := range opts {
		opt(escalator)
	}
	return escalator, nil
}

// ProcessEscalations runs one scan over all severities and returns how
// many alerts were escalated. Overlapping scans are skipped.
func (e *Escalator) ProcessEscalations(ctx context.Context) (int, error) {
	if e == nil {
		return 0, errors.New("alerts: nil escalator")
	}
	if !e.running.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer e.running.Store(false)

	now := e.clock.Now().UTC()
	escalated := 0
	var firstErr error
	for _, level := range e.cfg.Levels {
		cutoff := now.Add(-level.After())
		list, err := e.store.ListActiveBefore(ctx, level.Severity, cutoff, e.cfg.MaxEscalations)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for i := range list {
			if err := e.escalate(ctx, &list[i], now); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			escalated++
		}
	}
	return escalated, firstErr
}

func (e *Escalator) escalate(ctx context.Context, alert *alerts.Alert, now time.Time) error {
	previous := alert.Severity
	next, ok := severityLadder[alert.Severity]
	if !ok {
		e.logger.Warn().Str("alert_id", alert.ID).Str("severity", alert.Severity).Msg("unknown severity, skipping escalation")
		return nil
	}
	level := alert.EscalationLevel + 1
	if err := e.store.MarkEscalated(ctx, alert.ID, next, level, now); err != nil {
		return err
	}
	alert.Severity = next
	alert.EscalationLevel = level
	alert.LastEscalatedAt = now
	alert.UpdatedAt = now

	metrics.IncAlertEscalated(next)
	e.logger.Info().
		Str("alert_id", alert.ID).
		Str("device_id", alert.DeviceID).
		Str("from", previous).
		Str("to", next).
		Int("level", level).
		Msg("alert escalated")

	if e.publisher != nil {
		event := alertevents.AlertEscalated{
			Alert:            *alert,
			DeviceID:         alert.DeviceID,
			PreviousSeverity: previous,
			Level:            level,
			OccurredAt:       now,
		}
		if err := e.publisher.Publish(ctx, event); err != nil {
			e.logger.Warn().Err(err).Str("alert_id", alert.ID).Msg("escalation event not published")
		}
	}
	return nil
}
