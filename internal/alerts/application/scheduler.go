package application

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// EscalationScheduler drives the escalator on a fixed interval.
type EscalationScheduler struct {
	escalator *Escalator
	interval  time.Duration
	logger    zerolog.Logger
}

// NewEscalationScheduler constructs a scheduler.
func NewEscalationScheduler(escalator *Escalator, interval time.Duration, logger zerolog.Logger) *EscalationScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &EscalationScheduler{
		escalator: escalator,
		interval:  interval,
		logger:    logger.With().Str("component", "escalation-scheduler").Logger(),
	}
}

// Start begins the scheduler loop and blocks until the context ends.
func (s *EscalationScheduler) Start(ctx context.Context) {
	if s == nil || s.escalator == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := s.escalator.ProcessEscalations(ctx)
			if err != nil {
				s.logger.Error().Err(err).Msg("escalation scan failed")
			}
			if count > 0 {
				s.logger.Info().Int("escalated", count).Msg("escalation scan complete")
			}
		}
	}
}
