package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	alerts "sensorfleet-cloud/internal/alerts/domain"
	"sensorfleet-cloud/internal/observability/metrics"
	rules "sensorfleet-cloud/internal/rules/domain"
)

// RuleProvider loads the enabled rules bound to one sensor.
type RuleProvider interface {
	ListEnabledForSensor(ctx context.Context, deviceID, sensorID string) ([]rules.SensorRule, error)
}

// HistoryProvider loads recent persisted readings strictly before a
// point in time, used to reseed a cold debounce key after restart.
type HistoryProvider interface {
	ListRecent(ctx context.Context, deviceID, sensorID string, before time.Time, window time.Duration, limit int) ([]rules.Sample, error)
}

// AlertDispatcher persists a triggered alert and hands it to the
// distribution layer.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) (*alerts.Alert, error)
}

// DispatchRequest carries everything needed to raise one alert.
type DispatchRequest struct {
	DeviceID     string
	SensorID     string
	SensorRuleID string
	Severity     string
	Message      string
	Value        float64
	TriggeredAt  time.Time
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

const defaultDispatchTimeout = 5 * time.Second

// Service consumes ingested readings and runs them through rule
// evaluation, debounce tracking and alert dispatch.
type Service struct {
	rules           RuleProvider
	history         HistoryProvider
	dispatcher      AlertDispatcher
	tracker         *Tracker
	clock           Clock
	logger          zerolog.Logger
	dispatchTimeout time.Duration
	historyDepth    int
	shardCount      int
}

// ServiceOption customizes the service.
type ServiceOption func(*Service)

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithDispatchTimeout bounds how long a single alert dispatch may block.
func WithDispatchTimeout(timeout time.Duration) ServiceOption {
	return func(s *Service) {
		if timeout > 0 {
			s.dispatchTimeout = timeout
		}
	}
}

// WithHistoryDepth bounds the in-memory history per rule key.
func WithHistoryDepth(depth int) ServiceOption {
	return func(s *Service) {
		if depth > 0 {
			s.historyDepth = depth
		}
	}
}

// WithTrackerShards sets the number of state shards.
func WithTrackerShards(count int) ServiceOption {
	return func(s *Service) {
		if count > 0 {
			s.shardCount = count
		}
	}
}

// NewService constructs a rule evaluation service.
func NewService(ruleProvider RuleProvider, history HistoryProvider, dispatcher AlertDispatcher, logger zerolog.Logger, opts ...ServiceOption) (*Service, error) {
	if ruleProvider == nil {
		return nil, errors.New("rules: nil rule provider")
	}
	if dispatcher == nil {
		return nil, errors.New("rules: nil dispatcher")
	}
	service := &Service{
		rules:           ruleProvider,
		history:         history,
		dispatcher:      dispatcher,
		clock:           systemClock{},
		logger:          logger.With().Str("component", "rule-engine").Logger(),
		dispatchTimeout: defaultDispatchTimeout,
		historyDepth:    rules.DefaultHistoryDepth,
		shardCount:      defaultTrackerShards,
	}
	for _, opt := range opts {
		opt(service)
	}
	service.tracker = NewTracker(service.shardCount, service.historyDepth)
	return service, nil
}

// HandleReading evaluates one reading against every enabled rule bound
// to its sensor. A failed dispatch is logged and counted but never
// aborts the remaining rules or other sensors of the same batch.
func (s *Service) HandleReading(ctx context.Context, deviceID, sensorID string, value float64, at time.Time) error {
	if s == nil {
		return errors.New("rules: nil service")
	}
	if deviceID == "" || sensorID == "" {
		return errors.New("rules: reading missing device or sensor id")
	}
	at = atOrNow(at, s.clock)

	ruleList, err := s.rules.ListEnabledForSensor(ctx, deviceID, sensorID)
	if err != nil {
		return err
	}
	if len(ruleList) == 0 {
		return nil
	}

	start := time.Now()
	for i := range ruleList {
		s.evaluateRule(ctx, &ruleList[i], value, at)
	}
	metrics.ObserveEvaluation(time.Since(start))
	return nil
}

func (s *Service) evaluateRule(ctx context.Context, rule *rules.SensorRule, value float64, at time.Time) {
	key := rule.StateKey()
	var seed []rules.Sample
	if s.history != nil && s.tracker.NeedsSeed(key) {
		samples, err := s.history.ListRecent(ctx, rule.DeviceID, rule.SensorID, at, rule.EvaluationWindow(), s.historyDepth)
		if err != nil {
			s.logger.Warn().Err(err).Str("rule_id", rule.ID).Msg("history seed failed, starting empty")
		} else {
			seed = samples
		}
	}

	result := s.tracker.Evaluate(rule, value, at, seed)
	metrics.IncRuleEvaluation()

	if result.Suppressed {
		metrics.IncAlertSuppressed()
		s.logger.Debug().
			Str("rule_id", rule.ID).
			Str("device_id", rule.DeviceID).
			Time("cooldown_until", result.CooldownUntil).
			Msg("trigger suppressed by cooldown")
		return
	}
	if !result.Fire {
		return
	}

	message := buildMessage(rule, value, result.Verdict.Matched)
	dispatchCtx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
	defer cancel()
	alert, err := s.dispatcher.Dispatch(dispatchCtx, DispatchRequest{
		DeviceID:     rule.DeviceID,
		SensorID:     rule.SensorID,
		SensorRuleID: rule.ID,
		Severity:     rule.Config.Severity,
		Message:      message,
		Value:        value,
		TriggeredAt:  at,
	})
	if err != nil {
		metrics.IncDispatchFailure()
		s.logger.Error().Err(err).
			Str("device_id", rule.DeviceID).
			Str("sensor_id", rule.SensorID).
			Str("rule_id", rule.ID).
			Float64("value", value).
			Time("at", at).
			Msg("alert dispatch failed")
		return
	}
	metrics.IncAlertRaised(alert.Severity)
	s.logger.Info().
		Str("alert_id", alert.ID).
		Str("rule_id", rule.ID).
		Str("severity", alert.Severity).
		Msg("alert raised")
}

// InvalidateRule drops debounce state for a rule after it is updated,
// disabled or deleted.
func (s *Service) InvalidateRule(deviceID, sensorID, ruleID string) {
	if s == nil || s.tracker == nil {
		return
	}
	s.tracker.Forget(deviceID + "|" + sensorID + "|" + ruleID)
}

// TrackedKeys returns the number of live debounce states.
func (s *Service) TrackedKeys() int {
	if s == nil || s.tracker == nil {
		return 0
	}
	return s.tracker.Len()
}

func buildMessage(rule *rules.SensorRule, value float64, matched []rules.Condition) string {
	if tpl := rule.Config.MessageTemplate; tpl != "" {
		replacer := strings.NewReplacer(
			"{{device}}", rule.DeviceID,
			"{{sensor}}", rule.SensorID,
			"{{rule}}", rule.Name,
			"{{value}}", strconv.FormatFloat(value, 'f', -1, 64),
		)
		return replacer.Replace(tpl)
	}
	parts := make([]string, 0, len(matched))
	for _, cond := range matched {
		parts = append(parts, describeCondition(cond, value))
	}
	if len(parts) == 0 {
		return rule.Name
	}
	return rule.Name + ": " + strings.Join(parts, "; ")
}

func describeCondition(c rules.Condition, value float64) string {
	switch c.Kind {
	case rules.KindThreshold:
		if c.Value == nil {
			return string(c.Kind)
		}
		return fmt.Sprintf("value %g %s %g", value, c.Operator, *c.Value)
	case rules.KindRange:
		return fmt.Sprintf("value %g outside range [%s, %s]", value, boundLabel(c.Min), boundLabel(c.Max))
	case rules.KindChange:
		if c.Threshold == nil {
			return string(c.Kind)
		}
		return fmt.Sprintf("%s change beyond %g", c.Direction, *c.Threshold)
	case rules.KindPattern:
		return fmt.Sprintf("%s pattern detected", c.Shape)
	default:
		return string(c.Kind)
	}
}

func boundLabel(bound *float64) string {
	if bound == nil {
		return "-"
	}
	return strconv.FormatFloat(*bound, 'g', -1, 64)
}

func atOrNow(value time.Time, clock Clock) time.Time {
	if value.IsZero() {
		return clock.Now().UTC()
	}
	return value.UTC()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
