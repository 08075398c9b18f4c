package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	metricPrefix = "sensorfleet_"

	resultSuccess = "success"
	resultError   = "error"

	commandResultAcked   = "acked"
	commandResultFailed  = "failed"
	commandResultTimeout = "timeout"
)

var (
	registerOnce sync.Once

	ruleEvaluations   prometheus.Counter
	evaluationLatency prometheus.Histogram

	alertsRaised     *prometheus.CounterVec
	alertsSuppressed prometheus.Counter
	dispatchFailures prometheus.Counter
	alertTransitions *prometheus.CounterVec
	alertsEscalated  *prometheus.CounterVec

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	consumerLag *prometheus.GaugeVec

	commandRequests prometheus.Counter
	commandResults  *prometheus.CounterVec

	realtimeSessions      prometheus.Gauge
	realtimeSubscriptions *prometheus.GaugeVec
	messagesDelivered     *prometheus.CounterVec
	messagesDropped       *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger zerolog.Logger) {
	registerOnce.Do(func() {
		ruleEvaluations = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "rule_evaluations_total",
				Help: "Total rule evaluations",
			},
		)
		evaluationLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "rule_evaluation_latency_seconds",
				Help:    "Latency of evaluating one reading against its rules",
				Buckets: prometheus.DefBuckets,
			},
		)

		alertsRaised = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_raised_total",
				Help: "Total alerts raised by severity",
			},
			[]string{"severity"},
		)
		alertsSuppressed = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_suppressed_total",
				Help: "Total rule triggers suppressed by cooldown",
			},
		)
		dispatchFailures = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_dispatch_failures_total",
				Help: "Total alert dispatches that failed",
			},
		)
		alertTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_transitions_total",
				Help: "Total alert status transitions",
			},
			[]string{"status"},
		)
		alertsEscalated = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_escalated_total",
				Help: "Total alert escalations by resulting severity",
			},
			[]string{"severity"},
		)

		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		consumerLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "event_consumer_lag_seconds",
				Help: "Consumer processing lag in seconds",
			},
			[]string{"consumer"},
		)

		commandRequests = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_requests_total",
				Help: "Total issued device commands",
			},
		)
		commandResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_results_total",
				Help: "Total command results by status",
			},
			[]string{"status"},
		)

		realtimeSessions = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "realtime_sessions",
				Help: "Connected realtime sessions",
			},
		)
		realtimeSubscriptions = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "realtime_subscriptions",
				Help: "Live topic subscriptions by topic kind",
			},
			[]string{"kind"},
		)
		messagesDelivered = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "realtime_messages_delivered_total",
				Help: "Total realtime messages delivered by topic kind",
			},
			[]string{"kind"},
		)
		messagesDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "realtime_messages_dropped_total",
				Help: "Total realtime messages dropped by reason",
			},
			[]string{"reason"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_export_total",
				Help: "Total alert export operations by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "alert_export_latency_seconds",
				Help:    "Alert export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			ruleEvaluations,
			evaluationLatency,
			alertsRaised,
			alertsSuppressed,
			dispatchFailures,
			alertTransitions,
			alertsEscalated,
			ingestRequests,
			ingestErrors,
			ingestLatency,
			consumerLag,
			commandRequests,
			commandResults,
			realtimeSessions,
			realtimeSubscriptions,
			messagesDelivered,
			messagesDropped,
			exportTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// IncRuleEvaluation counts one rule evaluation.
func IncRuleEvaluation() {
	if ruleEvaluations != nil {
		ruleEvaluations.Inc()
	}
}

// ObserveEvaluation records how long one reading took to evaluate.
func ObserveEvaluation(duration time.Duration) {
	if evaluationLatency != nil {
		evaluationLatency.Observe(duration.Seconds())
	}
}

// IncAlertRaised counts a raised alert.
func IncAlertRaised(severity string) {
	if severity == "" {
		severity = "unknown"
	}
	if alertsRaised != nil {
		alertsRaised.WithLabelValues(severity).Inc()
	}
}

// IncAlertSuppressed counts a cooldown suppression.
func IncAlertSuppressed() {
	if alertsSuppressed != nil {
		alertsSuppressed.Inc()
	}
}

// IncDispatchFailure counts a failed alert dispatch.
func IncDispatchFailure() {
	if dispatchFailures != nil {
		dispatchFailures.Inc()
	}
}

// IncAlertTransition counts an alert status transition.
func IncAlertTransition(status string) {
	if status == "" {
		status = "unknown"
	}
	if alertTransitions != nil {
		alertTransitions.WithLabelValues(status).Inc()
	}
}

// IncAlertEscalated counts an escalation by resulting severity.
func IncAlertEscalated(severity string) {
	if severity == "" {
		severity = "unknown"
	}
	if alertsEscalated != nil {
		alertsEscalated.WithLabelValues(severity).Inc()
	}
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// ObserveConsumerLag sets consumer lag in seconds.
func ObserveConsumerLag(consumer string, lag time.Duration) {
	if consumer == "" {
		consumer = "unknown"
	}
	if lag < 0 {
		lag = 0
	}
	if consumerLag != nil {
		consumerLag.WithLabelValues(consumer).Set(lag.Seconds())
	}
}

// IncCommandIssued increments issued command counter.
func IncCommandIssued() {
	if commandRequests != nil {
		commandRequests.Inc()
	}
}

// IncCommandResult increments command result counter.
func IncCommandResult(status string) {
	if status == "" {
		status = "unknown"
	}
	if commandResults != nil {
		commandResults.WithLabelValues(status).Inc()
	}
}

// AddCommandTimeouts increments timeout counter by count.
func AddCommandTimeouts(count int) {
	if count <= 0 {
		return
	}
	if commandResults != nil {
		commandResults.WithLabelValues(commandResultTimeout).Add(float64(count))
	}
}

// SessionOpened increments the connected session gauge.
func SessionOpened() {
	if realtimeSessions != nil {
		realtimeSessions.Inc()
	}
}

// SessionClosed decrements the connected session gauge.
func SessionClosed() {
	if realtimeSessions != nil {
		realtimeSessions.Dec()
	}
}

// SubscriptionAdded increments the subscription gauge for a topic kind.
func SubscriptionAdded(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if realtimeSubscriptions != nil {
		realtimeSubscriptions.WithLabelValues(kind).Inc()
	}
}

// SubscriptionRemoved decrements the subscription gauge for a topic kind.
func SubscriptionRemoved(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if realtimeSubscriptions != nil {
		realtimeSubscriptions.WithLabelValues(kind).Dec()
	}
}

// IncMessageDelivered counts a delivered realtime message.
func IncMessageDelivered(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if messagesDelivered != nil {
		messagesDelivered.WithLabelValues(kind).Inc()
	}
}

// IncMessageDropped counts a dropped realtime message.
func IncMessageDropped(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if messagesDropped != nil {
		messagesDropped.WithLabelValues(reason).Inc()
	}
}

// ObserveAlertExport records export latency and result.
func ObserveAlertExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	CommandResultAcked   = commandResultAcked
	CommandResultFailed  = commandResultFailed
	CommandResultTimeout = commandResultTimeout
)
