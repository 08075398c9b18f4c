package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Gauges backed by count queries; sampled on every scrape, so they stay
// cheap single-row aggregates.
var dbGauges = []struct {
	name  string
	help  string
	query string
}{
	{
		name:  "event_outbox_pending",
		help:  "Pending outbox records",
		query: "SELECT COUNT(*) FROM event_outbox WHERE status = 'pending'",
	},
	{
		name:  "event_dlq_count",
		help:  "Dead letter queue records",
		query: "SELECT COUNT(*) FROM dead_letter_events",
	},
}

func registerDBMetrics(db *sql.DB, logger zerolog.Logger) {
	for _, gauge := range dbGauges {
		query := gauge.query
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + gauge.name,
				Help: gauge.help,
			},
			func() float64 {
				return queryCount(db, logger, query)
			},
		))
	}
}

func queryCount(db *sql.DB, logger zerolog.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		logger.Warn().Err(err).Str("query", query).Msg("metrics query failed")
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
