package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	alertsapp "sensorfleet-cloud/internal/alerts/application"
	alertrepo "sensorfleet-cloud/internal/alerts/infrastructure/postgres"
	"sensorfleet-cloud/internal/eventing"
	"sensorfleet-cloud/internal/eventing/eventbus"
	eventingrepo "sensorfleet-cloud/internal/eventing/infrastructure/postgres"
	rulestelemetry "sensorfleet-cloud/internal/rules/adapters/telemetry"
	rulesapp "sensorfleet-cloud/internal/rules/application"
	rules "sensorfleet-cloud/internal/rules/domain"
	rulesrepo "sensorfleet-cloud/internal/rules/infrastructure/postgres"
	rulesinterfaces "sensorfleet-cloud/internal/rules/interfaces"
	telemetryevents "sensorfleet-cloud/internal/telemetry/application/events"
	telemetrypostgres "sensorfleet-cloud/internal/telemetry/infrastructure/postgres"

	"github.com/rs/zerolog"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestRuleEngineClosedLoop_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	for _, table := range []string{"sensor_rules", "alerts", "readings", "event_outbox"} {
		if !tableExists(db, table) {
			t.Skipf("missing table %s; run migrations", table)
		}
	}

	ctx := context.Background()
	deviceID := "device-it-rules"
	sensorID := "power"

	_, _ = db.ExecContext(ctx, "DELETE FROM alerts")
	_, _ = db.ExecContext(ctx, "DELETE FROM sensor_rules")
	_, _ = db.ExecContext(ctx, "DELETE FROM readings WHERE device_id = $1", deviceID)
	_, _ = db.ExecContext(ctx, "DELETE FROM event_outbox")

	limit := 100.0
	ruleRepo := rulesrepo.NewRuleRepository(db)
	rule := &rules.SensorRule{
		ID:       "rule-it-power",
		DeviceID: deviceID,
		SensorID: sensorID,
		Name:     "power draw high",
		Config: rules.RuleConfig{
			Conditions: []rules.Condition{{Kind: rules.KindThreshold, Operator: rules.OperatorGreater, Value: &limit}},
			Severity:   rules.SeverityHigh,
		},
		EvaluationWindowMinutes:       5,
		ConsecutiveViolationsRequired: 2,
		CooldownMinutes:               10,
		Enabled:                       true,
	}
	if err := ruleRepo.Create(ctx, rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	// Readings ride the bus directly; only the raised alert goes through
	// the outbox, mirroring the production wiring.
	baseBus := eventbus.NewInMemoryBus()
	outboxStore := eventingrepo.NewOutboxStore(db)
	publisher := eventing.NewPublisher(outboxStore, baseBus)

	alertRepo := alertrepo.NewAlertRepository(db)
	alertDispatcher, err := alertsapp.NewDispatcher(alertRepo, publisher, zerolog.Nop())
	if err != nil {
		t.Fatalf("alert dispatcher: %v", err)
	}
	readingRepo := telemetrypostgres.NewReadingRepository(db)
	historyReader, err := rulestelemetry.NewHistoryReader(readingRepo)
	if err != nil {
		t.Fatalf("history reader: %v", err)
	}
	engine, err := rulesapp.NewService(ruleRepo, historyReader, alertDispatcher, zerolog.Nop())
	if err != nil {
		t.Fatalf("rule engine: %v", err)
	}
	consumer, err := rulesinterfaces.NewReadingReceivedConsumer(engine)
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[telemetryevents.ReadingReceived](), "rules.engine", func(ctx context.Context, event any) error {
		evt, ok := event.(telemetryevents.ReadingReceived)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		return consumer.Consume(ctx, evt)
	}, nil)

	start := time.Date(2026, time.February, 3, 10, 0, 0, 0, time.UTC)
	publishReading := func(value float64, at time.Time) {
		t.Helper()
		event := telemetryevents.ReadingReceived{
			EventID:  eventing.NewEventID(),
			DeviceID: deviceID,
			Readings: []telemetryevents.ReadingSample{
				{SensorID: sensorID, Value: value, At: at},
			},
			OccurredAt: at,
		}
		if err := baseBus.Publish(ctx, event); err != nil {
			t.Fatalf("publish reading: %v", err)
		}
	}

	// First violation only arms the debounce counter.
	publishReading(120, start)
	active, err := alertRepo.List(ctx, alertrepo.ListFilter{DeviceID: deviceID})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no alert after first violation, got %d", len(active))
	}

	// Second consecutive violation fires.
	publishReading(125, start.Add(30*time.Second))
	active, err = alertRepo.List(ctx, alertrepo.ListFilter{DeviceID: deviceID})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected one alert after second violation, got %d", len(active))
	}
	if active[0].Severity != "high" || active[0].SensorRuleID != rule.ID {
		t.Fatalf("unexpected alert: %+v", active[0])
	}

	var outboxCount int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM event_outbox").Scan(&outboxCount); err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if outboxCount != 1 {
		t.Fatalf("expected one outbox record for the raised alert, got %d", outboxCount)
	}

	// Another violation inside the cooldown stays suppressed.
	publishReading(130, start.Add(60*time.Second))
	active, err = alertRepo.List(ctx, alertrepo.ListFilter{DeviceID: deviceID})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected cooldown to suppress, got %d alerts", len(active))
	}
}

func tableExists(db *sql.DB, table string) bool {
	var exists bool
	err := db.QueryRow(`
SELECT EXISTS (
	SELECT 1
	FROM information_schema.tables
	WHERE table_schema = 'public' AND table_name = $1
)`, table).Scan(&exists)
	if err != nil {
		return false
	}
	return exists
}
