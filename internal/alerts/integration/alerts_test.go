package integration_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	alertsapp "sensorfleet-cloud/internal/alerts/application"
	alerts "sensorfleet-cloud/internal/alerts/domain"
	alertrepo "sensorfleet-cloud/internal/alerts/infrastructure/postgres"
	"sensorfleet-cloud/internal/eventing"
	"sensorfleet-cloud/internal/eventing/eventbus"
	eventingrepo "sensorfleet-cloud/internal/eventing/infrastructure/postgres"
	rulesapp "sensorfleet-cloud/internal/rules/application"

	"github.com/rs/zerolog"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestAlerts_LifecyclePostgres(t *testing.T) {
	db := openDB(t)
	defer db.Close()

	requireAlertTables(t, db)
	ctx := context.Background()
	_, _ = db.ExecContext(ctx, "DELETE FROM alerts")
	_, _ = db.ExecContext(ctx, "DELETE FROM event_outbox")

	baseBus := eventbus.NewInMemoryBus()
	outbox := eventingrepo.NewOutboxStore(db)
	publisher := eventing.NewPublisher(outbox, baseBus)

	repo := alertrepo.NewAlertRepository(db)
	dispatcher, err := alertsapp.NewDispatcher(repo, publisher, zerolog.Nop())
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	service, err := alertsapp.NewService(repo, publisher, zerolog.Nop())
	if err != nil {
		t.Fatalf("service: %v", err)
	}

	triggeredAt := time.Date(2026, time.February, 3, 8, 0, 0, 0, time.UTC)
	raised, err := dispatcher.Dispatch(ctx, rulesapp.DispatchRequest{
		DeviceID:     "dev-300",
		SensorID:     "temp",
		SensorRuleID: "rule-300",
		Severity:     "high",
		Message:      "temperature above limit",
		Value:        42.5,
		TriggeredAt:  triggeredAt,
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if raised.Status != alerts.StatusActive {
		t.Fatalf("expected active, got %s", raised.Status)
	}

	acked, err := service.Acknowledge(ctx, raised.ID, "ops-1")
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if acked.Status != alerts.StatusAcknowledged || acked.AcknowledgedBy != "ops-1" {
		t.Fatalf("unexpected ack state: %+v", acked)
	}

	if _, err := service.Acknowledge(ctx, raised.ID, "ops-2"); !errors.Is(err, alerts.ErrConflict) {
		t.Fatalf("expected conflict on second ack, got %v", err)
	}

	resolved, err := service.Resolve(ctx, raised.ID, "ops-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != alerts.StatusResolved || resolved.ResolvedBy != "ops-1" {
		t.Fatalf("unexpected resolve state: %+v", resolved)
	}

	if _, err := service.Resolve(ctx, raised.ID, "ops-2"); !errors.Is(err, alerts.ErrConflict) {
		t.Fatalf("expected conflict on second resolve, got %v", err)
	}
}

func TestAlerts_EscalationPostgres(t *testing.T) {
	db := openDB(t)
	defer db.Close()

	requireAlertTables(t, db)
	ctx := context.Background()
	_, _ = db.ExecContext(ctx, "DELETE FROM alerts")
	_, _ = db.ExecContext(ctx, "DELETE FROM event_outbox")

	baseBus := eventbus.NewInMemoryBus()
	outbox := eventingrepo.NewOutboxStore(db)
	publisher := eventing.NewPublisher(outbox, baseBus)

	repo := alertrepo.NewAlertRepository(db)
	raisedAt := time.Date(2026, time.February, 3, 9, 0, 0, 0, time.UTC)
	dispatcher, err := alertsapp.NewDispatcher(repo, publisher, zerolog.Nop(),
		alertsapp.WithDispatcherClock(fixedClock{at: raisedAt}))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}

	raised, err := dispatcher.Dispatch(ctx, rulesapp.DispatchRequest{
		DeviceID:     "dev-301",
		SensorID:     "humidity",
		SensorRuleID: "rule-301",
		Severity:     "high",
		Message:      "humidity above limit",
		Value:        96,
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	cfg := alertsapp.EscalationConfig{
		Levels: []alertsapp.EscalationLevel{
			{Severity: "critical", AfterMinutes: 5},
			{Severity: "high", AfterMinutes: 15},
		},
		IntervalSeconds: 60,
		MaxEscalations:  3,
	}
	scanAt := raisedAt.Add(2 * time.Hour)
	escalator, err := alertsapp.NewEscalator(repo, publisher, cfg, zerolog.Nop(),
		alertsapp.WithEscalatorClock(fixedClock{at: scanAt}))
	if err != nil {
		t.Fatalf("escalator: %v", err)
	}

	escalated, err := escalator.ProcessEscalations(ctx)
	if err != nil {
		t.Fatalf("process escalations: %v", err)
	}
	if escalated != 1 {
		t.Fatalf("expected 1 escalation, got %d", escalated)
	}

	bumped, err := repo.GetByID(ctx, raised.ID)
	if err != nil {
		t.Fatalf("get alert: %v", err)
	}
	if bumped.Severity != "critical" || bumped.EscalationLevel != 1 {
		t.Fatalf("unexpected escalation state: severity=%s level=%d", bumped.Severity, bumped.EscalationLevel)
	}

	// The critical window restarts from the escalation, so an immediate
	// rescan leaves the alert alone.
	again, err := escalator.ProcessEscalations(ctx)
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if again != 0 {
		t.Fatalf("expected no further escalation, got %d", again)
	}
}

type fixedClock struct {
	at time.Time
}

func (c fixedClock) Now() time.Time { return c.at }

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return db
}

func requireAlertTables(t *testing.T, db *sql.DB) {
	t.Helper()
	for _, table := range []string{"alerts", "event_outbox"} {
		if !tableExists(db, table) {
			t.Skipf("missing table %s; run migrations", table)
		}
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
