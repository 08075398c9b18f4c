package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	telemetry "sensorfleet-cloud/internal/telemetry/domain"
	telemetrypostgres "sensorfleet-cloud/internal/telemetry/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestReadingRepository_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if !tableExists(db, "readings") {
		t.Skip("readings missing; run migrations")
	}

	ctx := context.Background()
	deviceID := "device-readings-it"
	sensorID := "temp"
	base := time.Date(2026, time.January, 21, 9, 0, 0, 0, time.UTC)

	_, _ = db.ExecContext(ctx, "DELETE FROM readings WHERE device_id = $1", deviceID)

	repo := telemetrypostgres.NewReadingRepository(db)

	batch := []telemetry.Reading{
		{DeviceID: deviceID, SensorID: sensorID, Value: 20.0, At: base},
		{DeviceID: deviceID, SensorID: sensorID, Value: 21.5, At: base.Add(time.Minute)},
		{DeviceID: deviceID, SensorID: sensorID, Value: 22.1, At: base.Add(2 * time.Minute)},
		{DeviceID: deviceID, SensorID: "humidity", Value: 60.0, At: base.Add(time.Minute)},
	}
	if err := repo.InsertReadings(ctx, batch); err != nil {
		t.Fatalf("insert readings: %v", err)
	}

	// Re-inserting the same (device, sensor, ts) overwrites the value
	// instead of duplicating the row.
	if err := repo.InsertReadings(ctx, []telemetry.Reading{
		{DeviceID: deviceID, SensorID: sensorID, Value: 23.0, At: base.Add(2 * time.Minute)},
	}); err != nil {
		t.Fatalf("upsert reading: %v", err)
	}

	var total int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM readings WHERE device_id = $1", deviceID).Scan(&total); err != nil {
		t.Fatalf("count readings: %v", err)
	}
	if total != 4 {
		t.Fatalf("expected 4 rows after upsert, got %d", total)
	}

	recent, err := repo.ListRecent(ctx, deviceID, sensorID, base.Add(3*time.Minute), 10*time.Minute, 5)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 recent readings, got %d", len(recent))
	}
	if !recent[0].At.Equal(base) || !recent[2].At.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("expected oldest-first order: %+v", recent)
	}
	if recent[2].Value != 23.0 {
		t.Fatalf("expected upserted value 23.0, got %v", recent[2].Value)
	}

	// Window bound excludes rows older than before minus window.
	windowed, err := repo.ListRecent(ctx, deviceID, sensorID, base.Add(3*time.Minute), 90*time.Second, 5)
	if err != nil {
		t.Fatalf("list windowed: %v", err)
	}
	if len(windowed) != 1 {
		t.Fatalf("expected 1 reading inside window, got %d", len(windowed))
	}
	if !windowed[0].At.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("window picked wrong row: %+v", windowed[0])
	}

	// Limit keeps the newest rows while preserving oldest-first order.
	limited, err := repo.ListRecent(ctx, deviceID, sensorID, base.Add(3*time.Minute), 0, 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(limited))
	}
	if !limited[0].At.Equal(base.Add(time.Minute)) || !limited[1].At.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("limit picked wrong rows: %+v", limited)
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
