package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"sensorfleet-cloud/internal/eventing"
	"sensorfleet-cloud/internal/eventing/eventbus"
	eventingrepo "sensorfleet-cloud/internal/eventing/infrastructure/postgres"
	mdapp "sensorfleet-cloud/internal/masterdata/application"
	masterdata "sensorfleet-cloud/internal/masterdata/domain"
	mdpostgres "sensorfleet-cloud/internal/masterdata/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

func TestMasterdata_DeviceArmDisarm(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	for _, table := range []string{"locations", "devices", "event_outbox"} {
		if !tableExists(db, table) {
			t.Skipf("missing table %s; run migrations", table)
		}
	}

	ctx := context.Background()
	deviceID := "device-md-001"
	locationID := "loc-md-001"
	_, _ = db.ExecContext(ctx, "DELETE FROM event_outbox")
	_, _ = db.ExecContext(ctx, "DELETE FROM devices WHERE id = $1", deviceID)
	_, _ = db.ExecContext(ctx, "DELETE FROM locations WHERE id = $1", locationID)

	locationRepo := mdpostgres.NewLocationRepository(db)
	if err := locationRepo.Save(ctx, &masterdata.Location{
		ID:       locationID,
		Name:     "assembly hall",
		Timezone: "UTC",
	}); err != nil {
		t.Fatalf("save location: %v", err)
	}

	baseBus := eventbus.NewInMemoryBus()
	outboxStore := eventingrepo.NewOutboxStore(db)
	publisher := eventing.NewPublisher(outboxStore, baseBus)

	deviceRepo := mdpostgres.NewDeviceRepository(db)
	service, err := mdapp.NewDeviceService(deviceRepo, publisher, zerolog.Nop())
	if err != nil {
		t.Fatalf("device service: %v", err)
	}

	if err := service.Upsert(ctx, &masterdata.Device{
		ID:         deviceID,
		LocationID: locationID,
		Name:       "hall sensor pod",
		Kind:       "environmental",
		Armed:      false,
	}); err != nil {
		t.Fatalf("upsert device: %v", err)
	}

	loaded, err := service.Get(ctx, deviceID)
	if err != nil {
		t.Fatalf("get device: %v", err)
	}
	if loaded.Armed {
		t.Fatalf("expected device to start disarmed")
	}

	armed, err := service.SetArmed(ctx, deviceID, true, "admin-1")
	if err != nil {
		t.Fatalf("arm device: %v", err)
	}
	if !armed.Armed {
		t.Fatalf("expected armed device")
	}

	// Arming an armed device is a no-op and must not queue a second event.
	if _, err := service.SetArmed(ctx, deviceID, true, "admin-1"); err != nil {
		t.Fatalf("re-arm device: %v", err)
	}

	var outboxCount int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM event_outbox").Scan(&outboxCount); err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if outboxCount != 1 {
		t.Fatalf("expected 1 config change event, got %d", outboxCount)
	}

	reloaded, err := deviceRepo.Get(ctx, deviceID)
	if err != nil {
		t.Fatalf("reload device: %v", err)
	}
	if reloaded == nil || !reloaded.Armed {
		t.Fatalf("expected persisted armed flag")
	}

	byLocation, err := deviceRepo.ListByLocation(ctx, locationID)
	if err != nil {
		t.Fatalf("list by location: %v", err)
	}
	if len(byLocation) != 1 || byLocation[0].ID != deviceID {
		t.Fatalf("list by location mismatch: %+v", byLocation)
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
