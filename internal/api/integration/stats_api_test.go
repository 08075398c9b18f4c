package integration_test

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	alertsapp "sensorfleet-cloud/internal/alerts/application"
	alerts "sensorfleet-cloud/internal/alerts/domain"
	alertrepo "sensorfleet-cloud/internal/alerts/infrastructure/postgres"
	alertshttp "sensorfleet-cloud/internal/alerts/interfaces/http"
	apihttp "sensorfleet-cloud/internal/api/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

func TestStatsAndExportAPI(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if !tableExists(db, "alerts") {
		t.Skip("alerts missing; run migrations")
	}

	ctx := context.Background()
	_, _ = db.ExecContext(ctx, "DELETE FROM alerts")

	base := time.Now().UTC().Add(-30 * time.Minute).Truncate(time.Second)
	repo := alertrepo.NewAlertRepository(db)
	seed := []alerts.Alert{
		{
			ID: "alert-stats-001", DeviceID: "dev-stats", SensorID: "temp", SensorRuleID: "rule-stats",
			Severity: "high", Message: "temp high", Status: alerts.StatusActive, Value: 91,
			TriggeredAt: base,
		},
		{
			ID: "alert-stats-002", DeviceID: "dev-stats", SensorID: "temp", SensorRuleID: "rule-stats",
			Severity: "high", Message: "temp high again", Status: alerts.StatusActive, Value: 95,
			TriggeredAt: base.Add(5 * time.Minute),
		},
		{
			ID: "alert-stats-003", DeviceID: "dev-stats", SensorID: "humidity", SensorRuleID: "rule-stats-hum",
			Severity: "low", Message: "humidity low", Status: alerts.StatusResolved, Value: 12,
			TriggeredAt: base.Add(10 * time.Minute),
			ResolvedAt:  base.Add(20 * time.Minute), ResolvedBy: "ops-1",
		},
	}
	for i := range seed {
		if err := repo.Create(ctx, &seed[i]); err != nil {
			t.Fatalf("seed alert %s: %v", seed[i].ID, err)
		}
	}

	service, err := alertsapp.NewService(repo, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("alert service: %v", err)
	}
	alertsHandler, err := alertshttp.NewHandler(service, nil)
	if err != nil {
		t.Fatalf("alerts handler: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/alerts", alertsHandler)
	mux.Handle("/api/v1/alerts/", alertsHandler)
	mux.Handle("/api/v1/stats", apihttp.NewStatsHandler(service))

	server := httptest.NewServer(mux)
	defer server.Close()

	since := base.Add(-time.Hour).Format(time.RFC3339)
	statsResp, err := http.Get(server.URL + "/api/v1/stats?since=" + since)
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	defer statsResp.Body.Close()
	if statsResp.StatusCode != http.StatusOK {
		t.Fatalf("stats status: %d", statsResp.StatusCode)
	}

	var stats struct {
		Total        int `json:"total"`
		Active       int `json:"active"`
		Acknowledged int `json:"acknowledged"`
		Resolved     int `json:"resolved"`
		Counts       []struct {
			Status   string `json:"status"`
			Severity string `json:"severity"`
			Count    int    `json:"count"`
		} `json:"counts"`
	}
	if err := json.NewDecoder(statsResp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 3 || stats.Active != 2 || stats.Resolved != 1 {
		t.Fatalf("stats mismatch: total=%d active=%d resolved=%d", stats.Total, stats.Active, stats.Resolved)
	}
	foundActiveHigh := false
	for _, count := range stats.Counts {
		if count.Status == alerts.StatusActive && count.Severity == "high" {
			foundActiveHigh = true
			if count.Count != 2 {
				t.Fatalf("active/high count: got %d", count.Count)
			}
		}
	}
	if !foundActiveHigh {
		t.Fatalf("missing active/high cell: %+v", stats.Counts)
	}

	csvResp, err := http.Get(server.URL + "/api/v1/alerts/export?format=csv&device_id=dev-stats")
	if err != nil {
		t.Fatalf("get csv export: %v", err)
	}
	defer csvResp.Body.Close()
	if csvResp.StatusCode != http.StatusOK {
		t.Fatalf("csv status: %d", csvResp.StatusCode)
	}
	records, err := csv.NewReader(csvResp.Body).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected header + 3 rows, got %d", len(records))
	}
	if records[0][0] != "id" || records[0][1] != "device_id" || records[0][5] != "severity" {
		t.Fatalf("csv header mismatch: %v", records[0])
	}
	if records[1][1] != "dev-stats" {
		t.Fatalf("csv device_id mismatch: %v", records[1][1])
	}

	xlsxResp, err := http.Get(server.URL + "/api/v1/alerts/export?format=xlsx&device_id=dev-stats")
	if err != nil {
		t.Fatalf("get xlsx export: %v", err)
	}
	defer xlsxResp.Body.Close()
	if xlsxResp.StatusCode != http.StatusOK {
		t.Fatalf("xlsx status: %d", xlsxResp.StatusCode)
	}
	if got := xlsxResp.Header.Get("Content-Type"); got != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("xlsx content type: %s", got)
	}
}
