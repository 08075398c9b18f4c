package apihttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	alerts "sensorfleet-cloud/internal/alerts/domain"
	alertrepo "sensorfleet-cloud/internal/alerts/infrastructure/postgres"
)

const defaultStatsWindow = 24 * time.Hour

// AlertCounter aggregates alert states for dashboards.
type AlertCounter interface {
	CountByStatusSeverity(ctx context.Context, since time.Time) ([]alertrepo.StatusCount, error)
}

// StatsHandler serves the fleet alert statistics endpoint.
type StatsHandler struct {
	counter AlertCounter
}

// NewStatsHandler constructs a StatsHandler.
func NewStatsHandler(counter AlertCounter) *StatsHandler {
	return &StatsHandler{counter: counter}
}

type statsResponse struct {
	Since        time.Time               `json:"since"`
	Total        int                     `json:"total"`
	Active       int                     `json:"active"`
	Acknowledged int                     `json:"acknowledged"`
	Resolved     int                     `json:"resolved"`
	Counts       []alertrepo.StatusCount `json:"counts"`
}

// ServeHTTP handles GET /api/v1/stats. The optional since parameter
// (RFC3339) bounds the window; it defaults to the last 24 hours.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.counter == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	since := time.Now().UTC().Add(-defaultStatsWindow)
	if value := r.URL.Query().Get("since"); value != "" {
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			http.Error(w, "since must be RFC3339", http.StatusBadRequest)
			return
		}
		since = parsed.UTC()
	}

	counts, err := h.counter.CountByStatusSeverity(r.Context(), since)
	if err != nil {
		http.Error(w, "query stats error", http.StatusInternalServerError)
		return
	}

	response := statsResponse{Since: since, Counts: counts}
	if response.Counts == nil {
		response.Counts = []alertrepo.StatusCount{}
	}
	for _, count := range counts {
		response.Total += count.Count
		switch count.Status {
		case alerts.StatusActive:
			response.Active += count.Count
		case alerts.StatusAcknowledged:
			response.Acknowledged += count.Count
		case alerts.StatusResolved:
			response.Resolved += count.Count
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}
