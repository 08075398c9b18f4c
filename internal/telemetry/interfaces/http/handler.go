package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"sensorfleet-cloud/internal/observability/metrics"
	tlmapp "sensorfleet-cloud/internal/telemetry/application"
	telemetry "sensorfleet-cloud/internal/telemetry/domain"
)

// IngestHandler accepts batched readings from field gateways.
type IngestHandler struct {
	ingest *tlmapp.IngestService
	logger zerolog.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(ingest *tlmapp.IngestService, logger zerolog.Logger) (*IngestHandler, error) {
	if ingest == nil {
		return nil, errors.New("telemetry handler: nil ingest service")
	}
	return &IngestHandler{
		ingest: ingest,
		logger: logger.With().Str("component", "telemetry-http").Logger(),
	}, nil
}

// ServeHTTP handles POST /api/v1/telemetry/readings.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		metrics.IncIngestError("read_body")
		metrics.ObserveIngest(metrics.ResultError, time.Since(start))
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		metrics.IncIngestError("decode")
		metrics.ObserveIngest(metrics.ResultError, time.Since(start))
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	batch, err := req.toReadings()
	if err != nil {
		metrics.IncIngestError("payload")
		metrics.ObserveIngest(metrics.ResultError, time.Since(start))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	accepted, err := h.ingest.Ingest(r.Context(), batch)
	if err != nil {
		metrics.IncIngestError("store")
		metrics.ObserveIngest(metrics.ResultError, time.Since(start))
		h.logger.Error().Err(err).Int("batch", len(batch)).Msg("ingest failed")
		http.Error(w, "ingest error", http.StatusInternalServerError)
		return
	}

	metrics.ObserveIngest(metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"accepted": accepted})
}

type ingestRequest struct {
	Readings []ingestReading `json:"readings"`
}

type ingestReading struct {
	DeviceID string  `json:"deviceId"`
	SensorID string  `json:"sensorId"`
	Value    float64 `json:"value"`
	TS       int64   `json:"ts"`
}

func (r ingestRequest) toReadings() ([]telemetry.Reading, error) {
	if len(r.Readings) == 0 {
		return nil, errors.New("no readings")
	}
	batch := make([]telemetry.Reading, 0, len(r.Readings))
	for _, item := range r.Readings {
		if item.DeviceID == "" || item.SensorID == "" {
			return nil, errors.New("missing deviceId/sensorId")
		}
		ts, err := parseTimestamp(item.TS)
		if err != nil {
			return nil, err
		}
		batch = append(batch, telemetry.Reading{
			DeviceID: item.DeviceID,
			SensorID: item.SensorID,
			Value:    item.Value,
			At:       ts,
		})
	}
	return batch, nil
}

func parseTimestamp(value int64) (time.Time, error) {
	if value <= 0 {
		return time.Time{}, errors.New("invalid ts")
	}
	// Accept milliseconds or seconds.
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC(), nil
	}
	return time.Unix(value, 0).UTC(), nil
}
