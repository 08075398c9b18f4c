package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"sensorfleet-cloud/internal/audit"
	"sensorfleet-cloud/internal/auth"
	mdapp "sensorfleet-cloud/internal/masterdata/application"
	masterdata "sensorfleet-cloud/internal/masterdata/domain"
)

// Handler provides device and location HTTP endpoints.
type Handler struct {
	devices     *mdapp.DeviceService
	locations   *mdapp.LocationService
	auditLogger audit.Logger
}

// NewHandler constructs a handler.
func NewHandler(devices *mdapp.DeviceService, locations *mdapp.LocationService, auditLogger audit.Logger) (*Handler, error) {
	if devices == nil {
		return nil, errors.New("masterdata handler: nil device service")
	}
	if locations == nil {
		return nil, errors.New("masterdata handler: nil location service")
	}
	return &Handler{devices: devices, locations: locations, auditLogger: auditLogger}, nil
}

// ServeHTTP handles /api/v1/devices, /api/v1/locations and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/devices":
		h.handleDevices(w, r)
		return
	case strings.HasPrefix(r.URL.Path, "/api/v1/devices/"):
		h.handleDevice(w, r)
		return
	case r.URL.Path == "/api/v1/locations":
		h.handleLocations(w, r)
		return
	case strings.HasPrefix(r.URL.Path, "/api/v1/locations/"):
		h.handleLocation(w, r)
		return
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
}

func (h *Handler) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	locationID := r.URL.Query().Get("location_id")
	list, err := h.devices.List(r.Context(), locationID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, list)
}

func (h *Handler) handleDevice(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/devices/")
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGetDevice(w, r, parts[0])
		return
	case len(parts) == 2 && parts[1] == "armed":
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleSetArmed(w, r, parts[0])
		return
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
}

func (h *Handler) handleGetDevice(w http.ResponseWriter, r *http.Request, id string) {
	device, err := h.devices.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, masterdata.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, device)
}

func (h *Handler) handleSetArmed(w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		Armed *bool `json:"armed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if body.Armed == nil {
		http.Error(w, "armed is required", http.StatusBadRequest)
		return
	}

	actorID := auth.UserIDFromContext(r.Context())
	device, err := h.devices.SetArmed(r.Context(), id, *body.Armed, actorID)
	if err != nil {
		if errors.Is(err, masterdata.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, device)

	action := "device.disarm"
	if *body.Armed {
		action = "device.arm"
	}
	h.logAudit(r, action, id)
}

func (h *Handler) logAudit(r *http.Request, action, deviceID string) {
	if h.auditLogger == nil {
		return
	}
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        auth.UserIDFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "device",
		ResourceID:   deviceID,
		DeviceID:     deviceID,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func (h *Handler) handleLocations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	list, err := h.locations.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, list)
}

func (h *Handler) handleLocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/locations/")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	location, err := h.locations.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, masterdata.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, location)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
