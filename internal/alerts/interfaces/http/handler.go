package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sensorfleet-cloud/internal/alerts/application"
	alerts "sensorfleet-cloud/internal/alerts/domain"
	alertrepo "sensorfleet-cloud/internal/alerts/infrastructure/postgres"
	"sensorfleet-cloud/internal/audit"
	"sensorfleet-cloud/internal/auth"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Handler provides alert HTTP endpoints.
type Handler struct {
	service     *application.Service
	auditLogger audit.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *application.Service, auditLogger audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("alerts handler: nil service")
	}
	return &Handler{service: service, auditLogger: auditLogger}, nil
}

// ServeHTTP handles /api/v1/alerts and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/v1/alerts" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleList(w, r)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/")
	if rest == r.URL.Path {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch {
	case rest == "export":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleExport(w, r)
	case strings.HasSuffix(rest, "/acknowledge"):
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleTransition(w, r, strings.TrimSuffix(rest, "/acknowledge"), false)
	case strings.HasSuffix(rest, "/resolve"):
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleTransition(w, r, strings.TrimSuffix(rest, "/resolve"), true)
	case !strings.Contains(rest, "/"):
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGet(w, r, rest)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		http.Error(w, "list alerts error", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []alerts.Alert{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	alert, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, alerts.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, "get alert error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(alert)
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request, id string, resolve bool) {
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	actorID := auth.UserIDFromContext(r.Context())
	if actorID == "" {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var (
		updated *alerts.Alert
		err     error
		action  = "alert.acknowledge"
	)
	if resolve {
		action = "alert.resolve"
		updated, err = h.service.Resolve(r.Context(), id, actorID)
	} else {
		updated, err = h.service.Acknowledge(r.Context(), id, actorID)
	}
	if err != nil {
		switch {
		case errors.Is(err, alerts.ErrNotFound):
			w.WriteHeader(http.StatusNotFound)
		case errors.Is(err, alerts.ErrConflict):
			http.Error(w, "alert not in an actionable state", http.StatusConflict)
		default:
			http.Error(w, "alert transition error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(updated)
	h.logAudit(r, action, updated)
}

func (h *Handler) logAudit(r *http.Request, action string, alert *alerts.Alert) {
	if h.auditLogger == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"status":   alert.Status,
		"severity": alert.Severity,
	})
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        auth.UserIDFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "alert",
		ResourceID:   alert.ID,
		DeviceID:     alert.DeviceID,
		Metadata:     meta,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func parseListFilter(r *http.Request) (alertrepo.ListFilter, error) {
	query := r.URL.Query()
	filter := alertrepo.ListFilter{
		DeviceID: query.Get("device_id"),
		Severity: query.Get("severity"),
		Limit:    defaultListLimit,
	}

	if status := query.Get("status"); status != "" {
		if !alerts.ValidStatus(status) {
			return alertrepo.ListFilter{}, errors.New("status must be active, acknowledged or resolved")
		}
		filter.Status = status
	}
	if value := query.Get("from"); value != "" {
		from, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return alertrepo.ListFilter{}, errors.New("from must be RFC3339")
		}
		filter.From = from.UTC()
	}
	if value := query.Get("to"); value != "" {
		to, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return alertrepo.ListFilter{}, errors.New("to must be RFC3339")
		}
		filter.To = to.UTC()
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.To.After(filter.From) {
		return alertrepo.ListFilter{}, errors.New("to must be after from")
	}
	if value := query.Get("limit"); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil || limit <= 0 {
			return alertrepo.ListFilter{}, errors.New("limit must be a positive integer")
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}
		filter.Limit = limit
	}
	return filter, nil
}
