package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"sensorfleet-cloud/internal/audit"
	"sensorfleet-cloud/internal/auth"
	ruleapp "sensorfleet-cloud/internal/rules/application"
	rules "sensorfleet-cloud/internal/rules/domain"
)

// Handler provides rule authoring HTTP endpoints.
type Handler struct {
	service     *ruleapp.AuthoringService
	auditLogger audit.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *ruleapp.AuthoringService, auditLogger audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("rules handler: nil service")
	}
	return &Handler{service: service, auditLogger: auditLogger}, nil
}

// ServeHTTP handles /api/v1/rules and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/rules":
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r)
		case http.MethodPost:
			h.handleCreate(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	case r.URL.Path == "/api/v1/rules/test":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleTest(w, r)
		return
	case strings.HasPrefix(r.URL.Path, "/api/v1/rules/"):
		h.handleRule(w, r)
		return
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context(), r.URL.Query().Get("device_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, list)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var rule rules.SensorRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := h.service.Create(r.Context(), &rule); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(rule)

	h.logAudit(r, "rule.create", &rule)
}

func (h *Handler) handleRule(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/rules/")
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		h.handleRuleByID(w, r, parts[0])
		return
	case len(parts) == 2 && parts[1] == "enable":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		err := h.service.Enable(r.Context(), parts[0])
		h.respondAction(w, err)
		if err == nil {
			h.logAudit(r, "rule.enable", &rules.SensorRule{ID: parts[0]})
		}
		return
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
}

func (h *Handler) handleRuleByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		rule, err := h.service.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, rules.ErrNotFound) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, rule)
	case http.MethodPut:
		var rule rules.SensorRule
		if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		rule.ID = id
		if err := h.service.Update(r.Context(), &rule); err != nil {
			if errors.Is(err, rules.ErrNotFound) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, rule)
		h.logAudit(r, "rule.update", &rule)
	case http.MethodDelete:
		// Soft-disable so historical alerts keep their rule reference.
		err := h.service.Disable(r.Context(), id)
		h.respondAction(w, err)
		if err == nil {
			h.logAudit(r, "rule.disable", &rules.SensorRule{ID: id})
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) respondAction(w http.ResponseWriter, err error) {
	if err != nil {
		if errors.Is(err, rules.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type testRequest struct {
	Config  rules.RuleConfig `json:"config"`
	Value   float64          `json:"value"`
	History []float64        `json:"history"`
}

func (h *Handler) handleTest(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	verdict, err := h.service.Test(req.Config, req.Value, req.History)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, verdict)
}

func (h *Handler) logAudit(r *http.Request, action string, rule *rules.SensorRule) {
	if h.auditLogger == nil || rule == nil {
		return
	}
	var meta json.RawMessage
	if rule.DeviceID != "" {
		meta, _ = json.Marshal(map[string]any{
			"device_id": rule.DeviceID,
			"sensor_id": rule.SensorID,
			"severity":  rule.Config.Severity,
		})
	}
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        auth.UserIDFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "sensor_rule",
		ResourceID:   rule.ID,
		DeviceID:     rule.DeviceID,
		Metadata:     meta,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
