package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"sensorfleet-cloud/internal/audit"
	"sensorfleet-cloud/internal/auth"
	commandsapp "sensorfleet-cloud/internal/commands/application"
	commands "sensorfleet-cloud/internal/commands/domain"
)

// Handler provides command HTTP endpoints.
type Handler struct {
	service     *commandsapp.Service
	auditLogger audit.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *commandsapp.Service, auditLogger audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("commands handler: nil service")
	}
	return &Handler{service: service, auditLogger: auditLogger}, nil
}

// ServeHTTP handles /api/v1/commands and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/commands":
		switch r.Method {
		case http.MethodPost:
			h.handleIssue(w, r)
		case http.MethodGet:
			h.handleList(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	case strings.HasPrefix(r.URL.Path, "/api/v1/commands/"):
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGet(w, r)
		return
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req commandsapp.IssueRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	cmd, err := h.service.IssueCommand(r.Context(), req)
	if err != nil {
		if errors.Is(err, commandsapp.ErrNotFound) {
			http.Error(w, "unknown device", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(commandsapp.ViewOf(cmd))

	h.logAudit(r, cmd)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	fromValue := r.URL.Query().Get("from")
	toValue := r.URL.Query().Get("to")
	if deviceID == "" || fromValue == "" || toValue == "" {
		http.Error(w, "device_id/from/to required", http.StatusBadRequest)
		return
	}
	from, err := time.Parse(time.RFC3339, fromValue)
	if err != nil {
		http.Error(w, "from must be RFC3339", http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, toValue)
	if err != nil {
		http.Error(w, "to must be RFC3339", http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	list, err := h.service.ListCommands(r.Context(), deviceID, from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	views := make([]commandsapp.CommandView, 0, len(list))
	for i := range list {
		views = append(views, commandsapp.ViewOf(&list[i]))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(views)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/commands/")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	cmd, err := h.service.GetCommand(r.Context(), id)
	if err != nil {
		if errors.Is(err, commandsapp.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(commandsapp.ViewOf(cmd))
}

func (h *Handler) logAudit(r *http.Request, cmd *commands.Command) {
	if h.auditLogger == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"device_id": cmd.DeviceID,
		"name":      cmd.Name,
	})
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        auth.UserIDFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       "command.issue",
		ResourceType: "command",
		ResourceID:   cmd.ID,
		DeviceID:     cmd.DeviceID,
		Metadata:     meta,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

// ResultHandler accepts command completion callbacks from the field
// gateway. It sits behind signature auth, not user auth.
type ResultHandler struct {
	service *commandsapp.Service
}

// NewResultHandler constructs a result handler.
func NewResultHandler(service *commandsapp.Service) (*ResultHandler, error) {
	if service == nil {
		return nil, errors.New("commands result handler: nil service")
	}
	return &ResultHandler{service: service}, nil
}

// ServeHTTP handles POST /api/v1/gateway/command-results.
func (h *ResultHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req commandsapp.ResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	cmd, err := h.service.HandleResult(r.Context(), req)
	if err != nil {
		if errors.Is(err, commandsapp.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(commandsapp.ViewOf(cmd))
}
