package correlate

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cwccie/netopshub/pkg/incident"
	"github.com/cwccie/netopshub/pkg/models"
	"github.com/cwccie/netopshub/pkg/plugin"
	"github.com/google/uuid"
)

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/incidents", Handler: m.handleListIncidents},
		{Method: "GET", Path: "/incidents/{id}", Handler: m.handleGetIncident},
		{Method: "GET", Path: "/incidents/{id}/evidence", Handler: m.handleListEvidence},
		{Method: "POST", Path: "/incidents/{id}/transition", Handler: m.handleTransition},
		{Method: "GET", Path: "/windows", Handler: m.handleListWindows},
		{Method: "POST", Path: "/windows", Handler: m.handleSaveWindow},
		{Method: "DELETE", Path: "/windows/{id}", Handler: m.handleDeleteWindow},
	}
}

func (m *Module) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	state := incident.State(r.URL.Query().Get("state"))
	incidents, err := m.store.ListIncidents(r.Context(), state)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list incidents")
		return
	}
	if incidents == nil {
		incidents = []incident.CandidateIncident{}
	}
	writeJSON(w, http.StatusOK, incidents)
}

func (m *Module) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := m.store.GetIncident(r.Context(), r.PathValue("id"))
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load incident")
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (m *Module) handleListEvidence(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := m.store.GetIncident(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "incident not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load incident")
		return
	}
	evidence, err := m.store.Evidence(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list evidence")
		return
	}
	if evidence == nil {
		evidence = []incident.Evidence{}
	}
	writeJSON(w, http.StatusOK, evidence)
}

type transitionRequest struct {
	From incident.State `json:"from"`
	To   incident.State `json:"to"`
	Note string         `json:"note,omitempty"`
}

func (m *Module) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid transition request")
		return
	}
	if req.From == "" || req.To == "" {
		writeError(w, http.StatusBadRequest, "from and to states are required")
		return
	}

	err := m.Transition(r.Context(), r.PathValue("id"), req.From, req.To, req.Note)
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "incident not found")
	case errors.Is(err, ErrIllegalTransition):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, "transition failed")
	default:
		inc, _ := m.store.GetIncident(r.Context(), r.PathValue("id"))
		writeJSON(w, http.StatusOK, inc)
	}
}

func (m *Module) handleListWindows(w http.ResponseWriter, r *http.Request) {
	windows, err := m.store.ListWindows(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list windows")
		return
	}
	if windows == nil {
		windows = []models.MaintenanceWindow{}
	}
	writeJSON(w, http.StatusOK, windows)
}

func (m *Module) handleSaveWindow(w http.ResponseWriter, r *http.Request) {
	var win models.MaintenanceWindow
	if err := json.NewDecoder(r.Body).Decode(&win); err != nil {
		writeError(w, http.StatusBadRequest, "invalid maintenance window")
		return
	}
	if win.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if win.StartTime.IsZero() || win.EndTime.IsZero() {
		writeError(w, http.StatusBadRequest, "start_time and end_time are required")
		return
	}
	switch win.Recurrence {
	case "", "once", "daily", "weekly", "monthly":
	default:
		writeError(w, http.StatusBadRequest, "recurrence must be once, daily, weekly, or monthly")
		return
	}

	now := time.Now().UTC()
	status := http.StatusOK
	if win.ID == "" {
		win.ID = uuid.NewString()
		win.CreatedAt = now
		status = http.StatusCreated
	}
	if win.Recurrence == "" {
		win.Recurrence = "once"
	}
	win.UpdatedAt = now

	if err := m.store.SaveWindow(r.Context(), win); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save window")
		return
	}
	writeJSON(w, status, win)
}

func (m *Module) handleDeleteWindow(w http.ResponseWriter, r *http.Request) {
	err := m.store.DeleteWindow(r.Context(), r.PathValue("id"))
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "window not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete window")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "https://netopshub.dev/problems/" + http.StatusText(status),
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}
