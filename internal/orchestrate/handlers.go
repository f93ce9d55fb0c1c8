package orchestrate

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cwccie/netopshub/internal/gate"
	"github.com/cwccie/netopshub/pkg/incident"
	"github.com/cwccie/netopshub/pkg/plugin"
)

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/runs", Handler: m.handleListRuns},
		{Method: "GET", Path: "/runs/{incident_id}", Handler: m.handleGetRun},
		{Method: "POST", Path: "/runs/{incident_id}/cancel", Handler: m.handleCancelRun},
		{Method: "GET", Path: "/proposals", Handler: m.handleListProposals},
		{Method: "GET", Path: "/proposals/{id}", Handler: m.handleGetProposal},
		{Method: "POST", Path: "/proposals/{id}/approve", Handler: m.handleApprove},
		{Method: "POST", Path: "/proposals/{id}/reject", Handler: m.handleReject},
		{Method: "PUT", Path: "/configs/{device_id}", Handler: m.handlePutConfig},
		{Method: "GET", Path: "/configs/{device_id}", Handler: m.handleGetConfig},
		{Method: "POST", Path: "/audit", Handler: m.handleAudit},
		{Method: "POST", Path: "/forecast", Handler: m.handleForecast},
		{Method: "GET", Path: "/sla", Handler: m.handleSLA},
	}
}

func (m *Module) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := m.store.ListRuns(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (m *Module) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := m.store.GetRun(r.Context(), r.PathValue("incident_id"))
	if errors.Is(err, ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (m *Module) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	err := m.Cancel(r.Context(), r.PathValue("incident_id"))
	switch {
	case errors.Is(err, ErrRunNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case errors.Is(err, ErrStateConflict):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, "cancel failed")
	default:
		w.WriteHeader(http.StatusAccepted)
	}
}

func (m *Module) handleListProposals(w http.ResponseWriter, r *http.Request) {
	var (
		proposals []incident.RemediationProposal
		err       error
	)
	if incidentID := r.URL.Query().Get("incident_id"); incidentID != "" {
		proposals, err = m.gate.ByIncident(r.Context(), incidentID)
	} else {
		proposals, err = m.gate.Pending(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list proposals")
		return
	}
	if proposals == nil {
		proposals = []incident.RemediationProposal{}
	}
	writeJSON(w, http.StatusOK, proposals)
}

func (m *Module) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	p, err := m.gate.Proposal(r.Context(), r.PathValue("id"))
	if errors.Is(err, gate.ErrNotFound) {
		writeError(w, http.StatusNotFound, "proposal not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load proposal")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type decisionRequest struct {
	Approver string `json:"approver"`
	Reason   string `json:"reason,omitempty"`
}

func (m *Module) handleApprove(w http.ResponseWriter, r *http.Request) {
	m.handleDecision(w, r, func(req decisionRequest) error {
		return m.gate.Approve(r.Context(), r.PathValue("id"), req.Approver)
	})
}

func (m *Module) handleReject(w http.ResponseWriter, r *http.Request) {
	m.handleDecision(w, r, func(req decisionRequest) error {
		if req.Reason == "" {
			return errors.New("reason is required")
		}
		return m.gate.Reject(r.Context(), r.PathValue("id"), req.Approver, req.Reason)
	})
}

func (m *Module) handleDecision(w http.ResponseWriter, r *http.Request, decide func(decisionRequest) error) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid decision request")
		return
	}
	if req.Approver == "" {
		writeError(w, http.StatusBadRequest, "approver is required")
		return
	}

	err := decide(req)
	switch {
	case errors.Is(err, gate.ErrNotFound):
		writeError(w, http.StatusNotFound, "proposal not found")
	case errors.Is(err, gate.ErrAlreadyDecided):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, gate.ErrInvalidProposal):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		p, _ := m.gate.Proposal(r.Context(), r.PathValue("id"))
		writeJSON(w, http.StatusOK, p)
	}
}

type configUpload struct {
	Config string `json:"config"`
}

func (m *Module) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var req configUpload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config upload")
		return
	}
	if req.Config == "" {
		writeError(w, http.StatusBadRequest, "config is required")
		return
	}
	deviceID := r.PathValue("device_id")
	if err := m.store.SaveDeviceConfig(r.Context(), deviceID, req.Config, m.now()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save config")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *Module) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")
	cfg, err := m.store.DeviceConfig(r.Context(), deviceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load config")
		return
	}
	if cfg == "" {
		writeError(w, http.StatusNotFound, "no configuration on file")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"device_id": deviceID, "config": cfg})
}

type auditRequest struct {
	DeviceID  string `json:"device_id"`
	Config    string `json:"config,omitempty"` // falls back to the stored config
	Framework string `json:"framework,omitempty"`
}

// handleAudit runs a compliance audit on demand, outside any incident run.
func (m *Module) handleAudit(w http.ResponseWriter, r *http.Request) {
	var req auditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid audit request")
		return
	}
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	cfg := req.Config
	if cfg == "" {
		stored, err := m.store.DeviceConfig(r.Context(), req.DeviceID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load config")
			return
		}
		if stored == "" {
			writeError(w, http.StatusNotFound, "no configuration on file")
			return
		}
		cfg = stored
	}
	writeJSON(w, http.StatusOK, m.auditor.Audit(req.DeviceID, cfg, req.Framework))
}

type forecastRequest struct {
	DeviceID     string  `json:"device_id"`
	Metric       string  `json:"metric"`
	Limit        float64 `json:"limit,omitempty"`         // defaults to the metric's capacity limit
	HorizonHours int     `json:"horizon_hours,omitempty"` // defaults to the configured horizon
}

// handleForecast fits a trend for one series on demand.
func (m *Module) handleForecast(w http.ResponseWriter, r *http.Request) {
	var req forecastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid forecast request")
		return
	}
	if req.DeviceID == "" || req.Metric == "" {
		writeError(w, http.StatusBadRequest, "device_id and metric are required")
		return
	}
	if m.series == nil {
		writeError(w, http.StatusServiceUnavailable, "no series provider available")
		return
	}

	limit := req.Limit
	if limit == 0 {
		limit = capacityLimits[req.Metric]
	}
	horizon := m.cfg.ForecastHorizon
	if req.HorizonHours > 0 {
		horizon = time.Duration(req.HorizonHours) * time.Hour
	}

	now := m.now()
	samples, err := m.series.Range(r.Context(), req.DeviceID, req.Metric, now.Add(-horizon), now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read series")
		return
	}
	trend := m.forecaster(samples, limit)
	if trend == nil {
		writeError(w, http.StatusUnprocessableEntity, "not enough samples to fit a trend")
		return
	}
	trend.DeviceID = req.DeviceID
	trend.Metric = req.Metric
	writeJSON(w, http.StatusOK, trend)
}

// handleSLA evaluates the SLA objectives over a lookback window. Device
// IDs are repeatable query parameters; hours defaults to 24.
func (m *Module) handleSLA(w http.ResponseWriter, r *http.Request) {
	deviceIDs := r.URL.Query()["device_id"]
	if len(deviceIDs) == 0 {
		writeError(w, http.StatusBadRequest, "at least one device_id is required")
		return
	}
	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = parsed
	}

	now := m.now()
	summary := m.slaForDevices(r.Context(), deviceIDs, now.Add(-time.Duration(hours)*time.Hour), now)
	writeJSON(w, http.StatusOK, summary)
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
