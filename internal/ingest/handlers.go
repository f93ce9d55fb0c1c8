package ingest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cwccie/netopshub/pkg/plugin"
	"github.com/cwccie/netopshub/pkg/telemetry"
)

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "POST", Path: "/samples", Handler: m.handleSubmitSamples},
		{Method: "POST", Path: "/logs", Handler: m.handleSubmitLogs},
		{Method: "POST", Path: "/flows", Handler: m.handleSubmitFlows},
		{Method: "GET", Path: "/series/{device_id}/{metric}", Handler: m.handleSeriesRange},
		{Method: "GET", Path: "/signals", Handler: m.handleListSignals},
		{Method: "GET", Path: "/health/{device_id}", Handler: m.handleDeviceHealth},
	}
}

// submitResult reports per-batch admission counts.
type submitResult struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

// handleSubmitSamples admits a batch of metric samples. The batch is not
// transactional: valid samples are admitted even when siblings are rejected.
func (m *Module) handleSubmitSamples(w http.ResponseWriter, r *http.Request) {
	var samples []telemetry.MetricSample
	if err := json.NewDecoder(r.Body).Decode(&samples); err != nil {
		writeError(w, http.StatusBadRequest, "invalid sample batch")
		return
	}
	if len(samples) == 0 {
		writeError(w, http.StatusBadRequest, "empty sample batch")
		return
	}

	res := submitResult{}
	backpressured := false
	for _, s := range samples {
		if err := m.pipeline.Submit(r.Context(), s); err != nil {
			res.Rejected++
			res.Errors = append(res.Errors, err.Error())
			if errors.Is(err, ErrBackpressure) {
				backpressured = true
			}
			continue
		}
		res.Accepted++
	}

	status := http.StatusAccepted
	if res.Accepted == 0 {
		status = http.StatusBadRequest
		if backpressured {
			status = http.StatusTooManyRequests
		}
	}
	writeJSON(w, status, res)
}

func (m *Module) handleSubmitLogs(w http.ResponseWriter, r *http.Request) {
	var events []telemetry.LogEvent
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		writeError(w, http.StatusBadRequest, "invalid log batch")
		return
	}

	res := submitResult{}
	for _, ev := range events {
		if ev.DeviceID == "" || ev.Message == "" {
			res.Rejected++
			continue
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now().UTC()
		}
		if m.store != nil {
			if err := m.store.InsertLog(r.Context(), ev); err != nil {
				res.Rejected++
				res.Errors = append(res.Errors, err.Error())
				continue
			}
		}
		res.Accepted++
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (m *Module) handleSubmitFlows(w http.ResponseWriter, r *http.Request) {
	var flows []telemetry.FlowSummary
	if err := json.NewDecoder(r.Body).Decode(&flows); err != nil {
		writeError(w, http.StatusBadRequest, "invalid flow batch")
		return
	}

	res := submitResult{}
	for _, f := range flows {
		if f.DeviceID == "" {
			res.Rejected++
			continue
		}
		if f.Timestamp.IsZero() {
			f.Timestamp = time.Now().UTC()
		}
		if m.store != nil {
			if err := m.store.InsertFlow(r.Context(), f); err != nil {
				res.Rejected++
				res.Errors = append(res.Errors, err.Error())
				continue
			}
		}
		res.Accepted++
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (m *Module) handleSeriesRange(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")
	metric := r.PathValue("metric")
	if deviceID == "" || metric == "" {
		writeError(w, http.StatusBadRequest, "device_id and metric are required")
		return
	}

	now := time.Now().UTC()
	from := now.Add(-1 * time.Hour)
	to := now
	if s := r.URL.Query().Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be RFC 3339")
			return
		}
		from = t
	}
	if s := r.URL.Query().Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to must be RFC 3339")
			return
		}
		to = t
	}

	samples, err := m.store.Range(r.Context(), deviceID, metric, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query series")
		return
	}
	if samples == nil {
		samples = []telemetry.MetricSample{}
	}
	writeJSON(w, http.StatusOK, samples)
}

func (m *Module) handleListSignals(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	signals, err := m.store.Signals(r.Context(), r.URL.Query().Get("device_id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list signals")
		return
	}
	if signals == nil {
		signals = []telemetry.AnomalySignal{}
	}
	writeJSON(w, http.StatusOK, signals)
}

func (m *Module) handleDeviceHealth(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	h, err := m.deviceHealth(r.Context(), deviceID, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute device health")
		return
	}
	writeJSON(w, http.StatusOK, h)
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
