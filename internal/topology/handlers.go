package topology

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/cwccie/netopshub/pkg/models"
	"github.com/cwccie/netopshub/pkg/plugin"
)

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/snapshot", Handler: m.handleSnapshot},
		{Method: "GET", Path: "/devices", Handler: m.handleListDevices},
		{Method: "POST", Path: "/devices", Handler: m.handleUpsertDevice},
		{Method: "GET", Path: "/devices/{id}", Handler: m.handleGetDevice},
		{Method: "DELETE", Path: "/devices/{id}", Handler: m.handleDecommission},
		{Method: "GET", Path: "/devices/{id}/neighbors", Handler: m.handleNeighbors},
		{Method: "POST", Path: "/edges", Handler: m.handleUpsertEdge},
	}
}

func (m *Module) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, m.graph.Snapshot())
}

func (m *Module) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	snap := m.graph.Snapshot()
	devices := make([]models.Device, 0, len(snap.Devices))
	for _, d := range snap.Devices {
		devices = append(devices, d)
	}
	writeJSON(w, http.StatusOK, devices)
}

func (m *Module) handleUpsertDevice(w http.ResponseWriter, r *http.Request) {
	var d models.Device
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid device payload")
		return
	}
	if d.ID == "" {
		writeError(w, http.StatusBadRequest, "device id is required")
		return
	}

	saved, err := m.graph.UpsertDevice(r.Context(), d)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to upsert device")
		return
	}
	if m.store != nil {
		if err := m.store.SaveDevice(r.Context(), saved); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to persist device")
			return
		}
	}
	m.publish(TopicDeviceUpserted, saved)
	writeJSON(w, http.StatusOK, saved)
}

func (m *Module) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	d, ok := m.graph.Snapshot().Devices[id]
	if !ok {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (m *Module) handleDecommission(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	incID, err := m.referencedByIncident(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "incident reference check failed")
		return
	}
	if incID != "" {
		writeError(w, http.StatusConflict, "device is cited by active incident "+incID)
		return
	}
	if err := m.graph.Decommission(r.Context(), id); err != nil {
		if errors.Is(err, ErrUnknownDevice) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to decommission device")
		return
	}
	if m.store != nil {
		if err := m.store.DeleteDevice(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to persist decommission")
			return
		}
	}
	m.publish(TopicDeviceDecommissioned, id)
	w.WriteHeader(http.StatusNoContent)
}

func (m *Module) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	hops := 1
	if s := r.URL.Query().Get("hops"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 16 {
			writeError(w, http.StatusBadRequest, "hops must be between 1 and 16")
			return
		}
		hops = n
	}
	includeStale := r.URL.Query().Get("stale") == "true"

	ids, err := WithinHops(m.graph.Snapshot(), id, hops, includeStale)
	if err != nil {
		if errors.Is(err, ErrUnknownDevice) {
			writeError(w, http.StatusNotFound, "device not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "neighbor lookup failed")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"hops":      hops,
		"neighbors": ids,
	})
}

func (m *Module) handleUpsertEdge(w http.ResponseWriter, r *http.Request) {
	var a models.Adjacency
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid edge payload")
		return
	}
	if a.LocalID == "" || a.RemoteID == "" || a.Kind == "" {
		writeError(w, http.StatusBadRequest, "local_id, remote_id, and kind are required")
		return
	}

	merged, err := m.graph.UpsertEdge(r.Context(), a)
	if err != nil {
		if errors.Is(err, ErrUnknownDevice) {
			writeError(w, http.StatusNotFound, "edge endpoint not in inventory")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to upsert edge")
		return
	}
	if m.store != nil {
		if err := m.store.SaveEdge(r.Context(), merged); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to persist edge")
			return
		}
	}
	m.publish(TopicEdgeUpserted, merged)
	writeJSON(w, http.StatusOK, map[string]string{"edge_key": merged.Key()})
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
