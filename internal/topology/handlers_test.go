package topology

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/cwccie/netopshub/internal/store"
	"github.com/cwccie/netopshub/pkg/incident"
	"github.com/cwccie/netopshub/pkg/models"
	"github.com/cwccie/netopshub/pkg/plugin"
	"go.uber.org/zap"
)

func newTestModule(t *testing.T) *Module {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "topo.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	m := New()
	deps := plugin.Dependencies{Logger: zap.NewNop(), Store: s}
	if err := m.Init(context.Background(), deps); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m
}

func route(t *testing.T, m *Module, method, path string) http.HandlerFunc {
	t.Helper()
	for _, r := range m.Routes() {
		if r.Method == method && r.Path == path {
			return r.Handler
		}
	}
	t.Fatalf("no route %s %s", method, path)
	return nil
}

func TestHandleUpsertDevice(t *testing.T) {
	m := newTestModule(t)
	h := route(t, m, "POST", "/devices")

	body, _ := json.Marshal(models.Device{ID: "r1", Hostname: "edge-r1", Role: models.RoleRouter})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/devices", bytes.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var saved models.Device
	if err := json.NewDecoder(rec.Body).Decode(&saved); err != nil {
		t.Fatal(err)
	}
	if saved.State != models.StateUp {
		t.Errorf("state = %q, want up default", saved.State)
	}

	// Missing ID rejected.
	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/devices", bytes.NewReader([]byte(`{"hostname":"x"}`))))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleUpsertEdge_UnknownEndpoint(t *testing.T) {
	m := newTestModule(t)
	h := route(t, m, "POST", "/edges")

	body, _ := json.Marshal(models.Adjacency{LocalID: "nope", RemoteID: "also-nope", Kind: models.EdgeL2Neighbor})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/edges", bytes.NewReader(body)))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// staticIncidents serves a fixed incident list for reference checks.
type staticIncidents struct {
	incs []incident.CandidateIncident
}

func (f *staticIncidents) Incident(_ context.Context, id string) (*incident.CandidateIncident, error) {
	for i := range f.incs {
		if f.incs[i].ID == id {
			return &f.incs[i], nil
		}
	}
	return nil, nil
}

func (f *staticIncidents) Incidents(_ context.Context, state incident.State) ([]incident.CandidateIncident, error) {
	if state == "" {
		return f.incs, nil
	}
	var out []incident.CandidateIncident
	for _, inc := range f.incs {
		if inc.State == state {
			out = append(out, inc)
		}
	}
	return out, nil
}

func (f *staticIncidents) Transition(context.Context, string, incident.State, incident.State, string) error {
	return nil
}

func (f *staticIncidents) AppendEvidence(context.Context, string, incident.Evidence) error {
	return nil
}

func (f *staticIncidents) AttachHypotheses(context.Context, string, []incident.RootCauseHypothesis) error {
	return nil
}

func TestHandleDecommission_ActiveIncidentConflicts(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()
	if _, err := m.graph.UpsertDevice(ctx, models.Device{ID: "r1"}); err != nil {
		t.Fatal(err)
	}
	m.incidents = &staticIncidents{incs: []incident.CandidateIncident{
		{ID: "inc-1", State: incident.StateDiagnosing, DeviceIDs: []string{"r1"}},
	}}

	h := route(t, m, "DELETE", "/devices/{id}")
	req := httptest.NewRequest(http.MethodDelete, "/devices/r1", nil)
	req.SetPathValue("id", "r1")
	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
	if _, ok := m.graph.Snapshot().Devices["r1"]; !ok {
		t.Error("device removed despite active incident reference")
	}

	// Once the incident closes, decommission goes through.
	m.incidents = &staticIncidents{incs: []incident.CandidateIncident{
		{ID: "inc-1", State: incident.StateClosed, DeviceIDs: []string{"r1"}},
	}}
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/devices/r1", nil)
	req.SetPathValue("id", "r1")
	h(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204: %s", rec.Code, rec.Body.String())
	}
	if _, ok := m.graph.Snapshot().Devices["r1"]; ok {
		t.Error("device still present after decommission")
	}
}

func TestHandleNeighbors(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := m.graph.UpsertDevice(ctx, models.Device{ID: id}); err != nil {
			t.Fatal(err)
		}
	}
	for _, pair := range [][2]string{{"a", "b"}, {"b", "c"}} {
		if _, err := m.graph.UpsertEdge(ctx, models.Adjacency{
			LocalID: pair[0], RemoteID: pair[1], Kind: models.EdgeL2Neighbor,
		}); err != nil {
			t.Fatal(err)
		}
	}

	h := route(t, m, "GET", "/devices/{id}/neighbors")
	req := httptest.NewRequest(http.MethodGet, "/devices/a/neighbors?hops=2", nil)
	req.SetPathValue("id", "a")
	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Neighbors []string `json:"neighbors"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Neighbors) != 2 {
		t.Errorf("neighbors = %v, want [b c]", resp.Neighbors)
	}
}

func TestRestoreAcrossRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "topo.db")
	s, err := store.New(dbPath)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	m := New()
	if err := m.Init(ctx, plugin.Dependencies{Logger: zap.NewNop(), Store: s}); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}

	h := route(t, m, "POST", "/devices")
	body, _ := json.Marshal(models.Device{ID: "r1", Hostname: "edge-r1"})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/devices", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert: %d", rec.Code)
	}

	if err := m.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	s.Close()

	// Fresh module over the same database sees the device.
	s2, err := store.New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	m2 := New()
	if err := m2.Init(ctx, plugin.Dependencies{Logger: zap.NewNop(), Store: s2}); err != nil {
		t.Fatal(err)
	}
	if err := m2.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = m2.Stop(ctx) }()

	if _, ok := m2.graph.Snapshot().Devices["r1"]; !ok {
		t.Error("device not restored after restart")
	}
}
