package correlate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cwccie/netopshub/internal/store"
	"github.com/cwccie/netopshub/pkg/incident"
	"github.com/cwccie/netopshub/pkg/models"
	"github.com/cwccie/netopshub/pkg/plugin"
	"github.com/cwccie/netopshub/pkg/roles"
	"github.com/cwccie/netopshub/pkg/telemetry"
	"go.uber.org/zap"
)

// fakeTopology serves a fixed snapshot through the topology role.
type fakeTopology struct {
	snap *models.TopologySnapshot
}

func (f *fakeTopology) Info() plugin.PluginInfo {
	return plugin.PluginInfo{Name: "topology", Roles: []string{roles.RoleTopology}}
}
func (f *fakeTopology) Init(context.Context, plugin.Dependencies) error { return nil }
func (f *fakeTopology) Start(context.Context) error                     { return nil }
func (f *fakeTopology) Stop(context.Context) error                      { return nil }

func (f *fakeTopology) Snapshot(context.Context) (*models.TopologySnapshot, error) {
	return f.snap, nil
}

func (f *fakeTopology) Neighbors(_ context.Context, deviceID string, _ int, includeStale bool) ([]string, error) {
	return f.snap.Neighbors(deviceID, includeStale), nil
}

type fakeResolver struct {
	topo *fakeTopology
}

func (r *fakeResolver) Resolve(name string) (plugin.Plugin, bool) {
	if name == "topology" {
		return r.topo, true
	}
	return nil, false
}

func (r *fakeResolver) ResolveByRole(role string) []plugin.Plugin {
	if role == roles.RoleTopology {
		return []plugin.Plugin{r.topo}
	}
	return nil
}

func newTestModule(t *testing.T, snap *models.TopologySnapshot) *Module {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "correlate.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	m := New()
	deps := plugin.Dependencies{Logger: zap.NewNop(), Store: s}
	if snap != nil {
		deps.Plugins = &fakeResolver{topo: &fakeTopology{snap: snap}}
	}
	if err := m.Init(context.Background(), deps); err != nil {
		t.Fatalf("init: %v", err)
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	t.Cleanup(m.cancel)
	return m
}

func TestTick_OpensIncident(t *testing.T) {
	t.Parallel()
	snap := snapshot([2]string{"a", "b"})
	m := newTestModule(t, snap)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.pending = []telemetry.AnomalySignal{
		signal("a", telemetry.MetricCRCErrors, now.Add(-4*time.Minute)),
		signal("b", telemetry.MetricCRCErrors, now.Add(-1*time.Minute)),
	}
	m.tick(now)

	incidents, err := m.store.ListIncidents(context.Background(), incident.StateOpen)
	if err != nil {
		t.Fatal(err)
	}
	if len(incidents) != 1 {
		t.Fatalf("incidents = %d, want 1", len(incidents))
	}
	inc := incidents[0]
	if len(inc.Signals) != 2 {
		t.Errorf("signals = %d, want 2", len(inc.Signals))
	}
	if len(inc.DeviceIDs) != 2 {
		t.Errorf("devices = %v, want [a b]", inc.DeviceIDs)
	}
	if !inc.WindowStart.Equal(now.Add(-4 * time.Minute)) {
		t.Errorf("window start = %v", inc.WindowStart)
	}

	evidence, err := m.store.Evidence(context.Background(), inc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(evidence) != 1 {
		t.Errorf("evidence entries = %d, want 1", len(evidence))
	}

	if len(m.pending) != 0 {
		t.Errorf("consumed signals still pending: %d", len(m.pending))
	}
}

func TestTick_DebounceHoldsBackBlips(t *testing.T) {
	t.Parallel()
	m := newTestModule(t, snapshot([2]string{"a", "b"}))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.pending = []telemetry.AnomalySignal{
		signal("a", telemetry.MetricCPU, now.Add(-30*time.Second)),
	}
	m.tick(now)

	incidents, err := m.store.ListIncidents(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(incidents) != 0 {
		t.Errorf("incidents = %d, want 0 for a single blip", len(incidents))
	}
	if len(m.pending) != 1 {
		t.Errorf("blip should stay pending for the next tick")
	}
}

func TestTick_ExpiresSignalsOutsideWindow(t *testing.T) {
	t.Parallel()
	m := newTestModule(t, nil)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.pending = []telemetry.AnomalySignal{
		signal("a", telemetry.MetricCPU, now.Add(-20*time.Minute)),
		signal("a", telemetry.MetricCPU, now.Add(-time.Minute)),
	}
	m.tick(now)

	if len(m.pending) != 1 {
		t.Errorf("pending = %d, want 1 after expiry", len(m.pending))
	}
}

func TestTick_MaintenanceSuppression(t *testing.T) {
	t.Parallel()
	m := newTestModule(t, snapshot([2]string{"a", "b"}))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := m.store.SaveWindow(context.Background(), models.MaintenanceWindow{
		ID:        "w1",
		Name:      "core upgrade",
		StartTime: now.Add(-time.Hour),
		EndTime:   now.Add(time.Hour),
		DeviceIDs: []string{"a", "b"},
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatal(err)
	}

	m.pending = []telemetry.AnomalySignal{
		signal("a", telemetry.MetricCRCErrors, now.Add(-4*time.Minute)),
		signal("b", telemetry.MetricCRCErrors, now.Add(-1*time.Minute)),
	}
	m.tick(now)

	incidents, err := m.store.ListIncidents(context.Background(), incident.StateClosedUnconfirmed)
	if err != nil {
		t.Fatal(err)
	}
	if len(incidents) != 1 {
		t.Fatalf("suppressed incidents = %d, want 1", len(incidents))
	}

	// Evidence survives suppression for audit.
	evidence, err := m.store.Evidence(context.Background(), incidents[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(evidence) != 1 {
		t.Errorf("evidence entries = %d, want 1", len(evidence))
	}

	open, _ := m.store.ListIncidents(context.Background(), incident.StateOpen)
	if len(open) != 0 {
		t.Errorf("open incidents = %d, want 0", len(open))
	}
}

func TestTransition_ForwardOnly(t *testing.T) {
	t.Parallel()
	m := newTestModule(t, nil)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inc := incident.CandidateIncident{
		ID:          "inc-1",
		State:       incident.StateOpen,
		Signals:     []telemetry.AnomalySignal{signal("a", "cpu", now)},
		DeviceIDs:   []string{"a"},
		WindowStart: now,
		WindowEnd:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.SaveIncident(ctx, inc); err != nil {
		t.Fatal(err)
	}

	if err := m.Transition(ctx, "inc-1", incident.StateOpen, incident.StateDiagnosing, "auto"); err != nil {
		t.Fatalf("open -> diagnosing: %v", err)
	}

	// Skipping ahead is illegal and must not mutate the record.
	err := m.Transition(ctx, "inc-1", incident.StateDiagnosing, incident.StateRemediating, "")
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("err = %v, want ErrIllegalTransition", err)
	}
	got, err := m.store.GetIncident(ctx, "inc-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != incident.StateDiagnosing {
		t.Errorf("state = %s, want diagnosing after rejected move", got.State)
	}

	// Stale from-state is rejected too.
	err = m.Transition(ctx, "inc-1", incident.StateOpen, incident.StateDiagnosing, "")
	if !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("err = %v, want ErrIllegalTransition for stale from", err)
	}

	// Closing is allowed from a non-terminal state, then nothing moves.
	if err := m.Transition(ctx, "inc-1", incident.StateDiagnosing, incident.StateClosed, "operator dismissal"); err != nil {
		t.Fatalf("diagnosing -> closed: %v", err)
	}
	err = m.Transition(ctx, "inc-1", incident.StateClosed, incident.StateDiagnosing, "")
	if !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("err = %v, want ErrIllegalTransition out of terminal state", err)
	}
}

func TestTransition_AppendsEvidence(t *testing.T) {
	t.Parallel()
	m := newTestModule(t, nil)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inc := incident.CandidateIncident{
		ID: "inc-2", State: incident.StateOpen,
		Signals:   []telemetry.AnomalySignal{signal("a", "cpu", now)},
		DeviceIDs: []string{"a"}, WindowStart: now, WindowEnd: now,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := m.store.SaveIncident(ctx, inc); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(ctx, "inc-2", incident.StateOpen, incident.StateDiagnosing, "confidence above threshold"); err != nil {
		t.Fatal(err)
	}

	evidence, err := m.store.Evidence(ctx, "inc-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(evidence) != 1 {
		t.Fatalf("evidence = %d, want 1", len(evidence))
	}
	if evidence[0].Kind != "transition" {
		t.Errorf("kind = %q, want transition", evidence[0].Kind)
	}
}

func TestAttachHypotheses(t *testing.T) {
	t.Parallel()
	m := newTestModule(t, nil)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inc := incident.CandidateIncident{
		ID: "inc-3", State: incident.StateDiagnosing,
		Signals:   []telemetry.AnomalySignal{signal("a", "cpu", now)},
		DeviceIDs: []string{"a"}, WindowStart: now, WindowEnd: now,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := m.store.SaveIncident(ctx, inc); err != nil {
		t.Fatal(err)
	}

	hyps := []incident.RootCauseHypothesis{
		{DeviceID: "a", Confidence: 0.8, Summary: "suspect device a"},
	}
	if err := m.AttachHypotheses(ctx, "inc-3", hyps); err != nil {
		t.Fatal(err)
	}

	got, err := m.store.GetIncident(ctx, "inc-3")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Hypotheses) != 1 || got.Hypotheses[0].DeviceID != "a" {
		t.Errorf("hypotheses = %+v", got.Hypotheses)
	}
}

func TestOnSignal_QueuesTypedPayloadOnly(t *testing.T) {
	t.Parallel()
	m := newTestModule(t, nil)

	m.onSignal(context.Background(), plugin.Event{Topic: "x", Payload: "not a signal"})
	m.onSignal(context.Background(), plugin.Event{
		Topic:   "ingest.signal.detected",
		Payload: signal("a", telemetry.MetricCPU, time.Now().UTC()),
	})

	m.drain()
	if len(m.pending) != 1 {
		t.Errorf("pending = %d, want 1", len(m.pending))
	}
}
