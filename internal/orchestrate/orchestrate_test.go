package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cwccie/netopshub/internal/compliance"
	"github.com/cwccie/netopshub/internal/diagnose"
	"github.com/cwccie/netopshub/internal/forecast"
	"github.com/cwccie/netopshub/internal/gate"
	"github.com/cwccie/netopshub/internal/ingest"
	"github.com/cwccie/netopshub/internal/store"
	"github.com/cwccie/netopshub/pkg/incident"
	"github.com/cwccie/netopshub/pkg/models"
	"github.com/cwccie/netopshub/pkg/plugin"
	"github.com/cwccie/netopshub/pkg/roles"
	"github.com/cwccie/netopshub/pkg/telemetry"
	"go.uber.org/zap"
)

// fakeIncidents is an in-memory incident provider with the same lifecycle
// rules as the real one.
type fakeIncidents struct {
	mu        sync.Mutex
	incidents map[string]*incident.CandidateIncident
	evidence  map[string][]incident.Evidence
}

func newFakeIncidents() *fakeIncidents {
	return &fakeIncidents{
		incidents: make(map[string]*incident.CandidateIncident),
		evidence:  make(map[string][]incident.Evidence),
	}
}

func (f *fakeIncidents) add(inc incident.CandidateIncident) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := inc
	f.incidents[inc.ID] = &cp
}

func (f *fakeIncidents) state(id string) incident.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inc, ok := f.incidents[id]; ok {
		return inc.State
	}
	return ""
}

func (f *fakeIncidents) evidenceFor(id string) []incident.Evidence {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]incident.Evidence, len(f.evidence[id]))
	copy(out, f.evidence[id])
	return out
}

func (f *fakeIncidents) Incident(_ context.Context, id string) (*incident.CandidateIncident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inc, ok := f.incidents[id]; ok {
		cp := *inc
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeIncidents) Incidents(_ context.Context, state incident.State) ([]incident.CandidateIncident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []incident.CandidateIncident
	for _, inc := range f.incidents {
		if state == "" || inc.State == state {
			out = append(out, *inc)
		}
	}
	return out, nil
}

func (f *fakeIncidents) Transition(_ context.Context, id string, from, to incident.State, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inc, ok := f.incidents[id]
	if !ok {
		return fmt.Errorf("incident %s not found", id)
	}
	if inc.State != from {
		return fmt.Errorf("incident %s is %s, not %s", id, inc.State, from)
	}
	if !incident.CanTransition(from, to) {
		return fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	inc.State = to
	f.evidence[id] = append(f.evidence[id], incident.Evidence{
		IncidentID: id,
		Kind:       "transition",
		Summary:    string(from) + " -> " + string(to),
		Detail:     note,
	})
	return nil
}

func (f *fakeIncidents) AppendEvidence(_ context.Context, id string, ev incident.Evidence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev.IncidentID = id
	f.evidence[id] = append(f.evidence[id], ev)
	return nil
}

func (f *fakeIncidents) AttachHypotheses(_ context.Context, id string, hyps []incident.RootCauseHypothesis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inc, ok := f.incidents[id]; ok {
		inc.Hypotheses = hyps
	}
	return nil
}

type fakeTopo struct {
	snap *models.TopologySnapshot
}

func (f *fakeTopo) Snapshot(context.Context) (*models.TopologySnapshot, error) {
	return f.snap, nil
}

func (f *fakeTopo) Neighbors(context.Context, string, int, bool) ([]string, error) {
	return nil, nil
}

type fakeSeries struct {
	samples map[string][]telemetry.MetricSample
	err     error
}

func (f *fakeSeries) Range(_ context.Context, deviceID, metric string, from, to time.Time) ([]telemetry.MetricSample, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []telemetry.MetricSample
	for _, s := range f.samples[deviceID+"\x00"+metric] {
		if !s.Timestamp.Before(from) && !s.Timestamp.After(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

type recordExecutor struct {
	mu    sync.Mutex
	steps []incident.ChangeStep
	fail  bool
}

func (e *recordExecutor) Apply(_ context.Context, step incident.ChangeStep) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return errors.New("device unreachable")
	}
	e.steps = append(e.steps, step)
	return nil
}

func (e *recordExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.steps)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BranchTimeout = time.Second
	cfg.VerifyWindow = 150 * time.Millisecond
	cfg.ApprovalTimeout = 0
	cfg.ForecastHorizon = time.Hour
	return cfg
}

func newTestModule(t *testing.T, cfg Config, series roles.SeriesProvider) (*Module, *fakeIncidents, *recordExecutor) {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "orchestrate.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()
	if err := s.Migrate(ctx, "orchestrate", migrations()); err != nil {
		t.Fatalf("migrate orchestrate: %v", err)
	}
	if err := s.Migrate(ctx, "gate", gate.Migrations()); err != nil {
		t.Fatalf("migrate gate: %v", err)
	}

	auditor, err := compliance.NewAuditor()
	if err != nil {
		t.Fatalf("NewAuditor: %v", err)
	}

	fi := newFakeIncidents()
	exec := &recordExecutor{}
	m := &Module{
		logger:     zap.NewNop(),
		cfg:        cfg,
		store:      NewRunStore(s.DB()),
		gate:       gate.New(gate.NewStore(s.DB()), zap.NewNop()),
		auditor:    auditor,
		diagnoser:  diagnose.NewEngine(diagnose.DefaultWeights()),
		executor:   exec,
		topo:       &fakeTopo{snap: linkSnapshot("a", "b")},
		series:     series,
		incidents:  fi,
		forecaster: forecast.FitSamples,
		runners:    make(map[string]*runner),
		now:        func() time.Time { return time.Now().UTC() },
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	t.Cleanup(func() {
		m.cancel()
		m.wg.Wait()
	})
	return m, fi, exec
}

func linkSnapshot(a, b string) *models.TopologySnapshot {
	now := time.Now().UTC()
	return &models.TopologySnapshot{
		Devices: map[string]models.Device{
			a: {ID: a, State: models.StateUp},
			b: {ID: b, State: models.StateUp},
		},
		Edges: []models.Adjacency{{
			LocalID:  a,
			LocalIf:  "eth0",
			RemoteID: b,
			RemoteIf: "eth0",
			Kind:     models.EdgeL2Neighbor,
			LastSeen: now,
		}},
		GeneratedAt: now,
	}
}

// crcIncident is a two-device incident whose top hypothesis is the shared
// link, well above the default confidence threshold.
func crcIncident(id string) incident.CandidateIncident {
	base := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	return incident.CandidateIncident{
		ID:    id,
		State: incident.StateOpen,
		Signals: []telemetry.AnomalySignal{
			{DeviceID: "a", Metric: telemetry.MetricCRCErrors, Timestamp: base, Severity: 4},
			{DeviceID: "b", Metric: telemetry.MetricCRCErrors, Timestamp: base.Add(20 * time.Second), Severity: 3},
		},
		DeviceIDs:   []string{"a", "b"},
		WindowStart: base,
		WindowEnd:   base.Add(time.Minute),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func runStage(t *testing.T, m *Module, incidentID string) Stage {
	t.Helper()
	run, err := m.store.GetRun(context.Background(), incidentID)
	if errors.Is(err, ErrRunNotFound) {
		return StageIdle
	}
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	return run.Stage
}

func TestRun_NoExecutionWithoutApproval(t *testing.T) {
	t.Parallel()
	m, fi, exec := newTestModule(t, testConfig(), &fakeSeries{})
	ctx := context.Background()

	inc := crcIncident("inc-approve")
	fi.add(inc)
	if err := m.StartRun(inc); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	waitFor(t, "run to reach the gate", func() bool {
		return fi.state(inc.ID) == incident.StateAwaitingApproval
	})
	pending, err := m.Pending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %v, %v, want one proposal", pending, err)
	}
	proposalID := pending[0].ID

	// Suspended at the gate: nothing has touched a device.
	if got := exec.count(); got != 0 {
		t.Fatalf("executor ran %d steps before approval", got)
	}
	if got := runStage(t, m, inc.ID); got != StageAwaiting {
		t.Fatalf("run stage = %s, want awaiting_approval", got)
	}

	if err := m.Approve(ctx, proposalID, "alice"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	waitFor(t, "run to resolve", func() bool {
		return runStage(t, m, inc.ID) == StageResolved
	})
	if got := exec.count(); got == 0 {
		t.Error("no steps executed after approval")
	}
	if got := fi.state(inc.ID); got != incident.StateResolved {
		t.Errorf("incident state = %s, want resolved", got)
	}
}

func TestRun_RejectionCloses(t *testing.T) {
	t.Parallel()
	m, fi, exec := newTestModule(t, testConfig(), &fakeSeries{})
	ctx := context.Background()

	inc := crcIncident("inc-reject")
	fi.add(inc)
	if err := m.StartRun(inc); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	waitFor(t, "run to reach the gate", func() bool {
		return fi.state(inc.ID) == incident.StateAwaitingApproval
	})
	pending, err := m.Pending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %v, %v, want one proposal", pending, err)
	}
	proposalID := pending[0].ID

	if err := m.Reject(ctx, proposalID, "bob", "blast radius too wide"); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	waitFor(t, "run to close", func() bool {
		return runStage(t, m, inc.ID) == StageClosed
	})
	if got := exec.count(); got != 0 {
		t.Errorf("executor ran %d steps on a rejected proposal", got)
	}
	if got := fi.state(inc.ID); got != incident.StateClosed {
		t.Errorf("incident state = %s, want closed", got)
	}
}

func TestRun_LowConfidenceClosesUnconfirmed(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.ConfidenceThreshold = 0.99
	m, fi, _ := newTestModule(t, cfg, &fakeSeries{})

	inc := crcIncident("inc-lowconf")
	fi.add(inc)
	if err := m.StartRun(inc); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	waitFor(t, "run to close", func() bool {
		return runStage(t, m, inc.ID) == StageClosed
	})
	if got := fi.state(inc.ID); got != incident.StateClosedUnconfirmed {
		t.Errorf("incident state = %s, want closed_unconfirmed", got)
	}
	pending, _ := m.Pending(context.Background())
	if len(pending) != 0 {
		t.Errorf("low-confidence run filed %d proposals", len(pending))
	}
}

func TestRun_ApprovalTimeoutClosesUnconfirmed(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.ApprovalTimeout = 100 * time.Millisecond
	m, fi, exec := newTestModule(t, cfg, &fakeSeries{})

	inc := crcIncident("inc-timeout")
	fi.add(inc)
	if err := m.StartRun(inc); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	waitFor(t, "run to close", func() bool {
		return runStage(t, m, inc.ID) == StageClosed
	})
	if got := fi.state(inc.ID); got != incident.StateClosedUnconfirmed {
		t.Errorf("incident state = %s, want closed_unconfirmed", got)
	}
	if got := exec.count(); got != 0 {
		t.Errorf("executor ran %d steps on an undecided proposal", got)
	}
}

func TestRun_VerificationRecurrenceLoops(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.VerifyWindow = 3 * time.Second
	m, fi, _ := newTestModule(t, cfg, &fakeSeries{})
	ctx := context.Background()

	inc := crcIncident("inc-recur")
	fi.add(inc)
	if err := m.StartRun(inc); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	waitFor(t, "run to reach the gate", func() bool {
		return fi.state(inc.ID) == incident.StateAwaitingApproval
	})
	pending, err := m.Pending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %v, %v, want one proposal", pending, err)
	}
	proposalID := pending[0].ID
	if err := m.Approve(ctx, proposalID, "alice"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	// Keep injecting the recurring signal; it only lands once the run is
	// verifying and watching this series.
	var secondID string
	waitFor(t, "a second proposal after recurrence", func() bool {
		m.onSignal(ctx, plugin.Event{
			Topic: ingest.TopicSignalDetected,
			Payload: telemetry.AnomalySignal{
				DeviceID:  "a",
				Metric:    telemetry.MetricCRCErrors,
				Timestamp: time.Now().UTC(),
				Severity:  4,
			},
		})
		pending, _ := m.Pending(ctx)
		if len(pending) != 1 || pending[0].ID == proposalID {
			return false
		}
		secondID = pending[0].ID
		return true
	})

	run, err := m.store.GetRun(ctx, inc.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Loops != 1 {
		t.Errorf("run.Loops = %d, want 1", run.Loops)
	}

	if err := m.Reject(ctx, secondID, "bob", "second attempt not warranted"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	waitFor(t, "run to close", func() bool {
		return runStage(t, m, inc.ID) == StageClosed
	})
}

func TestRun_BranchFailureStillProposes(t *testing.T) {
	t.Parallel()
	m, fi, _ := newTestModule(t, testConfig(), &fakeSeries{err: errors.New("series store offline")})
	ctx := context.Background()

	inc := crcIncident("inc-branch")
	fi.add(inc)
	if err := m.StartRun(inc); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	waitFor(t, "a pending proposal", func() bool {
		pending, _ := m.Pending(ctx)
		return len(pending) == 1
	})

	var failed bool
	for _, ev := range fi.evidenceFor(inc.ID) {
		if ev.Stage == branchForecast && ev.Detail != "" {
			failed = true
		}
	}
	if !failed {
		t.Error("forecast branch failure left no evidence")
	}
}

func TestRun_RemediationFailureFilesRollback(t *testing.T) {
	t.Parallel()
	m, fi, exec := newTestModule(t, testConfig(), &fakeSeries{})
	ctx := context.Background()
	exec.fail = true

	inc := crcIncident("inc-rollback")
	fi.add(inc)
	if err := m.StartRun(inc); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	waitFor(t, "run to reach the gate", func() bool {
		return fi.state(inc.ID) == incident.StateAwaitingApproval
	})
	pending, err := m.Pending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %v, %v, want one proposal", pending, err)
	}
	if err := m.Approve(ctx, pending[0].ID, "alice"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	// The failed change lands in verification with a rollback proposal
	// waiting at the gate.
	waitFor(t, "a rollback proposal", func() bool {
		pending, _ := m.Pending(ctx)
		return len(pending) == 1 && strings.HasPrefix(pending[0].Title, "rollback:")
	})
	pending, err = m.Pending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %v, %v", pending, err)
	}
	if pending[0].IncidentID != inc.ID || len(pending[0].Steps) == 0 {
		t.Errorf("rollback proposal = %+v, want steps for incident %s", pending[0], inc.ID)
	}
	waitFor(t, "run to finish verification", func() bool {
		s := fi.state(inc.ID)
		return s == incident.StateVerifying || s == incident.StateResolved
	})
}

func TestCancel_PastApprovalConflicts(t *testing.T) {
	t.Parallel()
	m, fi, _ := newTestModule(t, testConfig(), &fakeSeries{})
	ctx := context.Background()

	inc := crcIncident("inc-cancel")
	fi.add(inc)

	r := m.newRunner(inc)
	r.stage = StageRemediating
	m.mu.Lock()
	m.runners[inc.ID] = r
	m.mu.Unlock()

	if err := m.Cancel(ctx, inc.ID); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("Cancel in remediating = %v, want ErrStateConflict", err)
	}

	m.mu.Lock()
	r.stage = StageAwaiting
	m.mu.Unlock()
	if err := m.Cancel(ctx, inc.ID); err != nil {
		t.Fatalf("Cancel in awaiting_approval: %v", err)
	}
	select {
	case <-r.ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("runner context not cancelled")
	}
}

func TestStartRun_DuplicateConflicts(t *testing.T) {
	t.Parallel()
	m, fi, _ := newTestModule(t, testConfig(), &fakeSeries{})

	inc := crcIncident("inc-dup")
	fi.add(inc)
	if err := m.StartRun(inc); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := m.StartRun(inc); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("second StartRun = %v, want ErrStateConflict", err)
	}
}

func TestBuildProposal(t *testing.T) {
	t.Parallel()
	inc := crcIncident("inc-plan")

	t.Run("link suspect", func(t *testing.T) {
		t.Parallel()
		p := buildProposal(inc, incident.RootCauseHypothesis{
			EdgeKey:    "l2|a|eth0|b|eth0",
			Confidence: 0.9,
		})
		if len(p.Steps) != 4 {
			t.Errorf("steps = %d, want 4 (two per endpoint)", len(p.Steps))
		}
		if len(p.Rollback) == 0 {
			t.Error("link proposal has no rollback")
		}
		if p.RiskLevel != "low" {
			t.Errorf("risk = %s, want low for empty blast radius", p.RiskLevel)
		}
	})

	t.Run("device suspect with blast radius", func(t *testing.T) {
		t.Parallel()
		p := buildProposal(inc, incident.RootCauseHypothesis{
			DeviceID:    "a",
			Confidence:  0.8,
			BlastRadius: []string{"b", "c", "d"},
		})
		if len(p.Steps) == 0 {
			t.Fatal("device proposal has no steps")
		}
		for _, s := range p.Steps {
			if s.DeviceID != "a" {
				t.Errorf("step targets %s, want a", s.DeviceID)
			}
		}
		if p.RiskLevel != "high" {
			t.Errorf("risk = %s, want high for wide blast radius", p.RiskLevel)
		}
	})
}

func TestRunStore_Roundtrip(t *testing.T) {
	t.Parallel()
	m, _, _ := newTestModule(t, testConfig(), &fakeSeries{})
	ctx := context.Background()

	if _, err := m.store.GetRun(ctx, "nope"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("GetRun(unknown) = %v, want ErrRunNotFound", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	run := Run{IncidentID: "inc-1", Stage: StageDiagnosing, Loops: 2, StartedAt: now, UpdatedAt: now}
	if err := m.store.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	got, err := m.store.GetRun(ctx, "inc-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Stage != StageDiagnosing || got.Loops != 2 {
		t.Errorf("got stage=%s loops=%d, want diagnosing/2", got.Stage, got.Loops)
	}

	if err := m.store.SaveDeviceConfig(ctx, "r1", "hostname r1\n", now); err != nil {
		t.Fatalf("SaveDeviceConfig: %v", err)
	}
	cfg, err := m.store.DeviceConfig(ctx, "r1")
	if err != nil {
		t.Fatalf("DeviceConfig: %v", err)
	}
	if cfg != "hostname r1\n" {
		t.Errorf("config = %q", cfg)
	}
	missing, err := m.store.DeviceConfig(ctx, "r2")
	if err != nil || missing != "" {
		t.Errorf("DeviceConfig(unknown) = %q, %v, want empty", missing, err)
	}
}
