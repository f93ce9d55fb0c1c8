// Package orchestrate drives each candidate incident through the
// remediation pipeline: discovery, diagnosis, parallel analysis branches,
// a gated proposal, human approval, remediation, and verification. One
// goroutine per incident; a run suspends at the approval gate and is
// resumed by the gate's continuation, never by polling.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cwccie/netopshub/internal/compliance"
	"github.com/cwccie/netopshub/internal/correlate"
	"github.com/cwccie/netopshub/internal/diagnose"
	"github.com/cwccie/netopshub/internal/forecast"
	"github.com/cwccie/netopshub/internal/gate"
	"github.com/cwccie/netopshub/internal/ingest"
	"github.com/cwccie/netopshub/pkg/incident"
	"github.com/cwccie/netopshub/pkg/plugin"
	"github.com/cwccie/netopshub/pkg/roles"
	"github.com/cwccie/netopshub/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	runsStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orchestrate_runs_started_total",
		Help: "Orchestrator runs started.",
	})
	runsFinishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrate_runs_finished_total",
		Help: "Orchestrator runs finished, by terminal stage.",
	}, []string{"stage"})
	stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orchestrate_stage_duration_seconds",
		Help:    "Duration of orchestrator pipeline stages.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})
)

func init() {
	prometheus.MustRegister(runsStartedTotal)
	prometheus.MustRegister(runsFinishedTotal)
	prometheus.MustRegister(stageDuration)
}

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.HTTPProvider    = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
	_ roles.ProposalGate     = (*Module)(nil)
)

// Module implements the orchestrate module.
type Module struct {
	logger    *zap.Logger
	cfg       Config
	store     *RunStore
	bus       plugin.EventBus
	gate      *gate.Gate
	auditor   *compliance.Auditor
	diagnoser *diagnose.Engine
	executor  Executor

	topo      roles.TopologyProvider
	series    roles.SeriesProvider
	incidents roles.IncidentProvider

	forecaster func(samples []telemetry.MetricSample, limit float64) *forecast.Trend

	mu      sync.Mutex
	runners map[string]*runner

	now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new orchestrate module instance.
func New() *Module {
	return &Module{
		now:     func() time.Time { return time.Now().UTC() },
		runners: make(map[string]*runner),
	}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "orchestrate",
		Version:      "0.1.0",
		Description:  "Incident remediation pipeline with a human approval gate",
		Dependencies: []string{"topology", "ingest", "correlate"},
		Roles:        []string{roles.RoleGate},
		Required:     true,
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger

	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("unmarshal orchestrate config: %w", err)
		}
	}

	if deps.Store == nil {
		return errors.New("orchestrate requires a store")
	}
	if err := deps.Store.Migrate(ctx, "orchestrate", migrations()); err != nil {
		return fmt.Errorf("orchestrate migrations: %w", err)
	}
	if err := deps.Store.Migrate(ctx, "gate", gate.Migrations()); err != nil {
		return fmt.Errorf("gate migrations: %w", err)
	}
	m.store = NewRunStore(deps.Store.DB())
	m.gate = gate.New(gate.NewStore(deps.Store.DB()), m.logger.Named("gate"))
	m.bus = deps.Bus
	m.diagnoser = diagnose.NewEngine(diagnose.DefaultWeights())
	m.executor = &dryRunExecutor{logger: m.logger.Named("executor")}
	m.forecaster = forecast.FitSamples

	auditor, err := compliance.NewAuditor()
	if err != nil {
		return fmt.Errorf("load compliance rules: %w", err)
	}
	m.auditor = auditor

	if deps.Plugins != nil {
		for _, p := range deps.Plugins.ResolveByRole(roles.RoleTopology) {
			if tp, ok := p.(roles.TopologyProvider); ok {
				m.topo = tp
				break
			}
		}
		for _, p := range deps.Plugins.ResolveByRole(roles.RoleSeries) {
			if sp, ok := p.(roles.SeriesProvider); ok {
				m.series = sp
				break
			}
		}
		for _, p := range deps.Plugins.ResolveByRole(roles.RoleIncidents) {
			if ip, ok := p.(roles.IncidentProvider); ok {
				m.incidents = ip
				break
			}
		}
	}
	if m.incidents == nil {
		return errors.New("orchestrate requires an incident provider")
	}
	if m.topo == nil {
		m.logger.Warn("no topology provider; diagnosis runs without graph context")
	}
	if m.series == nil {
		m.logger.Warn("no series provider; forecast branch reports no data")
	}

	m.logger.Info("orchestrate module initialized",
		zap.Float64("confidence_threshold", m.cfg.ConfidenceThreshold),
		zap.Duration("verify_window", m.cfg.VerifyWindow),
		zap.Duration("approval_timeout", m.cfg.ApprovalTimeout),
		zap.Int("compliance_rules", m.auditor.RuleCount()),
	)
	return nil
}

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: correlate.TopicIncidentOpened, Handler: m.onIncidentOpened},
		{Topic: ingest.TopicSignalDetected, Handler: m.onSignal},
	}
}

func (m *Module) onIncidentOpened(_ context.Context, ev plugin.Event) {
	inc, ok := ev.Payload.(incident.CandidateIncident)
	if !ok {
		m.logger.Warn("unexpected payload on incident topic", zap.String("topic", ev.Topic))
		return
	}
	if err := m.StartRun(inc); err != nil {
		m.logger.Error("start run failed", zap.String("incident_id", inc.ID), zap.Error(err))
	}
}

// onSignal feeds verifying runs watching the signal's (device, metric)
// series. Everything else ignores it; detection and correlation own raw
// signal handling.
func (m *Module) onSignal(_ context.Context, ev plugin.Event) {
	sig, ok := ev.Payload.(telemetry.AnomalySignal)
	if !ok {
		return
	}
	key := sig.DeviceID + "\x00" + sig.Metric

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runners {
		if r.stage != StageVerifying || !r.watches()[key] {
			continue
		}
		select {
		case r.recurrence <- sig:
		default:
		}
	}
}

// StartRun begins the pipeline for an incident. An incident gets at most
// one live runner; a second start is a conflict.
func (m *Module) StartRun(inc incident.CandidateIncident) error {
	if m.ctx == nil {
		return errors.New("orchestrate module not started")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runners[inc.ID]; exists {
		return fmt.Errorf("%w: incident %s already has a live run", ErrStateConflict, inc.ID)
	}
	if run, err := m.store.GetRun(context.Background(), inc.ID); err == nil && run.Stage.Terminal() {
		return fmt.Errorf("%w: incident %s run already finished as %s", ErrStateConflict, inc.ID, run.Stage)
	}

	r := m.newRunner(inc)
	m.runners[inc.ID] = r
	runsStartedTotal.Inc()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		r.run()
	}()
	return nil
}

func (m *Module) finishRunner(incidentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runners, incidentID)
}

// Cancel aborts a live run. Runs past the approval gate cannot be
// cancelled; rollback goes through a new proposal instead.
func (m *Module) Cancel(ctx context.Context, incidentID string) error {
	m.mu.Lock()
	r, live := m.runners[incidentID]
	var stage Stage
	if live {
		stage = r.stage
	}
	m.mu.Unlock()

	if !live {
		run, err := m.store.GetRun(ctx, incidentID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: run for %s is %s with no live runner", ErrStateConflict, incidentID, run.Stage)
	}
	if !cancellable(stage) {
		return fmt.Errorf("%w: cannot cancel run in stage %s", ErrStateConflict, stage)
	}
	r.cancel()
	return nil
}

func (m *Module) Start(_ context.Context) error {
	m.ctx, m.cancel = context.WithCancel(context.Background())

	// Runs interrupted by a restart cannot resume mid-pipeline: the
	// in-memory continuation chain is gone. Cancellable stages close their
	// incident unconfirmed; runs already remediating or verifying are left
	// for an operator.
	runs, err := m.store.ListRuns(m.ctx)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	for _, run := range runs {
		if run.Stage.Terminal() {
			continue
		}
		if !cancellable(run.Stage) {
			m.logger.Warn("interrupted run needs operator attention",
				zap.String("incident_id", run.IncidentID),
				zap.String("stage", string(run.Stage)),
			)
			continue
		}
		if err := m.incidents.Transition(m.ctx, run.IncidentID,
			stageIncidentState(run.Stage), incident.StateClosedUnconfirmed,
			"orchestrator restarted mid-run"); err != nil {
			m.logger.Warn("close interrupted incident failed",
				zap.String("incident_id", run.IncidentID), zap.Error(err))
		}
		m.saveStage(run.IncidentID, StageClosed, run.Loops)
	}

	m.logger.Info("orchestrate module started")
	return nil
}

// stageIncidentState maps a run stage to the incident lifecycle state the
// runner holds while in it.
func stageIncidentState(s Stage) incident.State {
	switch s {
	case StageIdle, StageDiscovering:
		return incident.StateOpen
	case StageDiagnosing:
		return incident.StateDiagnosing
	case StageAnalyzing:
		return incident.StateDiagnosed
	case StageProposing:
		return incident.StateRemediationProposed
	case StageAwaiting:
		return incident.StateAwaitingApproval
	case StageRemediating:
		return incident.StateRemediating
	case StageVerifying:
		return incident.StateVerifying
	}
	return incident.StateOpen
}

func (m *Module) Stop(_ context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("orchestrate module stopped")
	return nil
}

// saveStage persists a run stage change and announces it on the bus.
func (m *Module) saveStage(incidentID string, stage Stage, loops int) {
	now := m.now()
	ctx := context.Background()

	run, err := m.store.GetRun(ctx, incidentID)
	if errors.Is(err, ErrRunNotFound) {
		run = &Run{IncidentID: incidentID, StartedAt: now}
	} else if err != nil {
		m.logger.Error("load run failed", zap.String("incident_id", incidentID), zap.Error(err))
		return
	}

	run.Stage = stage
	run.Loops = loops
	run.UpdatedAt = now
	if err := m.store.SaveRun(ctx, *run); err != nil {
		m.logger.Error("save run failed", zap.String("incident_id", incidentID), zap.Error(err))
		return
	}

	if m.bus != nil {
		m.bus.PublishAsync(ctx, plugin.Event{
			Topic:     TopicRunAdvanced,
			Source:    "orchestrate",
			Timestamp: now,
			Payload:   RunEvent{IncidentID: incidentID, Stage: stage, Loops: loops},
		})
	}
	if stage.Terminal() {
		runsFinishedTotal.WithLabelValues(string(stage)).Inc()
		if m.bus != nil {
			m.bus.PublishAsync(ctx, plugin.Event{
				Topic:     TopicRunFinished,
				Source:    "orchestrate",
				Timestamp: now,
				Payload:   RunEvent{IncidentID: incidentID, Stage: stage, Loops: loops},
			})
		}
	}
}

func (m *Module) setRunProposal(incidentID, proposalID string) {
	ctx := context.Background()
	run, err := m.store.GetRun(ctx, incidentID)
	if err != nil {
		m.logger.Error("load run failed", zap.String("incident_id", incidentID), zap.Error(err))
		return
	}
	run.ProposalID = proposalID
	run.UpdatedAt = m.now()
	if err := m.store.SaveRun(ctx, *run); err != nil {
		m.logger.Error("save run failed", zap.String("incident_id", incidentID), zap.Error(err))
	}
}

// -- roles.ProposalGate --

// Pending implements roles.ProposalGate.
func (m *Module) Pending(ctx context.Context) ([]incident.RemediationProposal, error) {
	return m.gate.Pending(ctx)
}

// Proposal implements roles.ProposalGate.
func (m *Module) Proposal(ctx context.Context, id string) (*incident.RemediationProposal, error) {
	p, err := m.gate.Proposal(ctx, id)
	if errors.Is(err, gate.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// Approve implements roles.ProposalGate.
func (m *Module) Approve(ctx context.Context, id, approver string) error {
	return m.gate.Approve(ctx, id, approver)
}

// Reject implements roles.ProposalGate.
func (m *Module) Reject(ctx context.Context, id, approver, reason string) error {
	return m.gate.Reject(ctx, id, approver, reason)
}

// -- plugin.HealthChecker --

// Health implements plugin.HealthChecker.
func (m *Module) Health(ctx context.Context) plugin.HealthStatus {
	runs, err := m.store.ListRuns(ctx)
	if err != nil {
		return plugin.HealthStatus{Status: "degraded", Message: err.Error()}
	}
	byStage := make(map[string]int)
	for _, r := range runs {
		byStage[string(r.Stage)]++
	}
	details := make(map[string]string, len(byStage)+1)
	for stage, n := range byStage {
		details[stage] = fmt.Sprintf("%d", n)
	}
	m.mu.Lock()
	details["live_runners"] = fmt.Sprintf("%d", len(m.runners))
	m.mu.Unlock()
	return plugin.HealthStatus{Status: "healthy", Details: details}
}
