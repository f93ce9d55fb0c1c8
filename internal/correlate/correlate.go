// Package correlate turns bursts of independent anomaly signals into a
// small number of candidate incidents. Grouping is topology-aware and runs
// on a window tick so a closing window always sees every signal that
// arrived before it.
package correlate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cwccie/netopshub/internal/ingest"
	"github.com/cwccie/netopshub/pkg/incident"
	"github.com/cwccie/netopshub/pkg/models"
	"github.com/cwccie/netopshub/pkg/plugin"
	"github.com/cwccie/netopshub/pkg/roles"
	"github.com/cwccie/netopshub/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ErrIllegalTransition rejects lifecycle moves the state machine does not
// allow. The incident record is left untouched.
var ErrIllegalTransition = errors.New("illegal incident transition")

var (
	incidentsOpenedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "correlate_incidents_opened_total",
		Help: "Candidate incidents opened.",
	})
	incidentsSuppressedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "correlate_incidents_suppressed_total",
		Help: "Incidents closed unconfirmed by a maintenance window.",
	})
	signalsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "correlate_signals_dropped_total",
		Help: "Signals dropped because the intake queue was full.",
	})
)

func init() {
	prometheus.MustRegister(incidentsOpenedTotal)
	prometheus.MustRegister(incidentsSuppressedTotal)
	prometheus.MustRegister(signalsDroppedTotal)
}

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.HTTPProvider    = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
	_ roles.IncidentProvider = (*Module)(nil)
)

// Module implements the correlate module.
type Module struct {
	logger *zap.Logger
	cfg    Config
	store  *IncidentStore
	bus    plugin.EventBus
	topo   roles.TopologyProvider
	engine *Engine

	queue   chan telemetry.AnomalySignal
	pending []telemetry.AnomalySignal // owned by the coordinator goroutine

	mu  sync.Mutex // serializes incident record writes outside the coordinator
	now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new correlate module instance.
func New() *Module {
	return &Module{now: func() time.Time { return time.Now().UTC() }}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "correlate",
		Version:      "0.1.0",
		Description:  "Topology-aware incident correlation",
		Dependencies: []string{"topology", "ingest"},
		Roles:        []string{roles.RoleIncidents},
		Required:     true,
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger

	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("unmarshal correlate config: %w", err)
		}
	}

	if deps.Store == nil {
		return errors.New("correlate requires a store")
	}
	if err := deps.Store.Migrate(ctx, "correlate", migrations()); err != nil {
		return fmt.Errorf("correlate migrations: %w", err)
	}
	m.store = NewIncidentStore(deps.Store.DB())
	m.bus = deps.Bus
	m.engine = NewEngine(m.cfg)
	m.queue = make(chan telemetry.AnomalySignal, m.cfg.QueueDepth)

	if deps.Plugins != nil {
		for _, p := range deps.Plugins.ResolveByRole(roles.RoleTopology) {
			if tp, ok := p.(roles.TopologyProvider); ok {
				m.topo = tp
				break
			}
		}
	}
	if m.topo == nil {
		m.logger.Warn("no topology provider; correlation falls back to systemic grouping only")
	}

	m.logger.Info("correlate module initialized",
		zap.Duration("window", m.cfg.Window),
		zap.Duration("tick_interval", m.cfg.TickInterval),
		zap.Int("max_hops", m.cfg.MaxHops),
	)
	return nil
}

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: ingest.TopicSignalDetected, Handler: m.onSignal},
	}
}

func (m *Module) onSignal(_ context.Context, ev plugin.Event) {
	sig, ok := ev.Payload.(telemetry.AnomalySignal)
	if !ok {
		m.logger.Warn("unexpected payload on signal topic", zap.String("topic", ev.Topic))
		return
	}
	select {
	case m.queue <- sig:
	default:
		signalsDroppedTotal.Inc()
		m.logger.Warn("signal queue full, dropping",
			zap.String("device_id", sig.DeviceID),
			zap.String("metric", sig.Metric),
		)
	}
}

func (m *Module) Start(_ context.Context) error {
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.wg.Add(1)
	go m.run()
	m.logger.Info("correlate module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("correlate module stopped")
	return nil
}

// run is the coordinator: the single goroutine that drains the signal
// queue and finalizes groups, so "window just closed" and "signal just
// arrived" can never race.
func (m *Module) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.tick(m.now())
		}
	}
}

func (m *Module) tick(now time.Time) {
	m.drain()

	cutoff := now.Add(-m.cfg.Window)
	kept := m.pending[:0]
	for _, s := range m.pending {
		if !s.Timestamp.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	m.pending = kept
	if len(m.pending) == 0 {
		return
	}

	var snap *models.TopologySnapshot
	if m.topo != nil {
		var err error
		snap, err = m.topo.Snapshot(m.ctx)
		if err != nil {
			m.logger.Error("topology snapshot failed", zap.Error(err))
		}
	}

	windows, err := m.store.ListWindows(m.ctx)
	if err != nil {
		m.logger.Error("list maintenance windows failed", zap.Error(err))
	}

	consumed := make(map[string]bool)
	for _, g := range m.engine.Group(snap, m.pending) {
		if !m.engine.Qualified(g) {
			continue
		}
		inc := buildIncident(g, now)
		if err := m.openIncident(inc, windows, now); err != nil {
			m.logger.Error("open incident failed", zap.Error(err))
			continue
		}
		for _, s := range g.signals {
			consumed[signalKey(s)] = true
		}
	}

	if len(consumed) > 0 {
		kept = m.pending[:0]
		for _, s := range m.pending {
			if !consumed[signalKey(s)] {
				kept = append(kept, s)
			}
		}
		m.pending = kept
	}
}

func (m *Module) drain() {
	for {
		select {
		case s := <-m.queue:
			m.pending = append(m.pending, s)
		default:
			return
		}
	}
}

func signalKey(s telemetry.AnomalySignal) string {
	return s.DeviceID + "\x00" + s.Metric + "\x00" + s.Timestamp.Format(time.RFC3339Nano)
}

// openIncident persists a new incident, closing it unconfirmed instead
// when every affected device sits in an active maintenance window. The
// evidence is kept either way.
func (m *Module) openIncident(inc incident.CandidateIncident, windows []models.MaintenanceWindow, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	topic := TopicIncidentOpened
	summary := summarize(inc)
	kind := "signal"
	if suppressed(windows, inc.DeviceIDs, now) {
		inc.State = incident.StateClosedUnconfirmed
		topic = TopicIncidentSuppressed
		summary = "suppressed by maintenance window: " + summary
		kind = "decision"
		incidentsSuppressedTotal.Inc()
	} else {
		incidentsOpenedTotal.Inc()
	}

	if err := m.store.SaveIncident(m.ctx, inc); err != nil {
		return err
	}
	if err := m.store.AppendEvidence(m.ctx, incident.Evidence{
		IncidentID: inc.ID,
		Kind:       kind,
		Summary:    summary,
		RecordedAt: now,
	}); err != nil {
		return err
	}

	m.logger.Info("incident recorded",
		zap.String("incident_id", inc.ID),
		zap.String("state", string(inc.State)),
		zap.Strings("devices", inc.DeviceIDs),
		zap.Bool("systemic", inc.Systemic),
	)
	if m.bus != nil {
		m.bus.PublishAsync(context.Background(), plugin.Event{
			Topic:     topic,
			Source:    "correlate",
			Timestamp: now,
			Payload:   inc,
		})
	}
	return nil
}

// -- roles.IncidentProvider --

// Incident implements roles.IncidentProvider.
func (m *Module) Incident(ctx context.Context, id string) (*incident.CandidateIncident, error) {
	inc, err := m.store.GetIncident(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return inc, err
}

// Incidents implements roles.IncidentProvider.
func (m *Module) Incidents(ctx context.Context, state incident.State) ([]incident.CandidateIncident, error) {
	return m.store.ListIncidents(ctx, state)
}

// Transition implements roles.IncidentProvider. The move must both match
// the incident's current state and be legal in the forward-only lifecycle.
func (m *Module) Transition(ctx context.Context, id string, from, to incident.State, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inc, err := m.store.GetIncident(ctx, id)
	if err != nil {
		return err
	}
	if inc.State != from {
		return fmt.Errorf("%w: incident %s is %s, not %s", ErrIllegalTransition, id, inc.State, from)
	}
	if !incident.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	now := m.now()
	inc.State = to
	inc.UpdatedAt = now
	if err := m.store.SaveIncident(ctx, *inc); err != nil {
		return err
	}
	if err := m.store.AppendEvidence(ctx, incident.Evidence{
		IncidentID: id,
		Kind:       "transition",
		Summary:    fmt.Sprintf("%s -> %s", from, to),
		Detail:     note,
		RecordedAt: now,
	}); err != nil {
		return err
	}

	if m.bus != nil {
		m.bus.PublishAsync(context.Background(), plugin.Event{
			Topic:     TopicIncidentTransitioned,
			Source:    "correlate",
			Timestamp: now,
			Payload: TransitionEvent{
				IncidentID: id,
				From:       string(from),
				To:         string(to),
				Note:       note,
			},
		})
	}
	return nil
}

// AppendEvidence implements roles.IncidentProvider.
func (m *Module) AppendEvidence(ctx context.Context, id string, ev incident.Evidence) error {
	ev.IncidentID = id
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = m.now()
	}
	return m.store.AppendEvidence(ctx, ev)
}

// AttachHypotheses implements roles.IncidentProvider.
func (m *Module) AttachHypotheses(ctx context.Context, id string, hyps []incident.RootCauseHypothesis) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inc, err := m.store.GetIncident(ctx, id)
	if err != nil {
		return err
	}
	inc.Hypotheses = hyps
	inc.UpdatedAt = m.now()
	return m.store.SaveIncident(ctx, *inc)
}

// -- plugin.HealthChecker --

// Health implements plugin.HealthChecker.
func (m *Module) Health(ctx context.Context) plugin.HealthStatus {
	counts, err := m.store.CountByState(ctx)
	if err != nil {
		return plugin.HealthStatus{Status: "degraded", Message: err.Error()}
	}
	details := make(map[string]string, len(counts))
	for state, n := range counts {
		details[state] = fmt.Sprintf("%d", n)
	}
	return plugin.HealthStatus{Status: "healthy", Details: details}
}
