// Package topology owns the live network topology graph: the device
// inventory and the adjacency set discovered between devices. Other modules
// read it through immutable snapshots.
package topology

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cwccie/netopshub/pkg/models"
	"github.com/cwccie/netopshub/pkg/plugin"
	"github.com/cwccie/netopshub/pkg/roles"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.HTTPProvider    = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
	_ roles.TopologyProvider = (*Module)(nil)
)

// Module implements the topology module.
type Module struct {
	logger    *zap.Logger
	cfg       Config
	graph     *Graph
	store     *Store
	bus       plugin.EventBus
	plugins   plugin.PluginResolver
	incidents roles.IncidentProvider

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new topology module instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "topology",
		Version:     "0.1.0",
		Description: "Device inventory and adjacency graph",
		Roles:       []string{roles.RoleTopology},
		Required:    true,
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger

	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("unmarshal topology config: %w", err)
		}
	}

	if deps.Store != nil {
		if err := deps.Store.Migrate(ctx, "topology", migrations()); err != nil {
			return fmt.Errorf("topology migrations: %w", err)
		}
		m.store = NewStore(deps.Store.DB())
	}

	m.bus = deps.Bus
	m.plugins = deps.Plugins
	m.graph = NewGraph()

	m.logger.Info("topology module initialized",
		zap.Duration("stale_after", m.cfg.StaleAfter),
		zap.Duration("sweep_interval", m.cfg.SweepInterval),
	)
	return nil
}

func (m *Module) Start(_ context.Context) error {
	m.ctx, m.cancel = context.WithCancel(context.Background())

	// All modules are initialized before any starts, so the incident owner
	// is resolvable here even though it starts after topology.
	if m.incidents == nil && m.plugins != nil {
		for _, p := range m.plugins.ResolveByRole(roles.RoleIncidents) {
			if ip, ok := p.(roles.IncidentProvider); ok {
				m.incidents = ip
				break
			}
		}
		if m.incidents == nil {
			m.logger.Warn("no incident provider found, decommission reference checks disabled")
		}
	}

	if m.store != nil {
		if err := m.restore(m.ctx); err != nil {
			return fmt.Errorf("restore topology: %w", err)
		}
	}

	m.wg.Add(1)
	go m.sweepLoop()

	m.logger.Info("topology module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	if m.graph != nil {
		m.graph.Close()
	}
	m.logger.Info("topology module stopped")
	return nil
}

// restore rebuilds the live graph from persisted state.
func (m *Module) restore(ctx context.Context) error {
	devices, edges, err := m.store.Load(ctx)
	if err != nil {
		return err
	}
	for _, d := range devices {
		if _, err := m.graph.UpsertDevice(ctx, d); err != nil {
			return err
		}
	}
	restored := 0
	for _, e := range edges {
		stale := e.Stale
		if _, err := m.graph.UpsertEdge(ctx, e); err != nil {
			// Edge referencing a missing device; skip rather than abort.
			m.logger.Warn("skipping orphaned edge", zap.String("edge", e.Key()), zap.Error(err))
			continue
		}
		if stale {
			// UpsertEdge clears the stale mark; re-apply via sweep below.
			restored++
		}
	}
	if restored > 0 {
		if _, err := m.graph.SweepStale(ctx, m.cfg.StaleAfter, time.Now().UTC()); err != nil {
			return err
		}
	}
	m.logger.Info("topology restored",
		zap.Int("devices", len(devices)),
		zap.Int("edges", len(edges)),
	)
	return nil
}

// sweepLoop periodically marks unconfirmed edges stale.
func (m *Module) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case now := <-ticker.C:
			marked, err := m.graph.SweepStale(m.ctx, m.cfg.StaleAfter, now.UTC())
			if err != nil {
				m.logger.Error("stale sweep failed", zap.Error(err))
				continue
			}
			if marked > 0 {
				m.logger.Info("marked stale edges", zap.Int("count", marked))
				m.persistSnapshotEdges()
				m.publish(TopicEdgeStale, marked)
			}
		}
	}
}

// persistSnapshotEdges writes the current edge set back to the store after a
// sweep, so stale marks survive restarts.
func (m *Module) persistSnapshotEdges() {
	if m.store == nil {
		return
	}
	for _, e := range m.graph.Snapshot().Edges {
		if !e.Stale {
			continue
		}
		if err := m.store.MarkEdgeStale(m.ctx, e.Key()); err != nil {
			m.logger.Error("persist stale edge failed", zap.String("edge", e.Key()), zap.Error(err))
		}
	}
}

// referencedByIncident returns the ID of a non-terminal incident citing the
// device, or "" when none does. A device cited by an open incident must not
// leave the graph: diagnosis and blast-radius reasoning would dereference a
// ghost.
func (m *Module) referencedByIncident(ctx context.Context, deviceID string) (string, error) {
	if m.incidents == nil {
		return "", nil
	}
	incs, err := m.incidents.Incidents(ctx, "")
	if err != nil {
		return "", err
	}
	for _, inc := range incs {
		if inc.State.Terminal() {
			continue
		}
		for _, d := range inc.DeviceIDs {
			if d == deviceID {
				return inc.ID, nil
			}
		}
	}
	return "", nil
}

func (m *Module) publish(topic string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.PublishAsync(context.Background(), plugin.Event{
		Topic:     topic,
		Source:    "topology",
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
}

// -- roles.TopologyProvider --

// Snapshot implements roles.TopologyProvider.
func (m *Module) Snapshot(_ context.Context) (*models.TopologySnapshot, error) {
	return m.graph.Snapshot(), nil
}

// Neighbors implements roles.TopologyProvider.
func (m *Module) Neighbors(_ context.Context, deviceID string, maxHops int, includeStale bool) ([]string, error) {
	return WithinHops(m.graph.Snapshot(), deviceID, maxHops, includeStale)
}

// -- plugin.HealthChecker --

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	snap := m.graph.Snapshot()
	stale := 0
	for _, e := range snap.Edges {
		if e.Stale {
			stale++
		}
	}
	return plugin.HealthStatus{
		Status: "healthy",
		Details: map[string]string{
			"devices":     strconv.Itoa(len(snap.Devices)),
			"edges":       strconv.Itoa(len(snap.Edges)),
			"stale_edges": strconv.Itoa(stale),
		},
	}
}
