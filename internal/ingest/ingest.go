// Package ingest owns telemetry intake: it validates and persists metric
// samples, logs, and flow rollups, keeps per-series rolling windows, and
// runs the anomaly detector chains over every new observation.
package ingest

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cwccie/netopshub/internal/detect"
	"github.com/cwccie/netopshub/pkg/plugin"
	"github.com/cwccie/netopshub/pkg/roles"
	"github.com/cwccie/netopshub/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Prometheus ingest metrics.
var (
	samplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_samples_total",
			Help: "Samples admitted into the pipeline.",
		},
		[]string{"metric"},
	)
	droppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_dropped_total",
			Help: "Samples dropped due to series queue backpressure.",
		},
		[]string{"metric"},
	)
	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_signals_total",
			Help: "Anomaly signals raised by detectors.",
		},
		[]string{"metric", "detector"},
	)
)

func init() {
	prometheus.MustRegister(samplesTotal)
	prometheus.MustRegister(droppedTotal)
	prometheus.MustRegister(signalsTotal)
}

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HTTPProvider  = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
	_ roles.SeriesProvider = (*Module)(nil)
)

// Module implements the ingest module.
type Module struct {
	logger   *zap.Logger
	cfg      Config
	store    *SeriesStore
	pipeline *Pipeline
	bus      plugin.EventBus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new ingest module instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "ingest",
		Version:     "0.1.0",
		Description: "Telemetry intake and anomaly detection",
		Roles:       []string{roles.RoleSeries},
		Required:    true,
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger

	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("unmarshal ingest config: %w", err)
		}
	}

	if deps.Store != nil {
		if err := deps.Store.Migrate(ctx, "ingest", migrations()); err != nil {
			return fmt.Errorf("ingest migrations: %w", err)
		}
		m.store = NewSeriesStore(deps.Store.DB())
	}

	m.bus = deps.Bus

	registry := detect.NewRegistry(detect.Params{
		MinSamples:      m.cfg.MinSamples,
		ZScoreThreshold: m.cfg.ZScoreThreshold,
		IQRMultiplier:   m.cfg.IQRMultiplier,
		EWMAAlpha:       m.cfg.EWMAAlpha,
		EWMAThreshold:   m.cfg.EWMAThreshold,
	})
	m.pipeline = NewPipeline(m.cfg, registry, m.store, m.logger, m.emitSignal)

	m.logger.Info("ingest module initialized",
		zap.Int("queue_depth", m.cfg.QueueDepth),
		zap.Duration("max_sample_age", m.cfg.MaxSampleAge),
		zap.Float64("zscore_threshold", m.cfg.ZScoreThreshold),
	)
	return nil
}

func (m *Module) Start(_ context.Context) error {
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.wg.Add(1)
	go m.maintenanceLoop()
	m.logger.Info("ingest module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	if m.pipeline != nil {
		m.pipeline.Stop()
	}
	m.logger.Info("ingest module stopped")
	return nil
}

// emitSignal forwards a detector signal onto the bus.
func (m *Module) emitSignal(sig *telemetry.AnomalySignal) {
	m.logger.Info("anomaly signal",
		zap.String("device_id", sig.DeviceID),
		zap.String("metric", sig.Metric),
		zap.String("detector", sig.DetectorID),
		zap.Float64("severity", sig.Severity),
	)
	if m.bus == nil {
		return
	}
	m.bus.PublishAsync(context.Background(), plugin.Event{
		Topic:     TopicSignalDetected,
		Source:    "ingest",
		Timestamp: time.Now().UTC(),
		Payload:   *sig,
	})
}

// maintenanceLoop prunes aged telemetry on an interval.
func (m *Module) maintenanceLoop() {
	defer m.wg.Done()
	if m.store == nil {
		return
	}
	ticker := time.NewTicker(m.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := m.store.Prune(m.ctx, now.UTC().Add(-m.cfg.RetentionPeriod))
			if err != nil {
				m.logger.Error("telemetry prune failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				m.logger.Info("pruned aged telemetry", zap.Int64("rows", removed))
			}
		}
	}
}

// -- roles.SeriesProvider --

// Range implements roles.SeriesProvider.
func (m *Module) Range(ctx context.Context, deviceID, metric string, from, to time.Time) ([]telemetry.MetricSample, error) {
	if m.store == nil {
		return nil, nil
	}
	return m.store.Range(ctx, deviceID, metric, from, to)
}

// -- plugin.HealthChecker --

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	return plugin.HealthStatus{
		Status: "healthy",
		Details: map[string]string{
			"series": strconv.Itoa(m.pipeline.SeriesCount()),
		},
	}
}
