package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cwccie/netopshub/internal/detect"
	"github.com/cwccie/netopshub/pkg/telemetry"
	"go.uber.org/zap"
)

// Sentinel errors for sample admission.
var (
	// ErrInvalidSample rejects samples missing identity fields or carrying
	// non-finite values.
	ErrInvalidSample = errors.New("invalid sample")

	// ErrStaleSample rejects samples older than the configured admission
	// horizon.
	ErrStaleSample = errors.New("sample too old")

	// ErrBackpressure rejects samples when a series queue stays full for
	// the configured enqueue wait. The caller decides whether to retry.
	ErrBackpressure = errors.New("series queue full")
)

// SignalFunc receives anomaly signals raised by the pipeline.
type SignalFunc func(sig *telemetry.AnomalySignal)

// Pipeline fans samples out to one worker goroutine per (device, metric,
// interface) series. Each worker owns its rolling window, so no locks guard
// the hot path; a sample is either admitted to its series queue or rejected
// immediately.
type Pipeline struct {
	cfg      Config
	registry *detect.Registry
	store    *SeriesStore
	logger   *zap.Logger
	emit     SignalFunc
	vectors  *vectorAssembler
	now      func() time.Time

	mu      sync.Mutex
	workers map[string]*seriesWorker
	closed  bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

type seriesWorker struct {
	ch     chan telemetry.MetricSample
	window []telemetry.MetricSample

	// First-seen unit of the series; guarded by Pipeline.mu.
	unit string
}

// NewPipeline creates a pipeline. store may be nil for in-memory operation;
// emit may be nil when nothing consumes signals.
func NewPipeline(cfg Config, registry *detect.Registry, store *SeriesStore, logger *zap.Logger, emit SignalFunc) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		cfg:      cfg,
		registry: registry,
		store:    store,
		logger:   logger,
		emit:     emit,
		now:      func() time.Time { return time.Now().UTC() },
		workers:  make(map[string]*seriesWorker),
		ctx:      ctx,
		cancel:   cancel,
	}
	if len(cfg.VectorMetrics) > 0 && cfg.MahalanobisThreshold > 0 {
		p.vectors = newVectorAssembler(cfg.VectorMetrics, &detect.Mahalanobis{
			Threshold:  cfg.MahalanobisThreshold,
			MinSamples: cfg.MinSamples,
		}, cfg.MaxHistory)
	}
	return p
}

// Stop shuts down all series workers and waits for them to drain.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
}

func seriesKey(s telemetry.MetricSample) string {
	return s.DeviceID + "\x00" + s.Metric + "\x00" + s.Interface
}

// Submit validates and enqueues one sample. A full series queue blocks for
// at most the configured enqueue wait before failing with ErrBackpressure.
func (p *Pipeline) Submit(ctx context.Context, s telemetry.MetricSample) error {
	if s.DeviceID == "" || s.Metric == "" {
		return fmt.Errorf("%w: device_id and metric are required", ErrInvalidSample)
	}
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return fmt.Errorf("%w: non-finite value for %s/%s", ErrInvalidSample, s.DeviceID, s.Metric)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp for %s/%s", ErrInvalidSample, s.DeviceID, s.Metric)
	}
	if age := p.now().Sub(s.Timestamp); age > p.cfg.MaxSampleAge {
		return fmt.Errorf("%w: %s/%s is %s old", ErrStaleSample, s.DeviceID, s.Metric, age.Round(time.Second))
	}

	w, err := p.worker(s)
	if err != nil {
		return err
	}

	select {
	case w.ch <- s:
		return nil
	default:
	}

	if p.cfg.EnqueueWait > 0 {
		timer := time.NewTimer(p.cfg.EnqueueWait)
		defer timer.Stop()
		select {
		case w.ch <- s:
			return nil
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	droppedTotal.WithLabelValues(s.Metric).Inc()
	return fmt.Errorf("%w: %s/%s", ErrBackpressure, s.DeviceID, s.Metric)
}

func (p *Pipeline) worker(s telemetry.MetricSample) (*seriesWorker, error) {
	key := seriesKey(s)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("pipeline stopped")
	}
	w, ok := p.workers[key]
	if !ok {
		w = &seriesWorker{
			ch:   make(chan telemetry.MetricSample, p.cfg.QueueDepth),
			unit: s.Unit,
		}
		p.workers[key] = w
		p.wg.Add(1)
		go p.run(w)
		return w, nil
	}

	// A series keeps the unit it was first observed with; samples carrying
	// a different unit are not comparable to the window.
	if w.unit == "" {
		w.unit = s.Unit
	} else if s.Unit != "" && s.Unit != w.unit {
		return nil, fmt.Errorf("%w: %s/%s unit %q, series is %q",
			ErrInvalidSample, s.DeviceID, s.Metric, s.Unit, w.unit)
	}
	return w, nil
}

func (p *Pipeline) run(w *seriesWorker) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case s := <-w.ch:
			p.process(w, s)
		}
	}
}

// process admits one sample into the worker's window and runs detection.
// Re-submitting an already-seen observation is a no-op, and a late sample
// merges into the window without re-triggering detection; only the newest
// observation of a series is evaluated.
func (p *Pipeline) process(w *seriesWorker, s telemetry.MetricSample) {
	for _, prev := range w.window {
		if prev.Timestamp.Equal(s.Timestamp) {
			return
		}
	}

	newest := len(w.window) == 0 || s.Timestamp.After(w.window[len(w.window)-1].Timestamp)
	w.window = append(w.window, s)
	if !newest {
		sort.Slice(w.window, func(i, j int) bool {
			return w.window[i].Timestamp.Before(w.window[j].Timestamp)
		})
	}
	if len(w.window) > p.cfg.MaxHistory {
		w.window = w.window[len(w.window)-p.cfg.MaxHistory:]
	}

	samplesTotal.WithLabelValues(s.Metric).Inc()

	if p.store != nil {
		if err := p.store.InsertSample(p.ctx, s); err != nil {
			p.logger.Error("persist sample failed",
				zap.String("device_id", s.DeviceID),
				zap.String("metric", s.Metric),
				zap.Error(err),
			)
		}
	}

	if !newest {
		return
	}

	if p.registry != nil {
		sig, err := p.registry.Evaluate(detect.Window{
			DeviceID: s.DeviceID,
			Metric:   s.Metric,
			Samples:  w.window,
		})
		if err != nil {
			p.logger.Error("detector evaluation failed",
				zap.String("device_id", s.DeviceID),
				zap.String("metric", s.Metric),
				zap.Error(err),
			)
		} else if sig != nil {
			p.raise(sig)
		}
	}

	// Joint cross-metric evaluation for this device.
	if p.vectors != nil {
		sig, err := p.vectors.observe(s)
		if err != nil {
			p.logger.Error("vector evaluation failed",
				zap.String("device_id", s.DeviceID),
				zap.Error(err),
			)
		} else if sig != nil {
			p.raise(sig)
		}
	}
}

// raise records and forwards one detector signal.
func (p *Pipeline) raise(sig *telemetry.AnomalySignal) {
	signalsTotal.WithLabelValues(sig.Metric, sig.DetectorID).Inc()
	if p.store != nil {
		if err := p.store.InsertSignal(p.ctx, *sig); err != nil {
			p.logger.Error("persist signal failed", zap.Error(err))
		}
	}
	if p.emit != nil {
		p.emit(sig)
	}
}

// SeriesCount reports how many live series workers exist.
func (p *Pipeline) SeriesCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}
