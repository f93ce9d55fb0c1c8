// Package detect provides the statistical anomaly detectors that run over
// rolling windows of a single (device, metric) series. Detectors hold no
// state of their own; given the same window they produce the same result.
package detect

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/cwccie/netopshub/pkg/telemetry"
)

// ErrInvalidSample is returned when a window contains unusable data
// (empty, NaN/Inf values, or mismatched series keys).
var ErrInvalidSample = errors.New("invalid sample in detection window")

// Window is a rolling slice of one series, ordered oldest to newest.
// The last sample is the one under evaluation.
type Window struct {
	DeviceID string
	Metric   string
	Samples  []telemetry.MetricSample
}

// Detector evaluates the newest sample of a window against the rest.
// A nil signal with nil error means the value is unremarkable.
type Detector interface {
	ID() string
	Evaluate(w Window) (*telemetry.AnomalySignal, error)
}

// validate rejects windows a detector cannot evaluate safely.
func (w Window) validate() error {
	if len(w.Samples) == 0 {
		return fmt.Errorf("%w: empty window for %s/%s", ErrInvalidSample, w.DeviceID, w.Metric)
	}
	for i, s := range w.Samples {
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			return fmt.Errorf("%w: sample %d of %s/%s is %v", ErrInvalidSample, i, w.DeviceID, w.Metric, s.Value)
		}
		if s.DeviceID != w.DeviceID || s.Metric != w.Metric {
			return fmt.Errorf("%w: sample %d belongs to %s/%s, window is %s/%s",
				ErrInvalidSample, i, s.DeviceID, s.Metric, w.DeviceID, w.Metric)
		}
	}
	return nil
}

// latest returns the sample under evaluation.
func (w Window) latest() telemetry.MetricSample {
	return w.Samples[len(w.Samples)-1]
}

// values extracts the raw series values.
func (w Window) values() []float64 {
	vals := make([]float64, len(w.Samples))
	for i, s := range w.Samples {
		vals[i] = s.Value
	}
	return vals
}

func mean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func stdDev(vals []float64, m float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	var ss float64
	for _, v := range vals {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(vals)-1))
}

// quartiles returns Q1 and Q3 of the series.
func quartiles(vals []float64) (q1, q3 float64) {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	return sorted[n/4], sorted[3*n/4]
}

// Params carries the tunables shared by the reference detectors.
type Params struct {
	MinSamples      int
	ZScoreThreshold float64
	IQRMultiplier   float64
	EWMAAlpha       float64
	EWMAThreshold   float64
}

// DefaultParams mirrors the shipped module defaults.
func DefaultParams() Params {
	return Params{
		MinSamples:      10,
		ZScoreThreshold: 3.0,
		IQRMultiplier:   1.5,
		EWMAAlpha:       0.3,
		EWMAThreshold:   3.0,
	}
}

// Registry maps metric names onto the detector chain that evaluates them.
// Unknown metrics fall back to the default chain.
type Registry struct {
	chains   map[string][]Detector
	fallback []Detector
}

// NewRegistry builds the reference metric-to-detector mapping.
func NewRegistry(p Params) *Registry {
	zscore := &ZScore{Threshold: p.ZScoreThreshold, MinSamples: p.MinSamples}
	iqr := &IQR{Multiplier: p.IQRMultiplier, MinSamples: p.MinSamples}
	ewma := &EWMA{Alpha: p.EWMAAlpha, Threshold: p.EWMAThreshold, MinSamples: p.MinSamples}

	r := &Registry{
		chains:   make(map[string][]Detector),
		fallback: []Detector{zscore},
	}

	// Utilization metrics drift slowly; EWMA catches level shifts the
	// static baseline misses.
	for _, m := range []string{telemetry.MetricCPU, telemetry.MetricMemory, telemetry.MetricTemperature} {
		r.chains[m] = []Detector{zscore, ewma}
	}

	// Traffic metrics are heavy-tailed; IQR fences handle skew better
	// than a gaussian assumption.
	for _, m := range []string{telemetry.MetricBandwidthIn, telemetry.MetricBandwidthOut} {
		r.chains[m] = []Detector{iqr, ewma}
	}

	// Error counters should be near zero; a static floor plus z-score.
	errBounds := &StaticBounds{Warning: 1, Critical: 10}
	for _, m := range []string{telemetry.MetricCRCErrors, telemetry.MetricErrorRate, telemetry.MetricDiscardRate} {
		r.chains[m] = []Detector{errBounds, zscore}
	}

	for _, m := range []string{telemetry.MetricLatency, telemetry.MetricPacketLoss} {
		r.chains[m] = []Detector{zscore, iqr}
	}

	return r
}

// Chain returns the detectors for a metric.
func (r *Registry) Chain(metric string) []Detector {
	if c, ok := r.chains[metric]; ok {
		return c
	}
	return r.fallback
}

// Override replaces the chain for one metric.
func (r *Registry) Override(metric string, chain []Detector) {
	r.chains[metric] = chain
}

// Evaluate runs the metric's chain over the window and returns the first
// signal any detector raises.
func (r *Registry) Evaluate(w Window) (*telemetry.AnomalySignal, error) {
	for _, d := range r.Chain(w.Metric) {
		sig, err := d.Evaluate(w)
		if err != nil {
			return nil, err
		}
		if sig != nil {
			return sig, nil
		}
	}
	return nil, nil
}
