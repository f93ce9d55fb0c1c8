package detect

import (
	"fmt"
	"math"

	"github.com/cwccie/netopshub/pkg/telemetry"
)

// VectorWindow is a time-aligned matrix of several metrics for one device,
// one row per observation time, oldest first. The last row is the
// observation under evaluation.
type VectorWindow struct {
	DeviceID string
	Metrics  []string
	Rows     [][]float64
}

// Mahalanobis scores a device's newest multi-metric observation by its
// Mahalanobis distance from the window, using a diagonal covariance
// estimate. Catches jointly unusual observations whose individual metrics
// stay inside their own bounds.
type Mahalanobis struct {
	Threshold  float64
	MinSamples int
}

func (m *Mahalanobis) ID() string { return "mahalanobis" }

// EvaluateVector scores the last row of the window. The reported
// AnomalySignal names the most-deviant metric of the vector.
func (m *Mahalanobis) EvaluateVector(w VectorWindow) (*telemetry.AnomalySignal, error) {
	if len(w.Rows) == 0 || len(w.Metrics) == 0 {
		return nil, fmt.Errorf("%w: empty vector window for %s", ErrInvalidSample, w.DeviceID)
	}
	dims := len(w.Metrics)
	for i, row := range w.Rows {
		if len(row) != dims {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrInvalidSample, i, len(row), dims)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: non-finite value in row %d for %s", ErrInvalidSample, i, w.DeviceID)
			}
		}
	}
	if len(w.Rows) < m.MinSamples {
		return nil, nil
	}

	n := len(w.Rows)
	means := make([]float64, dims)
	for _, row := range w.Rows {
		for j, v := range row {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= float64(n)
	}

	variances := make([]float64, dims)
	for _, row := range w.Rows {
		for j, v := range row {
			d := v - means[j]
			variances[j] += d * d
		}
	}
	for j := range variances {
		variances[j] /= float64(n - 1)
	}

	latest := w.Rows[n-1]
	var dist2 float64
	worst := 0
	worstZ := 0.0
	for j, v := range latest {
		if variances[j] == 0 {
			continue
		}
		z := (v - means[j]) / math.Sqrt(variances[j])
		dist2 += z * z
		if math.Abs(z) > math.Abs(worstZ) {
			worstZ = z
			worst = j
		}
	}

	dist := math.Sqrt(dist2)
	if dist < m.Threshold {
		return nil, nil
	}

	return &telemetry.AnomalySignal{
		DeviceID:   w.DeviceID,
		Metric:     w.Metrics[worst],
		Severity:   dist,
		DetectorID: m.ID(),
		Value:      latest[worst],
		Expected:   means[worst],
		Window: telemetry.WindowParams{
			Size:      n,
			Threshold: m.Threshold,
		},
		Detail: fmt.Sprintf("mahalanobis distance %.2f over %d metrics, dominant %s (z=%.2f)",
			dist, dims, w.Metrics[worst], worstZ),
	}, nil
}
