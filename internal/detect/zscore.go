package detect

import (
	"fmt"
	"math"

	"github.com/cwccie/netopshub/pkg/telemetry"
)

// ZScore flags values whose distance from the window mean exceeds
// Threshold standard deviations.
type ZScore struct {
	Threshold  float64
	MinSamples int
}

func (z *ZScore) ID() string { return "zscore" }

func (z *ZScore) Evaluate(w Window) (*telemetry.AnomalySignal, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	if len(w.Samples) < z.MinSamples {
		return nil, nil
	}

	vals := w.values()
	m := mean(vals)
	sd := stdDev(vals, m)
	if sd == 0 {
		return nil, nil
	}

	latest := w.latest()
	score := (latest.Value - m) / sd
	if math.Abs(score) < z.Threshold {
		return nil, nil
	}

	return &telemetry.AnomalySignal{
		DeviceID:   w.DeviceID,
		Metric:     w.Metric,
		Timestamp:  latest.Timestamp,
		Severity:   math.Abs(score),
		DetectorID: z.ID(),
		Value:      latest.Value,
		Expected:   m,
		Window: telemetry.WindowParams{
			Size:      len(w.Samples),
			Threshold: z.Threshold,
		},
		Detail: fmt.Sprintf("z-score %.2f exceeds %.1f (mean=%.2f, stddev=%.2f)", score, z.Threshold, m, sd),
	}, nil
}
