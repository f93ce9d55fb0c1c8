package detect

import (
	"fmt"
	"math"

	"github.com/cwccie/netopshub/pkg/telemetry"
)

// EWMA tracks an exponentially weighted moving average and its decayed
// variance across the window, and flags the newest value when its deviation
// from the running average exceeds Threshold decayed standard deviations.
// The average is rebuilt from the window on every call, so equal windows
// always score equally.
type EWMA struct {
	Alpha      float64
	Threshold  float64
	MinSamples int
}

func (e *EWMA) ID() string { return "ewma" }

func (e *EWMA) Evaluate(w Window) (*telemetry.AnomalySignal, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	if len(w.Samples) < e.MinSamples {
		return nil, nil
	}

	vals := w.values()
	avg := vals[0]
	variance := 0.0

	// Fold everything but the newest value into the baseline.
	for _, v := range vals[1 : len(vals)-1] {
		diff := v - avg
		avg = e.Alpha*v + (1-e.Alpha)*avg
		variance = e.Alpha*diff*diff + (1-e.Alpha)*variance
	}

	sd := math.Sqrt(variance)
	if sd == 0 {
		return nil, nil
	}

	latest := w.latest()
	diff := latest.Value - avg
	score := math.Abs(diff) / sd
	if score < e.Threshold {
		return nil, nil
	}

	return &telemetry.AnomalySignal{
		DeviceID:   w.DeviceID,
		Metric:     w.Metric,
		Timestamp:  latest.Timestamp,
		Severity:   score,
		DetectorID: e.ID(),
		Value:      latest.Value,
		Expected:   avg,
		Window: telemetry.WindowParams{
			Size:      len(w.Samples),
			Threshold: e.Threshold,
		},
		Detail: fmt.Sprintf("ewma deviation %.2f exceeds %.1f (ewma=%.2f, stddev=%.2f)", score, e.Threshold, avg, sd),
	}, nil
}
