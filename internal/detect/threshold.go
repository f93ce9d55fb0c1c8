package detect

import (
	"fmt"

	"github.com/cwccie/netopshub/pkg/telemetry"
)

// StaticBounds flags values crossing fixed warning/critical ceilings.
// Useful for counters with a known-good floor, like CRC errors, where any
// sustained nonzero rate is actionable regardless of history.
type StaticBounds struct {
	Warning  float64
	Critical float64
}

func (s *StaticBounds) ID() string { return "static_bounds" }

func (s *StaticBounds) Evaluate(w Window) (*telemetry.AnomalySignal, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}

	latest := w.latest()
	if latest.Value < s.Warning {
		return nil, nil
	}

	bound := s.Warning
	severity := 1.0
	if latest.Value >= s.Critical {
		bound = s.Critical
		severity = 2.0
	}

	return &telemetry.AnomalySignal{
		DeviceID:   w.DeviceID,
		Metric:     w.Metric,
		Timestamp:  latest.Timestamp,
		Severity:   severity,
		DetectorID: s.ID(),
		Value:      latest.Value,
		Expected:   s.Warning,
		Window: telemetry.WindowParams{
			Size:      len(w.Samples),
			Threshold: bound,
		},
		Detail: fmt.Sprintf("value %.2f at or above bound %.2f", latest.Value, bound),
	}, nil
}
