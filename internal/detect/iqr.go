package detect

import (
	"fmt"

	"github.com/cwccie/netopshub/pkg/telemetry"
)

// IQR flags values falling outside Tukey fences placed Multiplier
// interquartile ranges beyond Q1 and Q3.
type IQR struct {
	Multiplier float64
	MinSamples int
}

func (d *IQR) ID() string { return "iqr" }

func (d *IQR) Evaluate(w Window) (*telemetry.AnomalySignal, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	if len(w.Samples) < d.MinSamples {
		return nil, nil
	}

	vals := w.values()
	q1, q3 := quartiles(vals)
	iqr := q3 - q1
	lower := q1 - d.Multiplier*iqr
	upper := q3 + d.Multiplier*iqr

	latest := w.latest()
	if latest.Value >= lower && latest.Value <= upper {
		return nil, nil
	}

	// Distance beyond the nearest fence, in IQR units.
	span := iqr
	if span <= 0 {
		span = 1
	}
	var score float64
	if latest.Value < lower {
		score = (lower - latest.Value) / span
	} else {
		score = (latest.Value - upper) / span
	}

	return &telemetry.AnomalySignal{
		DeviceID:   w.DeviceID,
		Metric:     w.Metric,
		Timestamp:  latest.Timestamp,
		Severity:   score,
		DetectorID: d.ID(),
		Value:      latest.Value,
		Expected:   (q1 + q3) / 2,
		Window: telemetry.WindowParams{
			Size:      len(w.Samples),
			Threshold: d.Multiplier,
		},
		Detail: fmt.Sprintf("value %.2f outside fences [%.2f, %.2f]", latest.Value, lower, upper),
	}, nil
}
