// Package forecast projects metric trends against capacity limits and
// evaluates SLA targets over recent series windows. Everything here is
// pure computation over samples handed in by the caller.
package forecast

import (
	"time"

	"github.com/cwccie/netopshub/pkg/telemetry"
)

// Trend is the output of a least-squares fit over one metric series.
type Trend struct {
	Metric    string  `json:"metric"`
	DeviceID  string  `json:"device_id"`
	Slope     float64 `json:"slope"`     // change per hour
	Intercept float64 `json:"intercept"` // value at the series start
	RSquared  float64 `json:"r_squared"` // fit quality, 0-1
	Current   float64 `json:"current"`   // model value at the last sample

	// TimeToLimit is how long until the trend crosses the limit, nil when
	// the series is not approaching it.
	TimeToLimit *time.Duration `json:"time_to_limit,omitempty"`
}

// FitSamples runs a least-squares fit over a metric series and forecasts
// when the trend crosses limit. Returns nil for fewer than two samples.
func FitSamples(samples []telemetry.MetricSample, limit float64) *Trend {
	if len(samples) < 2 {
		return nil
	}
	hours := make([]float64, len(samples))
	values := make([]float64, len(samples))
	base := samples[0].Timestamp
	for i, s := range samples {
		hours[i] = s.Timestamp.Sub(base).Hours()
		values[i] = s.Value
	}
	t := fit(hours, values, limit)
	if t == nil {
		return nil
	}
	t.Metric = samples[0].Metric
	t.DeviceID = samples[0].DeviceID
	return t
}

// fit is the least-squares core: x in hours, y metric values.
func fit(x, y []float64, limit float64) *Trend {
	n := len(x)
	if n < 2 || len(y) != n {
		return nil
	}

	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += x[i]
		sumY += y[i]
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)

	var ssXY, ssXX, ssYY float64
	for i := 0; i < n; i++ {
		dx := x[i] - meanX
		dy := y[i] - meanY
		ssXY += dx * dy
		ssXX += dx * dx
		ssYY += dy * dy
	}

	// All samples at the same instant: no usable trend.
	if ssXX == 0 {
		return &Trend{Intercept: meanY, Current: meanY}
	}

	slope := ssXY / ssXX
	intercept := meanY - slope*meanX
	current := slope*x[n-1] + intercept

	t := &Trend{
		Slope:     slope,
		Intercept: intercept,
		Current:   current,
	}
	if ssYY > 0 {
		t.RSquared = (ssXY * ssXY) / (ssXX * ssYY)
	}

	// Only a trend moving toward the limit gets a crossing time.
	approaching := (slope > 0 && current < limit) || (slope < 0 && current > limit)
	if approaching {
		d := time.Duration((limit - current) / slope * float64(time.Hour))
		t.TimeToLimit = &d
	}
	return t
}
