package ingest

import (
	"context"
	"math"
	"time"

	"github.com/cwccie/netopshub/pkg/telemetry"
)

// metricBound is a warning/critical ceiling for one metric.
type metricBound struct {
	warning  float64
	critical float64
}

// defaultBounds are the ceilings used for device health classification.
var defaultBounds = map[string]metricBound{
	telemetry.MetricCPU:         {warning: 70, critical: 85},
	telemetry.MetricMemory:      {warning: 75, critical: 90},
	telemetry.MetricErrorRate:   {warning: 1, critical: 5},
	telemetry.MetricTemperature: {warning: 65, critical: 75},
	telemetry.MetricPacketLoss:  {warning: 0.5, critical: 2},
}

// MetricHealth summarizes one metric's recent window.
type MetricHealth struct {
	Current float64 `json:"current"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Avg     float64 `json:"avg"`
	StdDev  float64 `json:"stddev"`
	Status  string  `json:"status"` // "healthy", "warning", "critical"
}

// DeviceHealth is the aggregate health summary for one device.
type DeviceHealth struct {
	DeviceID string                  `json:"device_id"`
	Status   string                  `json:"status"`
	Metrics  map[string]MetricHealth `json:"metrics"`
}

// deviceHealth builds a health summary from the last hour of each metric the
// device reports. Overall status is the worst per-metric status.
func (m *Module) deviceHealth(ctx context.Context, deviceID string, now time.Time) (*DeviceHealth, error) {
	metrics, err := m.store.Metrics(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	h := &DeviceHealth{
		DeviceID: deviceID,
		Status:   "healthy",
		Metrics:  make(map[string]MetricHealth),
	}

	for _, metric := range metrics {
		samples, err := m.store.Range(ctx, deviceID, metric, now.Add(-1*time.Hour), now)
		if err != nil {
			return nil, err
		}
		if len(samples) == 0 {
			continue
		}

		mh := summarize(samples)
		if b, ok := defaultBounds[metric]; ok {
			switch {
			case mh.Current >= b.critical:
				mh.Status = "critical"
			case mh.Current >= b.warning:
				mh.Status = "warning"
			default:
				mh.Status = "healthy"
			}
		} else {
			mh.Status = "healthy"
		}

		if rank(mh.Status) > rank(h.Status) {
			h.Status = mh.Status
		}
		h.Metrics[metric] = mh
	}

	return h, nil
}

func summarize(samples []telemetry.MetricSample) MetricHealth {
	mh := MetricHealth{
		Current: samples[len(samples)-1].Value,
		Min:     samples[0].Value,
		Max:     samples[0].Value,
	}
	var sum float64
	for _, s := range samples {
		if s.Value < mh.Min {
			mh.Min = s.Value
		}
		if s.Value > mh.Max {
			mh.Max = s.Value
		}
		sum += s.Value
	}
	mh.Avg = sum / float64(len(samples))

	if len(samples) > 1 {
		var ss float64
		for _, s := range samples {
			d := s.Value - mh.Avg
			ss += d * d
		}
		mh.StdDev = math.Sqrt(ss / float64(len(samples)-1))
	}
	return mh
}

func rank(status string) int {
	switch status {
	case "critical":
		return 2
	case "warning":
		return 1
	default:
		return 0
	}
}
