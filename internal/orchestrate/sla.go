package orchestrate

import (
	"context"
	"sort"
	"time"

	"github.com/cwccie/netopshub/internal/forecast"
	"github.com/cwccie/netopshub/pkg/incident"
	"github.com/cwccie/netopshub/pkg/telemetry"
)

// slaTargets is the default objective set plus the configured availability
// target.
func (m *Module) slaTargets() []forecast.SLATarget {
	targets := forecast.DefaultSLATargets()
	targets = append(targets, forecast.SLATarget{
		Name:        "Availability",
		Description: "Reported availability must stay at or above target",
		Metric:      "availability",
		TargetValue: m.cfg.SLAAvailabilityTarget,
		Comparison:  forecast.CompareAbove,
	})
	return targets
}

// evaluateSLA checks each target against the affected devices' samples
// over the window. Per-device series for the same metric are pooled; the
// objective covers the blast area, not one box.
func (m *Module) evaluateSLA(ctx context.Context, inc incident.CandidateIncident, from, to time.Time) forecast.SLASummary {
	return m.slaForDevices(ctx, inc.DeviceIDs, from, to)
}

func (m *Module) slaForDevices(ctx context.Context, deviceIDs []string, from, to time.Time) forecast.SLASummary {
	if m.series == nil {
		return forecast.Summarize(nil)
	}
	var reports []forecast.SLAReport
	for _, target := range m.slaTargets() {
		var pooled []telemetry.MetricSample
		for _, deviceID := range deviceIDs {
			samples, err := m.series.Range(ctx, deviceID, target.Metric, from, to)
			if err != nil {
				continue
			}
			pooled = append(pooled, samples...)
		}
		sort.Slice(pooled, func(i, j int) bool {
			return pooled[i].Timestamp.Before(pooled[j].Timestamp)
		})
		reports = append(reports, forecast.EvaluateSLA(target, pooled, from, to))
	}
	return forecast.Summarize(reports)
}
