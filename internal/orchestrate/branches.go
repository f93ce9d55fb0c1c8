package orchestrate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cwccie/netopshub/pkg/incident"
	"github.com/cwccie/netopshub/pkg/telemetry"
)

// capacityLimits maps metrics to the ceiling their forecast is checked
// against. Metrics without a limit are trended but not alerted on.
var capacityLimits = map[string]float64{
	telemetry.MetricCPU:         100,
	telemetry.MetricMemory:      100,
	telemetry.MetricTemperature: 90,
	telemetry.MetricPacketLoss:  5,
	telemetry.MetricErrorRate:   10,
}

// complianceBranch audits the stored configuration of every affected
// device. Missing configurations count as not assessed, not as failures.
func (m *Module) complianceBranch(inc incident.CandidateIncident) func(ctx context.Context) incident.StageResult {
	return func(ctx context.Context) incident.StageResult {
		started := m.now()
		result := incident.StageResult{Stage: branchCompliance, OK: true}

		var audited, critical int
		var failures []string
		for _, deviceID := range inc.DeviceIDs {
			if err := ctx.Err(); err != nil {
				return branchFailure(branchCompliance, err, m.now())
			}
			cfg, err := m.store.DeviceConfig(ctx, deviceID)
			if err != nil {
				return branchFailure(branchCompliance, err, m.now())
			}
			if cfg == "" {
				continue
			}
			report := m.auditor.Audit(deviceID, cfg, "")
			audited++
			critical += len(report.CriticalFailures())
			for _, res := range report.CriticalFailures() {
				failures = append(failures, deviceID+": "+res.RuleName)
			}
		}

		switch {
		case audited == 0:
			result.Summary = "no device configurations on file"
		case critical == 0:
			result.Summary = fmt.Sprintf("%d devices audited, no critical failures", audited)
		default:
			result.Summary = fmt.Sprintf("%d devices audited, %d critical failures", audited, critical)
			result.Err = strings.Join(failures, "; ")
		}
		result.Duration = m.now().Sub(started)
		result.FinishedAt = m.now()
		return result
	}
}

// forecastBranch trends the triggering series over the configured horizon
// and evaluates SLA targets for the affected devices.
func (m *Module) forecastBranch(inc incident.CandidateIncident) func(ctx context.Context) incident.StageResult {
	return func(ctx context.Context) incident.StageResult {
		started := m.now()
		result := incident.StageResult{Stage: branchForecast, OK: true}
		if m.series == nil {
			result.Summary = "no series provider available"
			result.FinishedAt = m.now()
			return result
		}

		now := m.now()
		from := now.Add(-m.cfg.ForecastHorizon)

		var warnings []string
		for _, key := range seriesKeys(inc) {
			if err := ctx.Err(); err != nil {
				return branchFailure(branchForecast, err, m.now())
			}
			limit, ok := capacityLimits[key.metric]
			if !ok {
				continue
			}
			samples, err := m.series.Range(ctx, key.deviceID, key.metric, from, now)
			if err != nil {
				return branchFailure(branchForecast, err, m.now())
			}
			trend := m.forecaster(samples, limit)
			if trend == nil || trend.TimeToLimit == nil {
				continue
			}
			warnings = append(warnings, fmt.Sprintf("%s/%s reaches %.0f in %s",
				key.deviceID, key.metric, limit, trend.TimeToLimit.Round(time.Minute)))
		}

		summary := m.evaluateSLA(ctx, inc, from, now)

		switch {
		case len(warnings) == 0:
			result.Summary = fmt.Sprintf("no capacity exhaustion within %s; SLA compliance %.1f%%",
				m.cfg.ForecastHorizon, summary.Overall)
		default:
			result.Summary = fmt.Sprintf("%d capacity warnings (%s); SLA compliance %.1f%%",
				len(warnings), strings.Join(warnings, ", "), summary.Overall)
		}
		result.Duration = m.now().Sub(started)
		result.FinishedAt = m.now()
		return result
	}
}

type seriesKey struct {
	deviceID string
	metric   string
}

// seriesKeys returns the distinct (device, metric) pairs behind an
// incident's signals in a stable order.
func seriesKeys(inc incident.CandidateIncident) []seriesKey {
	seen := make(map[seriesKey]bool)
	var out []seriesKey
	for _, s := range inc.Signals {
		k := seriesKey{deviceID: s.DeviceID, metric: s.Metric}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].deviceID != out[j].deviceID {
			return out[i].deviceID < out[j].deviceID
		}
		return out[i].metric < out[j].metric
	})
	return out
}

func branchFailure(stage string, err error, at time.Time) incident.StageResult {
	return incident.StageResult{
		Stage:      stage,
		OK:         false,
		Summary:    "branch failed",
		Err:        err.Error(),
		FinishedAt: at,
	}
}
