package forecast

import (
	"time"

	"github.com/cwccie/netopshub/pkg/telemetry"
)

// Comparison direction for an SLA target.
const (
	CompareBelow = "lt" // value must stay under the target
	CompareAbove = "gt" // value must stay over the target
)

// SLATarget is one service-level objective over a metric.
type SLATarget struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Metric      string  `json:"metric"`
	TargetValue float64 `json:"target_value"`
	Comparison  string  `json:"comparison"` // CompareBelow or CompareAbove
}

// SLAReport is the evaluation of one target over a measurement window.
type SLAReport struct {
	Target      SLATarget `json:"target"`
	Current     float64   `json:"current"`
	Met         bool      `json:"met"`
	Compliance  float64   `json:"compliance"` // percent of in-target samples
	Violations  int       `json:"violations"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// DefaultSLATargets covers the latency, loss, and utilization objectives
// most deployments start from.
func DefaultSLATargets() []SLATarget {
	return []SLATarget{
		{
			Name:        "Network Latency",
			Description: "Round-trip latency must stay under 50ms",
			Metric:      telemetry.MetricLatency,
			TargetValue: 50.0,
			Comparison:  CompareBelow,
		},
		{
			Name:        "Packet Loss",
			Description: "Packet loss must stay under 0.1%",
			Metric:      telemetry.MetricPacketLoss,
			TargetValue: 0.1,
			Comparison:  CompareBelow,
		},
		{
			Name:        "CPU Utilization",
			Description: "Average CPU must stay under 80%",
			Metric:      telemetry.MetricCPU,
			TargetValue: 80.0,
			Comparison:  CompareBelow,
		},
	}
}

// EvaluateSLA checks one target against a series window. An empty window
// reports the target as met with full compliance; absence of data is not a
// violation.
func EvaluateSLA(target SLATarget, samples []telemetry.MetricSample, periodStart, periodEnd time.Time) SLAReport {
	report := SLAReport{
		Target:      target,
		Met:         true,
		Compliance:  100,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	}
	if len(samples) == 0 {
		return report
	}

	// Current value smooths over the last few samples so one spike does
	// not flip the headline status.
	tail := samples
	if len(tail) > 10 {
		tail = tail[len(tail)-10:]
	}
	var sum float64
	for _, s := range tail {
		sum += s.Value
	}
	report.Current = sum / float64(len(tail))

	for _, s := range samples {
		if violates(target, s.Value) {
			report.Violations++
		}
	}
	report.Met = !violates(target, report.Current)
	report.Compliance = float64(len(samples)-report.Violations) / float64(len(samples)) * 100
	return report
}

func violates(target SLATarget, value float64) bool {
	if target.Comparison == CompareAbove {
		return value <= target.TargetValue
	}
	return value >= target.TargetValue
}

// SLASummary aggregates reports into the counts a dashboard shows.
type SLASummary struct {
	TotalTargets    int         `json:"total_targets"`
	TargetsMet      int         `json:"targets_met"`
	TargetsViolated int         `json:"targets_violated"`
	Overall         float64     `json:"overall_compliance"` // percent of met targets
	Reports         []SLAReport `json:"reports"`
}

// Summarize rolls individual reports into an overall compliance figure.
func Summarize(reports []SLAReport) SLASummary {
	s := SLASummary{TotalTargets: len(reports), Reports: reports, Overall: 100}
	for _, r := range reports {
		if r.Met {
			s.TargetsMet++
		}
	}
	s.TargetsViolated = s.TotalTargets - s.TargetsMet
	if s.TotalTargets > 0 {
		s.Overall = float64(s.TargetsMet) / float64(s.TotalTargets) * 100
	}
	return s
}
