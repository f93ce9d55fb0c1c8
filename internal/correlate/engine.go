package correlate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cwccie/netopshub/pkg/incident"
	"github.com/cwccie/netopshub/pkg/models"
	"github.com/cwccie/netopshub/pkg/telemetry"
	"github.com/google/uuid"
)

// group is a set of correlated signals accumulating toward an incident.
type group struct {
	signals  []telemetry.AnomalySignal
	start    time.Time
	end      time.Time
	systemic bool
}

func (g *group) add(s telemetry.AnomalySignal) {
	g.signals = append(g.signals, s)
	if g.start.IsZero() || s.Timestamp.Before(g.start) {
		g.start = s.Timestamp
	}
	if s.Timestamp.After(g.end) {
		g.end = s.Timestamp
	}
}

func (g *group) devices() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range g.signals {
		if !seen[s.DeviceID] {
			seen[s.DeviceID] = true
			out = append(out, s.DeviceID)
		}
	}
	sort.Strings(out)
	return out
}

// Engine groups anomaly signals into candidate incidents. It is pure: all
// state lives in the caller's pending buffer, so a given (snapshot, signals)
// input always produces the same groups.
type Engine struct {
	cfg Config
}

// NewEngine creates a correlation engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// systemicMetrics returns the metrics reported anomalous by at least
// SystemicMin distinct devices within the window. Many devices raising the
// same metric at once points at a shared upstream cause, so topology
// distance stops mattering for those signals.
func (e *Engine) systemicMetrics(signals []telemetry.AnomalySignal) map[string]bool {
	devices := make(map[string]map[string]bool)
	for _, s := range signals {
		if devices[s.Metric] == nil {
			devices[s.Metric] = make(map[string]bool)
		}
		devices[s.Metric][s.DeviceID] = true
	}
	out := make(map[string]bool)
	for metric, devs := range devices {
		if len(devs) >= e.cfg.SystemicMin {
			out[metric] = true
		}
	}
	return out
}

// correlates reports whether sig belongs with any member of g.
func (e *Engine) correlates(snap *models.TopologySnapshot, systemic map[string]bool, g *group, sig telemetry.AnomalySignal) bool {
	for _, member := range g.signals {
		if member.DeviceID == sig.DeviceID {
			return true
		}
		if member.Metric == sig.Metric && systemic[sig.Metric] {
			return true
		}
		if snap != nil {
			if d := snap.HopDistance(member.DeviceID, sig.DeviceID, e.cfg.MaxHops); d >= 0 {
				return true
			}
		}
	}
	return false
}

// Group partitions signals into correlated groups. Signals are visited in
// timestamp order; a signal that could join more than one group attaches to
// the group with the earliest start time. Groups never merge, keeping the
// partition stable across ticks.
func (e *Engine) Group(snap *models.TopologySnapshot, signals []telemetry.AnomalySignal) []*group {
	sorted := make([]telemetry.AnomalySignal, len(signals))
	copy(sorted, signals)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		if sorted[i].DeviceID != sorted[j].DeviceID {
			return sorted[i].DeviceID < sorted[j].DeviceID
		}
		return sorted[i].Metric < sorted[j].Metric
	})

	systemic := e.systemicMetrics(sorted)

	var groups []*group
	for _, sig := range sorted {
		var best *group
		for _, g := range groups {
			if !e.correlates(snap, systemic, g, sig) {
				continue
			}
			if best == nil || g.start.Before(best.start) {
				best = g
			}
		}
		if best == nil {
			best = &group{}
			groups = append(groups, best)
		}
		best.add(sig)
	}

	for _, g := range groups {
		g.systemic = e.groupSystemic(g, systemic)
	}
	return groups
}

func (e *Engine) groupSystemic(g *group, systemic map[string]bool) bool {
	byMetric := make(map[string]map[string]bool)
	for _, s := range g.signals {
		if !systemic[s.Metric] {
			continue
		}
		if byMetric[s.Metric] == nil {
			byMetric[s.Metric] = make(map[string]bool)
		}
		byMetric[s.Metric][s.DeviceID] = true
	}
	for _, devs := range byMetric {
		if len(devs) >= e.cfg.SystemicMin {
			return true
		}
	}
	return false
}

// Qualified reports whether a group has both enough signals and enough
// persistence to become an incident. One-sample blips never qualify.
func (e *Engine) Qualified(g *group) bool {
	if len(g.signals) < e.cfg.DebounceCount {
		return false
	}
	return g.end.Sub(g.start) >= e.cfg.DebounceSpan
}

// buildIncident turns a qualified group into an open candidate incident.
func buildIncident(g *group, now time.Time) incident.CandidateIncident {
	return incident.CandidateIncident{
		ID:          uuid.NewString(),
		State:       incident.StateOpen,
		Signals:     g.signals,
		DeviceIDs:   g.devices(),
		WindowStart: g.start,
		WindowEnd:   g.end,
		Systemic:    g.systemic,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// summarize produces the evidence summary for a new incident.
func summarize(inc incident.CandidateIncident) string {
	metrics := make(map[string]bool)
	for _, s := range inc.Signals {
		metrics[s.Metric] = true
	}
	names := make([]string, 0, len(metrics))
	for m := range metrics {
		names = append(names, m)
	}
	sort.Strings(names)
	return fmt.Sprintf("%d signals (%s) across %d devices",
		len(inc.Signals), strings.Join(names, ", "), len(inc.DeviceIDs))
}

// suppressed reports whether every device in the set is covered by an
// active maintenance window at now.
func suppressed(windows []models.MaintenanceWindow, deviceIDs []string, now time.Time) bool {
	if len(windows) == 0 || len(deviceIDs) == 0 {
		return false
	}
	for _, id := range deviceIDs {
		covered := false
		for i := range windows {
			if windows[i].ActiveAt(now) && windows[i].CoversDevice(id) {
				covered = true
				break
			}
		}
		if !covered {
			return false
		}
	}
	return true
}
