// Package diagnose ranks root-cause hypotheses for a correlated incident
// using the topology snapshot current at diagnosis time. The engine is
// read-only and pure: the same snapshot and incident always produce the
// same ranking.
package diagnose

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/cwccie/netopshub/pkg/incident"
	"github.com/cwccie/netopshub/pkg/models"
	"github.com/cwccie/netopshub/pkg/telemetry"
)

// Weights controls the relative contribution of each scoring dimension.
// They should sum to 1; Normalize rescales them if they do not.
type Weights struct {
	Centrality float64 `mapstructure:"centrality"`
	Precedence float64 `mapstructure:"precedence"`
	LayerBias  float64 `mapstructure:"layer_bias"`
}

// DefaultWeights favors structural position, then timing, then layer.
func DefaultWeights() Weights {
	return Weights{Centrality: 0.4, Precedence: 0.35, LayerBias: 0.25}
}

// Normalize rescales the weights to sum to 1. Zero weights stay zero.
func (w Weights) Normalize() Weights {
	sum := w.Centrality + w.Precedence + w.LayerBias
	if sum <= 0 {
		return DefaultWeights()
	}
	return Weights{
		Centrality: w.Centrality / sum,
		Precedence: w.Precedence / sum,
		LayerBias:  w.LayerBias / sum,
	}
}

// Engine produces ranked root-cause hypotheses.
type Engine struct {
	weights Weights
}

// NewEngine creates a diagnosis engine.
func NewEngine(w Weights) *Engine {
	return &Engine{weights: w.Normalize()}
}

// Diagnose scores every affected device (and suspect links between them)
// and returns hypotheses ranked by confidence, highest first.
func (e *Engine) Diagnose(snap *models.TopologySnapshot, inc incident.CandidateIncident) []incident.RootCauseHypothesis {
	if len(inc.Signals) == 0 {
		return nil
	}

	affected := make(map[string]bool, len(inc.DeviceIDs))
	for _, id := range inc.DeviceIDs {
		affected[id] = true
	}

	centrality := subgraphCentrality(snap, affected)
	precedence := temporalPrecedence(inc.Signals)
	layerBias := physicalLayerBias(snap, inc.Signals, affected)

	var hyps []incident.RootCauseHypothesis
	for _, id := range inc.DeviceIDs {
		score := e.weights.Centrality*centrality[id] +
			e.weights.Precedence*precedence[id] +
			e.weights.LayerBias*layerBias[id]
		hyps = append(hyps, incident.RootCauseHypothesis{
			DeviceID:    id,
			Confidence:  confidence(score),
			Centrality:  centrality[id],
			Precedence:  precedence[id],
			LayerBias:   layerBias[id],
			BlastRadius: blastRadius(snap, suspectNode(id), affected),
			Summary: fmt.Sprintf("device %s: centrality %.2f, precedence %.2f, layer bias %.2f",
				id, centrality[id], precedence[id], layerBias[id]),
		})
	}

	hyps = append(hyps, e.linkHypotheses(snap, inc, centrality, precedence)...)

	sort.SliceStable(hyps, func(i, j int) bool {
		if hyps[i].Confidence != hyps[j].Confidence {
			return hyps[i].Confidence > hyps[j].Confidence
		}
		if hyps[i].DeviceID != hyps[j].DeviceID {
			return hyps[i].DeviceID < hyps[j].DeviceID
		}
		return hyps[i].EdgeKey < hyps[j].EdgeKey
	})
	return hyps
}

// linkHypotheses proposes shared links as suspects when both endpoints of
// a non-stale edge inside the affected set report physical-layer signals.
// Symmetric CRC growth on a link points at the link, not either endpoint.
func (e *Engine) linkHypotheses(snap *models.TopologySnapshot, inc incident.CandidateIncident, centrality, precedence map[string]float64) []incident.RootCauseHypothesis {
	if snap == nil {
		return nil
	}

	physical := make(map[string]bool)
	for _, s := range inc.Signals {
		if telemetry.MetricLayer(s.Metric) == telemetry.LayerPhysical {
			physical[s.DeviceID] = true
		}
	}
	if len(physical) < 2 {
		return nil
	}

	affected := make(map[string]bool, len(inc.DeviceIDs))
	for _, id := range inc.DeviceIDs {
		affected[id] = true
	}

	var out []incident.RootCauseHypothesis
	seen := make(map[string]bool)
	for _, edge := range snap.Edges {
		if edge.Stale || !physical[edge.LocalID] || !physical[edge.RemoteID] {
			continue
		}
		key := edge.Key()
		if seen[key] {
			continue
		}
		seen[key] = true

		score := (e.weights.Centrality*(centrality[edge.LocalID]+centrality[edge.RemoteID]) +
			e.weights.Precedence*(precedence[edge.LocalID]+precedence[edge.RemoteID])) / 2
		// Both ends agreeing is stronger evidence than either end alone.
		score += e.weights.LayerBias

		out = append(out, incident.RootCauseHypothesis{
			EdgeKey:     key,
			Confidence:  confidence(score),
			BlastRadius: blastRadius(snap, suspectEdge(key), affected),
			Summary: fmt.Sprintf("link %s <-> %s: physical-layer signals on both endpoints",
				edge.LocalID, edge.RemoteID),
		})
	}
	return out
}

// subgraphCentrality is normalized degree centrality over the subgraph
// induced by the affected devices, counting only non-stale edges.
func subgraphCentrality(snap *models.TopologySnapshot, affected map[string]bool) map[string]float64 {
	out := make(map[string]float64, len(affected))
	if snap == nil || len(affected) < 2 {
		for id := range affected {
			out[id] = 0
		}
		return out
	}

	degree := make(map[string]int)
	counted := make(map[string]bool)
	for _, edge := range snap.Edges {
		if edge.Stale || !affected[edge.LocalID] || !affected[edge.RemoteID] {
			continue
		}
		key := edge.Key()
		if counted[key] {
			continue
		}
		counted[key] = true
		degree[edge.LocalID]++
		degree[edge.RemoteID]++
	}

	max := 0
	for _, d := range degree {
		if d > max {
			max = d
		}
	}
	for id := range affected {
		if max == 0 {
			out[id] = 0
			continue
		}
		out[id] = float64(degree[id]) / float64(max)
	}
	return out
}

// temporalPrecedence scores devices by how early their first signal fired
// within the incident window. The earliest device scores 1.
func temporalPrecedence(signals []telemetry.AnomalySignal) map[string]float64 {
	first := make(map[string]time.Time)
	var earliest, latest time.Time
	for _, s := range signals {
		if t, ok := first[s.DeviceID]; !ok || s.Timestamp.Before(t) {
			first[s.DeviceID] = s.Timestamp
		}
		if earliest.IsZero() || s.Timestamp.Before(earliest) {
			earliest = s.Timestamp
		}
		if s.Timestamp.After(latest) {
			latest = s.Timestamp
		}
	}

	span := latest.Sub(earliest)
	out := make(map[string]float64, len(first))
	for id, t := range first {
		if span <= 0 {
			out[id] = 1
			continue
		}
		out[id] = 1 - float64(t.Sub(earliest))/float64(span)
	}
	return out
}

// physicalLayerBias boosts devices carrying a lower-layer signal while the
// incident also shows higher-layer symptoms on the same or an adjacent
// device. A failing optic explains the latency above it; the reverse does
// not hold.
func physicalLayerBias(snap *models.TopologySnapshot, signals []telemetry.AnomalySignal, affected map[string]bool) map[string]float64 {
	layers := make(map[string]map[telemetry.Layer]bool)
	for _, s := range signals {
		layer := telemetry.MetricLayer(s.Metric)
		if layer == telemetry.LayerUnknown {
			continue
		}
		if layers[s.DeviceID] == nil {
			layers[s.DeviceID] = make(map[telemetry.Layer]bool)
		}
		layers[s.DeviceID][layer] = true
	}

	out := make(map[string]float64, len(affected))
	for id := range affected {
		lowest := lowestLayer(layers[id])
		if lowest == telemetry.LayerUnknown {
			out[id] = 0
			continue
		}
		for other, otherLayers := range layers {
			if other != id && !adjacentOrSelf(snap, id, other) {
				continue
			}
			if hasHigherLayer(otherLayers, lowest) {
				out[id] = 1
				break
			}
		}
	}
	return out
}

func lowestLayer(set map[telemetry.Layer]bool) telemetry.Layer {
	lowest := telemetry.LayerUnknown
	for layer := range set {
		if lowest == telemetry.LayerUnknown || layer < lowest {
			lowest = layer
		}
	}
	return lowest
}

func hasHigherLayer(set map[telemetry.Layer]bool, above telemetry.Layer) bool {
	for layer := range set {
		if layer > above {
			return true
		}
	}
	return false
}

func adjacentOrSelf(snap *models.TopologySnapshot, a, b string) bool {
	if a == b {
		return true
	}
	if snap == nil {
		return false
	}
	for _, n := range snap.Neighbors(a, false) {
		if n == b {
			return true
		}
	}
	return false
}

// confidence squashes a raw score into [0,1] with a floor that keeps even
// weak hypotheses visible in the ranking.
func confidence(score float64) float64 {
	return math.Min(1, math.Max(0, 0.4+0.6*score))
}
