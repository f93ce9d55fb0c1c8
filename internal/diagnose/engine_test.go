package diagnose

import (
	"testing"
	"time"

	"github.com/cwccie/netopshub/pkg/incident"
	"github.com/cwccie/netopshub/pkg/models"
	"github.com/cwccie/netopshub/pkg/telemetry"
)

func snapshot(edges ...[2]string) *models.TopologySnapshot {
	snap := &models.TopologySnapshot{
		Devices:     make(map[string]models.Device),
		GeneratedAt: time.Now().UTC(),
	}
	for _, e := range edges {
		for _, id := range e {
			if _, ok := snap.Devices[id]; !ok {
				snap.Devices[id] = models.Device{ID: id, State: models.StateUp}
			}
		}
		snap.Edges = append(snap.Edges, models.Adjacency{
			LocalID:  e[0],
			LocalIf:  "eth0",
			RemoteID: e[1],
			RemoteIf: "eth0",
			Kind:     models.EdgeL2Neighbor,
			LastSeen: time.Now().UTC(),
		})
	}
	return snap
}

func testIncident(signals ...telemetry.AnomalySignal) incident.CandidateIncident {
	devices := make(map[string]bool)
	var ids []string
	for _, s := range signals {
		if !devices[s.DeviceID] {
			devices[s.DeviceID] = true
			ids = append(ids, s.DeviceID)
		}
	}
	return incident.CandidateIncident{
		ID:        "inc-1",
		State:     incident.StateDiagnosing,
		Signals:   signals,
		DeviceIDs: ids,
	}
}

func sig(device, metric string, ts time.Time) telemetry.AnomalySignal {
	return telemetry.AnomalySignal{DeviceID: device, Metric: metric, Timestamp: ts, Severity: 3}
}

func TestDiagnose_HubRanksFirst(t *testing.T) {
	t.Parallel()
	// Star: hub connects three leaves. All four raise latency, hub first.
	snap := snapshot([2]string{"hub", "l1"}, [2]string{"hub", "l2"}, [2]string{"hub", "l3"})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inc := testIncident(
		sig("hub", telemetry.MetricLatency, base),
		sig("l1", telemetry.MetricLatency, base.Add(30*time.Second)),
		sig("l2", telemetry.MetricLatency, base.Add(40*time.Second)),
		sig("l3", telemetry.MetricLatency, base.Add(time.Minute)),
	)

	hyps := NewEngine(DefaultWeights()).Diagnose(snap, inc)
	if len(hyps) == 0 {
		t.Fatal("no hypotheses")
	}
	if hyps[0].DeviceID != "hub" {
		t.Errorf("top suspect = %q, want hub", hyps[0].DeviceID)
	}
	if hyps[0].Confidence <= hyps[len(hyps)-1].Confidence {
		t.Error("ranking is not descending")
	}
	for _, h := range hyps {
		if h.Confidence < 0 || h.Confidence > 1 {
			t.Errorf("confidence %f out of [0,1]", h.Confidence)
		}
	}
}

func TestDiagnose_PhysicalLayerOutranksSymptom(t *testing.T) {
	t.Parallel()
	// Two adjacent devices, same timing and symmetric topology; only the
	// layer separates them: a has CRC errors, b has latency.
	snap := snapshot([2]string{"a", "b"})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inc := testIncident(
		sig("a", telemetry.MetricCRCErrors, base),
		sig("b", telemetry.MetricLatency, base),
	)

	hyps := NewEngine(DefaultWeights()).Diagnose(snap, inc)

	var a, b *incident.RootCauseHypothesis
	for i := range hyps {
		switch hyps[i].DeviceID {
		case "a":
			a = &hyps[i]
		case "b":
			b = &hyps[i]
		}
	}
	if a == nil || b == nil {
		t.Fatal("missing device hypotheses")
	}
	if a.Confidence <= b.Confidence {
		t.Errorf("a (physical) %.3f should outrank b (symptom) %.3f", a.Confidence, b.Confidence)
	}
	if a.LayerBias != 1 {
		t.Errorf("a layer bias = %f, want 1", a.LayerBias)
	}
}

func TestDiagnose_TemporalPrecedence(t *testing.T) {
	t.Parallel()
	snap := snapshot([2]string{"a", "b"})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inc := testIncident(
		sig("a", telemetry.MetricCPU, base),
		sig("b", telemetry.MetricCPU, base.Add(2*time.Minute)),
	)

	hyps := NewEngine(DefaultWeights()).Diagnose(snap, inc)
	if hyps[0].DeviceID != "a" {
		t.Errorf("top suspect = %q, want a (fired first)", hyps[0].DeviceID)
	}
	if hyps[0].Precedence != 1 {
		t.Errorf("precedence = %f, want 1 for earliest", hyps[0].Precedence)
	}
}

func TestDiagnose_LinkHypothesis(t *testing.T) {
	t.Parallel()
	// CRC on both ends of a shared link points at the link itself.
	snap := snapshot([2]string{"a", "b"})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inc := testIncident(
		sig("a", telemetry.MetricCRCErrors, base),
		sig("b", telemetry.MetricCRCErrors, base.Add(10*time.Second)),
	)

	hyps := NewEngine(DefaultWeights()).Diagnose(snap, inc)

	var link *incident.RootCauseHypothesis
	for i := range hyps {
		if hyps[i].EdgeKey != "" {
			link = &hyps[i]
		}
	}
	if link == nil {
		t.Fatal("no link hypothesis for symmetric CRC errors")
	}
	if link.Confidence <= 0.4 {
		t.Errorf("link confidence = %f, want above floor", link.Confidence)
	}
}

func TestDiagnose_Reproducible(t *testing.T) {
	t.Parallel()
	snap := snapshot([2]string{"a", "b"}, [2]string{"b", "c"})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inc := testIncident(
		sig("a", telemetry.MetricCRCErrors, base),
		sig("b", telemetry.MetricLatency, base.Add(20*time.Second)),
		sig("c", telemetry.MetricCPU, base.Add(40*time.Second)),
	)

	e := NewEngine(DefaultWeights())
	first := e.Diagnose(snap, inc)
	second := e.Diagnose(snap, inc)
	if len(first) != len(second) {
		t.Fatalf("hypothesis counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].DeviceID != second[i].DeviceID || first[i].Confidence != second[i].Confidence {
			t.Errorf("ranking differs at %d", i)
		}
	}
}

func TestDiagnose_EmptyIncident(t *testing.T) {
	t.Parallel()
	hyps := NewEngine(DefaultWeights()).Diagnose(snapshot(), incident.CandidateIncident{})
	if hyps != nil {
		t.Errorf("hypotheses = %v, want nil", hyps)
	}
}

func TestDiagnose_NilSnapshot(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inc := testIncident(
		sig("a", telemetry.MetricCPU, base),
		sig("b", telemetry.MetricCPU, base.Add(time.Minute)),
	)
	hyps := NewEngine(DefaultWeights()).Diagnose(nil, inc)
	if len(hyps) != 2 {
		t.Fatalf("hypotheses = %d, want 2", len(hyps))
	}
	// Timing still separates them without topology.
	if hyps[0].DeviceID != "a" {
		t.Errorf("top suspect = %q, want a", hyps[0].DeviceID)
	}
}

func TestBlastRadius_CutVertex(t *testing.T) {
	t.Parallel()
	// Chain a - m - b: cutting m separates a from b.
	snap := snapshot([2]string{"a", "m"}, [2]string{"m", "b"})
	affected := map[string]bool{"a": true, "m": true, "b": true}

	radius := blastRadius(snap, suspectNode("m"), affected)
	if len(radius) != 2 {
		t.Fatalf("blast radius = %v, want [a b]", radius)
	}
	if radius[0] != "a" || radius[1] != "b" {
		t.Errorf("blast radius = %v, want [a b]", radius)
	}
}

func TestBlastRadius_RedundantPath(t *testing.T) {
	t.Parallel()
	// Triangle: cutting any one node leaves the other two connected.
	snap := snapshot([2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"a", "c"})
	affected := map[string]bool{"a": true, "b": true, "c": true}

	radius := blastRadius(snap, suspectNode("b"), affected)
	if len(radius) != 0 {
		t.Errorf("blast radius = %v, want empty with a redundant path", radius)
	}
}

func TestBlastRadius_EdgeCut(t *testing.T) {
	t.Parallel()
	snap := snapshot([2]string{"a", "b"})
	affected := map[string]bool{"a": true, "b": true}

	key := snap.Edges[0].Key()
	radius := blastRadius(snap, suspectEdge(key), affected)
	if len(radius) != 2 {
		t.Errorf("blast radius = %v, want both endpoints", radius)
	}
}

func TestBlastRadius_PathThroughUnaffectedDevice(t *testing.T) {
	t.Parallel()
	// a - x - b where x is not in the affected set; cutting the suspect a-b
	// shortcut still leaves the path through x.
	snap := snapshot([2]string{"a", "x"}, [2]string{"x", "b"}, [2]string{"a", "b"})
	affected := map[string]bool{"a": true, "b": true}

	var shortcut string
	for _, e := range snap.Edges {
		if e.LocalID == "a" && e.RemoteID == "b" {
			shortcut = e.Key()
		}
	}
	radius := blastRadius(snap, suspectEdge(shortcut), affected)
	if len(radius) != 0 {
		t.Errorf("blast radius = %v, want empty (path through x survives)", radius)
	}
}

func TestWeights_Normalize(t *testing.T) {
	t.Parallel()
	w := Weights{Centrality: 2, Precedence: 1, LayerBias: 1}.Normalize()
	if sum := w.Centrality + w.Precedence + w.LayerBias; sum < 0.999 || sum > 1.001 {
		t.Errorf("normalized sum = %f, want 1", sum)
	}
	if w.Centrality != 0.5 {
		t.Errorf("centrality = %f, want 0.5", w.Centrality)
	}

	zero := Weights{}.Normalize()
	if zero != DefaultWeights() {
		t.Errorf("zero weights should fall back to defaults")
	}
}
