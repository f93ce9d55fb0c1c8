package topology

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cwccie/netopshub/pkg/models"
)

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	g := NewGraph()
	t.Cleanup(g.Close)
	return g
}

func addDevice(t *testing.T, g *Graph, id string) {
	t.Helper()
	if _, err := g.UpsertDevice(context.Background(), models.Device{ID: id, Hostname: id}); err != nil {
		t.Fatalf("UpsertDevice(%s): %v", id, err)
	}
}

func link(t *testing.T, g *Graph, local, remote string) {
	t.Helper()
	_, err := g.UpsertEdge(context.Background(), models.Adjacency{
		LocalID: local, RemoteID: remote, Kind: models.EdgeL2Neighbor, Confidence: 0.9,
	})
	if err != nil {
		t.Fatalf("UpsertEdge(%s-%s): %v", local, remote, err)
	}
}

func TestUpsertDevice_MergePreservesKnownFields(t *testing.T) {
	t.Parallel()
	g := newTestGraph(t)
	ctx := context.Background()

	first, err := g.UpsertDevice(ctx, models.Device{
		ID: "r1", Hostname: "edge-r1", Vendor: "cisco", Role: models.RoleRouter,
	})
	if err != nil {
		t.Fatal(err)
	}
	if first.DiscoveredAt.IsZero() {
		t.Error("DiscoveredAt not set on insert")
	}

	// Second discovery pass knows the site but not the vendor.
	merged, err := g.UpsertDevice(ctx, models.Device{ID: "r1", Site: "dc-east"})
	if err != nil {
		t.Fatal(err)
	}
	if merged.Vendor != "cisco" {
		t.Errorf("vendor = %q, want cisco preserved", merged.Vendor)
	}
	if merged.Site != "dc-east" {
		t.Errorf("site = %q, want dc-east", merged.Site)
	}
	if !merged.DiscoveredAt.Equal(first.DiscoveredAt) {
		t.Error("DiscoveredAt changed on merge")
	}
}

func TestUpsertEdge_UnknownEndpoint(t *testing.T) {
	t.Parallel()
	g := newTestGraph(t)
	addDevice(t, g, "r1")

	_, err := g.UpsertEdge(context.Background(), models.Adjacency{
		LocalID: "r1", RemoteID: "ghost", Kind: models.EdgeL2Neighbor,
	})
	if !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("err = %v, want ErrUnknownDevice", err)
	}
}

func TestUpsertEdge_UndirectedCollapses(t *testing.T) {
	t.Parallel()
	g := newTestGraph(t)
	addDevice(t, g, "a")
	addDevice(t, g, "b")

	ctx := context.Background()
	if _, err := g.UpsertEdge(ctx, models.Adjacency{
		LocalID: "a", LocalIf: "eth0", RemoteID: "b", RemoteIf: "eth1", Kind: models.EdgeL2Neighbor,
	}); err != nil {
		t.Fatal(err)
	}
	// Same physical link observed from the other side.
	if _, err := g.UpsertEdge(ctx, models.Adjacency{
		LocalID: "b", LocalIf: "eth1", RemoteID: "a", RemoteIf: "eth0", Kind: models.EdgeL2Neighbor,
	}); err != nil {
		t.Fatal(err)
	}

	if got := len(g.Snapshot().Edges); got != 1 {
		t.Errorf("edge count = %d, want 1 (directions collapsed)", got)
	}
}

func TestUpsertEdge_ReturnsMergedRecord(t *testing.T) {
	t.Parallel()
	g := newTestGraph(t)
	addDevice(t, g, "a")
	addDevice(t, g, "b")

	ctx := context.Background()
	recent := time.Now().UTC()
	if _, err := g.UpsertEdge(ctx, models.Adjacency{
		LocalID: "a", RemoteID: "b", Kind: models.EdgeL2Neighbor, Confidence: 0.9, LastSeen: recent,
	}); err != nil {
		t.Fatal(err)
	}

	// Weaker re-observation of the same link: the stored record must keep
	// the higher confidence and newer LastSeen, and the caller gets that
	// record back for persistence.
	merged, err := g.UpsertEdge(ctx, models.Adjacency{
		LocalID: "a", RemoteID: "b", Kind: models.EdgeL2Neighbor, Confidence: 0.4, LastSeen: recent.Add(-time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if merged.Confidence != 0.9 {
		t.Errorf("merged confidence = %v, want 0.9 retained", merged.Confidence)
	}
	if !merged.LastSeen.Equal(recent) {
		t.Errorf("merged LastSeen = %v, want %v retained", merged.LastSeen, recent)
	}

	stored := g.Snapshot().Edges[0]
	if stored != merged {
		t.Errorf("returned record %+v differs from stored %+v", merged, stored)
	}
}

func TestUpsertEdge_DirectedKindsStayDistinct(t *testing.T) {
	t.Parallel()
	g := newTestGraph(t)
	addDevice(t, g, "a")
	addDevice(t, g, "b")

	ctx := context.Background()
	for _, pair := range [][2]string{{"a", "b"}, {"b", "a"}} {
		if _, err := g.UpsertEdge(ctx, models.Adjacency{
			LocalID: pair[0], RemoteID: pair[1], Kind: models.EdgeBGPPeer,
		}); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(g.Snapshot().Edges); got != 2 {
		t.Errorf("edge count = %d, want 2 directed edges", got)
	}
}

func TestSweepStale_MarksWithoutDeleting(t *testing.T) {
	t.Parallel()
	g := newTestGraph(t)
	addDevice(t, g, "a")
	addDevice(t, g, "b")
	addDevice(t, g, "c")

	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)
	if _, err := g.UpsertEdge(ctx, models.Adjacency{
		LocalID: "a", RemoteID: "b", Kind: models.EdgeL2Neighbor, LastSeen: old,
	}); err != nil {
		t.Fatal(err)
	}
	link(t, g, "b", "c") // fresh

	marked, err := g.SweepStale(ctx, 24*time.Hour, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if marked != 1 {
		t.Fatalf("marked = %d, want 1", marked)
	}

	snap := g.Snapshot()
	if len(snap.Edges) != 2 {
		t.Fatalf("edges = %d, want both retained", len(snap.Edges))
	}
	staleCount := 0
	for _, e := range snap.Edges {
		if e.Stale {
			staleCount++
		}
	}
	if staleCount != 1 {
		t.Errorf("stale edges = %d, want 1", staleCount)
	}

	// Stale edge excluded from fresh traversal, included with stale flag.
	if got := snap.Neighbors("a", false); len(got) != 0 {
		t.Errorf("fresh neighbors of a = %v, want none", got)
	}
	if got := snap.Neighbors("a", true); len(got) != 1 {
		t.Errorf("stale-inclusive neighbors of a = %v, want [b]", got)
	}
}

func TestUpsertEdge_RefreshClearsStale(t *testing.T) {
	t.Parallel()
	g := newTestGraph(t)
	addDevice(t, g, "a")
	addDevice(t, g, "b")

	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)
	edge := models.Adjacency{LocalID: "a", RemoteID: "b", Kind: models.EdgeL2Neighbor, LastSeen: old}
	if _, err := g.UpsertEdge(ctx, edge); err != nil {
		t.Fatal(err)
	}
	if _, err := g.SweepStale(ctx, 24*time.Hour, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	edge.LastSeen = time.Now().UTC()
	if _, err := g.UpsertEdge(ctx, edge); err != nil {
		t.Fatal(err)
	}
	for _, e := range g.Snapshot().Edges {
		if e.Stale {
			t.Error("re-confirmed edge still stale")
		}
	}
}

func TestDecommission_RemovesDeviceAndEdges(t *testing.T) {
	t.Parallel()
	g := newTestGraph(t)
	addDevice(t, g, "a")
	addDevice(t, g, "b")
	link(t, g, "a", "b")

	ctx := context.Background()
	if err := g.Decommission(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	snap := g.Snapshot()
	if _, ok := snap.Devices["a"]; ok {
		t.Error("decommissioned device still present")
	}
	if len(snap.Edges) != 0 {
		t.Errorf("edges = %d, want 0 after decommission", len(snap.Edges))
	}

	if err := g.Decommission(ctx, "a"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("second decommission err = %v, want ErrUnknownDevice", err)
	}
}

func TestSnapshot_ImmutableUnderWrites(t *testing.T) {
	t.Parallel()
	g := newTestGraph(t)
	addDevice(t, g, "a")

	before := g.Snapshot()
	addDevice(t, g, "b")

	if len(before.Devices) != 1 {
		t.Errorf("old snapshot mutated: %d devices", len(before.Devices))
	}
	if len(g.Snapshot().Devices) != 2 {
		t.Error("new snapshot missing device")
	}
}

func TestWithinHops(t *testing.T) {
	t.Parallel()
	g := newTestGraph(t)
	// Chain: a - b - c - d
	for _, id := range []string{"a", "b", "c", "d"} {
		addDevice(t, g, id)
	}
	link(t, g, "a", "b")
	link(t, g, "b", "c")
	link(t, g, "c", "d")

	snap := g.Snapshot()

	got, err := WithinHops(snap, "a", 2, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("2-hop reach = %v, want [b c]", got)
	}

	got, err = WithinHops(snap, "a", 3, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("3-hop reach = %v, want [b c d]", got)
	}

	if _, err := WithinHops(snap, "ghost", 1, false); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("err = %v, want ErrUnknownDevice", err)
	}
}

func TestHopDistance(t *testing.T) {
	t.Parallel()
	g := newTestGraph(t)
	for _, id := range []string{"a", "b", "c", "x"} {
		addDevice(t, g, id)
	}
	link(t, g, "a", "b")
	link(t, g, "b", "c")

	snap := g.Snapshot()
	if d := snap.HopDistance("a", "c", 5); d != 2 {
		t.Errorf("HopDistance(a,c) = %d, want 2", d)
	}
	if d := snap.HopDistance("a", "x", 5); d != -1 {
		t.Errorf("HopDistance(a,x) = %d, want -1", d)
	}
	if d := snap.HopDistance("a", "a", 5); d != 0 {
		t.Errorf("HopDistance(a,a) = %d, want 0", d)
	}
}

func TestGraph_ConcurrentWriters(t *testing.T) {
	t.Parallel()
	g := newTestGraph(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n))
			for j := 0; j < 50; j++ {
				if _, err := g.UpsertDevice(ctx, models.Device{ID: id, Hostname: id}); err != nil {
					t.Errorf("UpsertDevice: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if got := len(g.Snapshot().Devices); got != 8 {
		t.Errorf("devices = %d, want 8", got)
	}
}
