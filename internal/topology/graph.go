package topology

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cwccie/netopshub/pkg/models"
)

// ErrUnknownDevice is returned when an operation references a device that is
// not in the graph (or has been decommissioned).
var ErrUnknownDevice = errors.New("unknown device")

// Graph is the live topology. All mutations funnel through a single
// goroutine, so writers never race; readers get lock-free immutable
// snapshots published after every change.
type Graph struct {
	cmds chan graphCmd
	snap atomic.Pointer[models.TopologySnapshot]
	done chan struct{}

	// Owned by the run goroutine.
	devices map[string]models.Device
	edges   map[string]models.Adjacency
}

type graphCmd struct {
	apply func() error
	reply chan error
}

// NewGraph creates an empty graph and starts its mutation goroutine.
func NewGraph() *Graph {
	g := &Graph{
		cmds:    make(chan graphCmd),
		done:    make(chan struct{}),
		devices: make(map[string]models.Device),
		edges:   make(map[string]models.Adjacency),
	}
	g.snap.Store(&models.TopologySnapshot{
		Devices:     map[string]models.Device{},
		GeneratedAt: time.Now().UTC(),
	})
	go g.run()
	return g
}

// Close stops the mutation goroutine. Pending snapshot reads stay valid.
func (g *Graph) Close() {
	close(g.done)
}

func (g *Graph) run() {
	for {
		select {
		case <-g.done:
			return
		case cmd := <-g.cmds:
			err := cmd.apply()
			if err == nil {
				g.publish()
			}
			cmd.reply <- err
		}
	}
}

// publish rebuilds the immutable snapshot from the live maps.
func (g *Graph) publish() {
	devices := make(map[string]models.Device, len(g.devices))
	for id, d := range g.devices {
		devices[id] = d
	}
	edges := make([]models.Adjacency, 0, len(g.edges))
	for _, e := range g.edges {
		edges = append(edges, e)
	}
	g.snap.Store(&models.TopologySnapshot{
		Devices:     devices,
		Edges:       edges,
		GeneratedAt: time.Now().UTC(),
	})
}

func (g *Graph) do(ctx context.Context, apply func() error) error {
	cmd := graphCmd{apply: apply, reply: make(chan error, 1)}
	select {
	case g.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-g.done:
		return errors.New("graph closed")
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current immutable view. Never nil.
func (g *Graph) Snapshot() *models.TopologySnapshot {
	return g.snap.Load()
}

// UpsertDevice inserts or merges a device record. Merging keeps the original
// DiscoveredAt and fills only the non-zero incoming fields, so repeated
// discovery runs never erase known attributes.
func (g *Graph) UpsertDevice(ctx context.Context, d models.Device) (models.Device, error) {
	var out models.Device
	err := g.do(ctx, func() error {
		existing, ok := g.devices[d.ID]
		if !ok {
			if d.DiscoveredAt.IsZero() {
				d.DiscoveredAt = time.Now().UTC()
			}
			if d.LastSeen.IsZero() {
				d.LastSeen = d.DiscoveredAt
			}
			if d.State == "" {
				d.State = models.StateUp
			}
			if d.Role == "" {
				d.Role = models.RoleOther
			}
			g.devices[d.ID] = d
			out = d
			return nil
		}
		merged := mergeDevice(existing, d)
		g.devices[d.ID] = merged
		out = merged
		return nil
	})
	return out, err
}

func mergeDevice(old, in models.Device) models.Device {
	m := old
	if in.Hostname != "" {
		m.Hostname = in.Hostname
	}
	if in.MgmtAddr != "" {
		m.MgmtAddr = in.MgmtAddr
	}
	if in.Vendor != "" {
		m.Vendor = in.Vendor
	}
	if in.Platform != "" {
		m.Platform = in.Platform
	}
	if in.Role != "" {
		m.Role = in.Role
	}
	if in.State != "" {
		m.State = in.State
	}
	if in.Site != "" {
		m.Site = in.Site
	}
	for k, v := range in.Tags {
		if m.Tags == nil {
			m.Tags = make(map[string]string)
		}
		m.Tags[k] = v
	}
	if in.LastSeen.After(m.LastSeen) {
		m.LastSeen = in.LastSeen
	} else {
		m.LastSeen = time.Now().UTC()
	}
	m.Decommissioned = false
	return m
}

// SetState updates only a device's operational state.
func (g *Graph) SetState(ctx context.Context, id string, state models.DeviceState) error {
	return g.do(ctx, func() error {
		d, ok := g.devices[id]
		if !ok {
			return ErrUnknownDevice
		}
		d.State = state
		g.devices[id] = d
		return nil
	})
}

// Decommission removes a device and every edge touching it.
func (g *Graph) Decommission(ctx context.Context, id string) error {
	return g.do(ctx, func() error {
		if _, ok := g.devices[id]; !ok {
			return ErrUnknownDevice
		}
		delete(g.devices, id)
		for key, e := range g.edges {
			if e.LocalID == id || e.RemoteID == id {
				delete(g.edges, key)
			}
		}
		return nil
	})
}

// UpsertEdge inserts or refreshes an adjacency and returns the record as
// stored. Both endpoints must exist. A re-observed edge has its LastSeen
// advanced and any stale mark cleared; the two discovery directions of an
// undirected link collapse to one edge. Callers persisting the edge must
// persist the returned record, not their input, or the merge is lost on
// reload.
func (g *Graph) UpsertEdge(ctx context.Context, a models.Adjacency) (models.Adjacency, error) {
	var out models.Adjacency
	err := g.do(ctx, func() error {
		if _, ok := g.devices[a.LocalID]; !ok {
			return ErrUnknownDevice
		}
		if _, ok := g.devices[a.RemoteID]; !ok {
			return ErrUnknownDevice
		}
		if a.LastSeen.IsZero() {
			a.LastSeen = time.Now().UTC()
		}
		a.Stale = false
		key := a.Key()
		if existing, ok := g.edges[key]; ok {
			if a.Confidence < existing.Confidence {
				a.Confidence = existing.Confidence
			}
			if existing.LastSeen.After(a.LastSeen) {
				a.LastSeen = existing.LastSeen
			}
		}
		g.edges[key] = a
		out = a
		return nil
	})
	return out, err
}

// RemoveEdge deletes an edge by its key.
func (g *Graph) RemoveEdge(ctx context.Context, key string) error {
	return g.do(ctx, func() error {
		if _, ok := g.edges[key]; !ok {
			return ErrUnknownDevice
		}
		delete(g.edges, key)
		return nil
	})
}

// SweepStale marks edges not re-confirmed within horizon as stale and
// returns how many were newly marked. Stale edges stay in the graph so
// diagnosis can reason about recently lost links.
func (g *Graph) SweepStale(ctx context.Context, horizon time.Duration, now time.Time) (int, error) {
	var marked int
	err := g.do(ctx, func() error {
		cutoff := now.Add(-horizon)
		for key, e := range g.edges {
			if !e.Stale && e.LastSeen.Before(cutoff) {
				e.Stale = true
				g.edges[key] = e
				marked++
			}
		}
		return nil
	})
	return marked, err
}

// WithinHops returns device IDs reachable from start in at most maxHops
// hops. Stale edges are traversed only when includeStale is set. The start
// device itself is not included.
func WithinHops(s *models.TopologySnapshot, start string, maxHops int, includeStale bool) ([]string, error) {
	if _, ok := s.Devices[start]; !ok {
		return nil, ErrUnknownDevice
	}
	visited := map[string]bool{start: true}
	frontier := []string{start}
	var out []string
	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			for _, n := range s.Neighbors(id, includeStale) {
				if !visited[n] {
					visited[n] = true
					next = append(next, n)
					out = append(out, n)
				}
			}
		}
		frontier = next
	}
	return out, nil
}
