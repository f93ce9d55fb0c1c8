// Package models provides the public SDK types for the NetOpsHub inventory
// and topology model. Collectors and discovery collaborators map vendor
// formats into these types before handing records to the core.
package models

import "time"

// DeviceRole classifies a device's function in the network.
type DeviceRole string

const (
	RoleRouter   DeviceRole = "router"
	RoleSwitch   DeviceRole = "switch"
	RoleFirewall DeviceRole = "firewall"
	RoleOther    DeviceRole = "other"
)

// DeviceState is a device's operational state.
type DeviceState string

const (
	StateUp          DeviceState = "up"
	StateDown        DeviceState = "down"
	StateMaintenance DeviceState = "maintenance"
)

// Device is a network device in the inventory. Discovery collaborators
// assign stable IDs across repeated scans; updates are merged, never
// destructive, unless the device is explicitly decommissioned.
type Device struct {
	ID             string            `json:"id"`
	Hostname       string            `json:"hostname"`
	MgmtAddr       string            `json:"mgmt_addr"`
	Vendor         string            `json:"vendor"`
	Platform       string            `json:"platform"`
	Role           DeviceRole        `json:"role"`
	State          DeviceState       `json:"state"`
	Site           string            `json:"site,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
	DiscoveredAt   time.Time         `json:"discovered_at"`
	LastSeen       time.Time         `json:"last_seen"`
	Decommissioned bool              `json:"decommissioned,omitempty"`
}

// EdgeKind classifies an adjacency between two devices.
type EdgeKind string

const (
	EdgeL2Neighbor EdgeKind = "l2_neighbor" // physical link, undirected
	EdgeBGPPeer    EdgeKind = "bgp_peer"    // logical, directed
	EdgeOSPFAdj    EdgeKind = "ospf_adj"    // logical, directed
)

// Directed reports whether this adjacency kind is directional.
// Physical links are undirected; logical peerings point local -> remote.
func (k EdgeKind) Directed() bool {
	return k != EdgeL2Neighbor
}

// Adjacency is an edge in the topology graph. Edges not re-confirmed within
// the staleness horizon are marked stale rather than deleted, so diagnosis
// can still reason about recently lost links.
type Adjacency struct {
	LocalID    string    `json:"local_id"`
	LocalIf    string    `json:"local_if"`
	RemoteID   string    `json:"remote_id"`
	RemoteIf   string    `json:"remote_if"`
	Kind       EdgeKind  `json:"kind"`
	Confidence float64   `json:"confidence"` // 0-1, by discovery source
	LastSeen   time.Time `json:"last_seen"`
	Stale      bool      `json:"stale"`
}

// Key returns a stable identity for the edge. Undirected edges normalize
// endpoint order so the two discovery directions collapse to one edge.
func (a Adjacency) Key() string {
	l := a.LocalID + "|" + a.LocalIf
	r := a.RemoteID + "|" + a.RemoteIf
	if !a.Kind.Directed() && r < l {
		l, r = r, l
	}
	return string(a.Kind) + "|" + l + "|" + r
}

// TopologySnapshot is a consistent point-in-time read-only view of the
// device and edge sets. Snapshots are immutable; mutating a snapshot has no
// effect on the live graph.
type TopologySnapshot struct {
	Devices     map[string]Device `json:"devices"`
	Edges       []Adjacency       `json:"edges"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// Neighbors returns the device IDs directly adjacent to id in this snapshot.
// Stale edges are included only when includeStale is set.
func (s *TopologySnapshot) Neighbors(id string, includeStale bool) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range s.Edges {
		if e.Stale && !includeStale {
			continue
		}
		var other string
		switch id {
		case e.LocalID:
			other = e.RemoteID
		case e.RemoteID:
			other = e.LocalID
		default:
			continue
		}
		if !seen[other] {
			seen[other] = true
			out = append(out, other)
		}
	}
	return out
}

// HopDistance returns the minimum hop count between two devices over
// non-stale edges, or -1 if unreachable within limit hops.
func (s *TopologySnapshot) HopDistance(from, to string, limit int) int {
	if from == to {
		return 0
	}
	visited := map[string]bool{from: true}
	frontier := []string{from}
	for hops := 1; hops <= limit; hops++ {
		var next []string
		for _, id := range frontier {
			for _, n := range s.Neighbors(id, false) {
				if n == to {
					return hops
				}
				if !visited[n] {
					visited[n] = true
					next = append(next, n)
				}
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = next
	}
	return -1
}
