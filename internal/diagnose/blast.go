package diagnose

import (
	"sort"

	"github.com/cwccie/netopshub/pkg/models"
)

// suspect identifies the node or edge whose removal is being evaluated.
type suspect struct {
	deviceID string
	edgeKey  string
}

func suspectNode(id string) suspect  { return suspect{deviceID: id} }
func suspectEdge(key string) suspect { return suspect{edgeKey: key} }

// blastRadius returns the affected devices whose reachability to the rest
// of the affected set depends on the suspect. It compares pairwise
// reachability over non-stale edges before and after cutting the suspect
// out; paths may pass through devices outside the affected set.
func blastRadius(snap *models.TopologySnapshot, sus suspect, affected map[string]bool) []string {
	if snap == nil || len(affected) < 2 {
		return nil
	}

	before := reachability(snap, suspect{}, affected)
	after := reachability(snap, sus, affected)

	var out []string
	for id := range affected {
		if id == sus.deviceID {
			continue
		}
		for other := range affected {
			if other == id || other == sus.deviceID {
				continue
			}
			if before[id][other] && !after[id][other] {
				out = append(out, id)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// reachability computes which affected devices can reach which, walking
// the full snapshot graph with the suspect cut out.
func reachability(snap *models.TopologySnapshot, sus suspect, affected map[string]bool) map[string]map[string]bool {
	adj := make(map[string][]string)
	for _, edge := range snap.Edges {
		if edge.Stale || edge.Key() == sus.edgeKey {
			continue
		}
		if edge.LocalID == sus.deviceID || edge.RemoteID == sus.deviceID {
			continue
		}
		adj[edge.LocalID] = append(adj[edge.LocalID], edge.RemoteID)
		adj[edge.RemoteID] = append(adj[edge.RemoteID], edge.LocalID)
	}

	out := make(map[string]map[string]bool, len(affected))
	for id := range affected {
		if id == sus.deviceID {
			continue
		}
		reached := make(map[string]bool)
		frontier := []string{id}
		visited := map[string]bool{id: true}
		for len(frontier) > 0 {
			var next []string
			for _, cur := range frontier {
				for _, n := range adj[cur] {
					if visited[n] {
						continue
					}
					visited[n] = true
					if affected[n] {
						reached[n] = true
					}
					next = append(next, n)
				}
			}
			frontier = next
		}
		out[id] = reached
	}
	return out
}
