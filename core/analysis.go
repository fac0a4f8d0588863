package core

import (
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Graph returns a gonum view of the current topology: one node per
// device, one unweighted undirected edge per cable. The view is a copy
// and does not track later changes.
func (t *Topology) Graph() *simple.UndirectedGraph {
	t.mu.RLock()
	defer t.mu.RUnlock()

	g := simple.NewUndirectedGraph()
	for _, d := range t.devices {
		g.AddNode(simple.Node(d.ID))
	}
	for _, c := range t.cables {
		g.SetEdge(simple.Edge{F: simple.Node(c.A), T: simple.Node(c.B)})
	}
	return g
}

// Reachable reports whether any path joins a and b.
func (t *Topology) Reachable(a, b DeviceID) bool {
	if a == b {
		_, ok := t.Device(a)
		return ok
	}
	g := t.Graph()
	if g.Node(int64(a)) == nil || g.Node(int64(b)) == nil {
		return false
	}
	return topo.PathExistsIn(g, simple.Node(a), simple.Node(b))
}

// ShortestHopPath returns a minimum-hop path from a to b, or false when
// b is unreachable. Among equal-length paths the choice is gonum's.
func (t *Topology) ShortestHopPath(a, b DeviceID) ([]DeviceID, bool) {
	g := t.Graph()
	if g.Node(int64(a)) == nil || g.Node(int64(b)) == nil {
		return nil, false
	}
	tree := path.DijkstraFrom(simple.Node(a), g)
	nodes, _ := tree.To(int64(b))
	if len(nodes) == 0 {
		return nil, false
	}
	return toDeviceIDs(nodes), true
}

// Components partitions the devices into connected components. Each
// component is sorted by ID and components are ordered by their lowest
// ID, so output is stable.
func (t *Topology) Components() [][]DeviceID {
	cc := topo.ConnectedComponents(t.Graph())
	out := make([][]DeviceID, 0, len(cc))
	for _, comp := range cc {
		ids := toDeviceIDs(comp)
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		out = append(out, ids)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// UnreachablePairs lists every (client, server) pair that no path joins.
func (t *Topology) UnreachablePairs() [][2]DeviceID {
	componentOf := make(map[DeviceID]int)
	for i, comp := range t.Components() {
		for _, id := range comp {
			componentOf[id] = i
		}
	}

	var out [][2]DeviceID
	for _, c := range t.DevicesOfKind(DeviceClient) {
		for _, s := range t.DevicesOfKind(DeviceServer) {
			if componentOf[c] != componentOf[s] {
				out = append(out, [2]DeviceID{c, s})
			}
		}
	}
	return out
}

func toDeviceIDs(nodes []graph.Node) []DeviceID {
	out := make([]DeviceID, len(nodes))
	for i, n := range nodes {
		out[i] = DeviceID(n.ID())
	}
	return out
}
