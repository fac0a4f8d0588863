// Package routing enumerates simple paths through a topology and picks
// the cheapest one under the current cable loads.
package routing

import (
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/signalsfoundry/netsim/core"
)

// Topology is the read-only view of the device graph the finder needs.
// *core.Topology satisfies it.
type Topology interface {
	Neighbors(id core.DeviceID) []core.DeviceID
	CableBetween(a, b core.DeviceID) (core.Cable, bool)
	Kind(id core.DeviceID) (core.DeviceKind, bool)
}

// Path is an ordered, simple sequence of devices from source to
// destination inclusive. An empty path means "unroutable".
type Path []core.DeviceID

// Hops returns the number of cables the path crosses.
func (p Path) Hops() int {
	if len(p) == 0 {
		return 0
	}
	return len(p) - 1
}

// Weights are the coefficients of the path score.
type Weights struct {
	Load          float64
	Hops          float64
	Intermediates float64
}

// DefaultWeights scores a path as 0.5×load + 0.3×hops + 0.2×intermediates.
var DefaultWeights = Weights{Load: 0.5, Hops: 0.3, Intermediates: 0.2}

// MetricsRecorder observes best-path computations.
type MetricsRecorder interface {
	ObservePathComputation(elapsed time.Duration, candidates int)
}

// Option customises a Finder.
type Option func(*Finder)

// WithWeights overrides DefaultWeights.
func WithWeights(w Weights) Option {
	return func(f *Finder) {
		f.weights = w
	}
}

// WithMetricsRecorder attaches a recorder for computation timings.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(f *Finder) {
		f.metrics = m
	}
}

// Finder computes routes over a Topology. It holds no state of its own
// between calls; loads are read from the topology at call time.
type Finder struct {
	topo    Topology
	weights Weights
	metrics MetricsRecorder
}

// NewFinder returns a Finder over topo.
func NewFinder(topo Topology, opts ...Option) *Finder {
	f := &Finder{topo: topo, weights: DefaultWeights}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// frame is one pending DFS step: the node to expand, the path that led
// to it and the nodes already on that path.
type frame struct {
	node    core.DeviceID
	path    Path
	visited mapset.Set[core.DeviceID]
}

// FindAllPaths returns every simple path from src to dst in depth-first
// order over neighbor insertion order. src == dst yields the single path
// [src]. Unknown endpoints or disconnected devices yield nil.
func (f *Finder) FindAllPaths(src, dst core.DeviceID) []Path {
	if _, ok := f.topo.Kind(src); !ok {
		return nil
	}
	if _, ok := f.topo.Kind(dst); !ok {
		return nil
	}

	var paths []Path
	stack := []frame{{
		node:    src,
		path:    Path{src},
		visited: mapset.NewThreadUnsafeSet(src),
	}}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if top.node == dst {
			paths = append(paths, top.path)
			continue
		}

		// Push in reverse so the first neighbor is expanded first.
		neighbors := f.topo.Neighbors(top.node)
		for i := len(neighbors) - 1; i >= 0; i-- {
			next := neighbors[i]
			if top.visited.Contains(next) {
				continue
			}
			visited := top.visited.Clone()
			visited.Add(next)

			path := make(Path, len(top.path)+1)
			copy(path, top.path)
			path[len(top.path)] = next

			stack = append(stack, frame{node: next, path: path, visited: visited})
		}
	}
	return paths
}

// PathLoad sums load/capacity over every consecutive pair of the path.
// A pair with no cable contributes 0.
func (f *Finder) PathLoad(p Path) float64 {
	var load float64
	for i := 0; i+1 < len(p); i++ {
		if c, ok := f.topo.CableBetween(p[i], p[i+1]); ok {
			load += c.LoadRatio()
		}
	}
	return load
}

// Intermediates counts devices on the path that are neither clients nor
// servers.
func (f *Finder) Intermediates(p Path) int {
	n := 0
	for _, id := range p {
		kind, _ := f.topo.Kind(id)
		if !kind.IsEndpoint() {
			n++
		}
	}
	return n
}

// Score ranks a path; lower is better.
func (f *Finder) Score(p Path) float64 {
	return f.weights.Load*f.PathLoad(p) +
		f.weights.Hops*float64(p.Hops()) +
		f.weights.Intermediates*float64(f.Intermediates(p))
}

// FindBestPath returns the lowest-scoring simple path from src to dst,
// or nil when none exists. The first path found wins ties.
func (f *Finder) FindBestPath(src, dst core.DeviceID) Path {
	start := time.Now()
	paths := f.FindAllPaths(src, dst)
	defer func() {
		if f.metrics != nil {
			f.metrics.ObservePathComputation(time.Since(start), len(paths))
		}
	}()

	var (
		best      Path
		bestScore float64
	)
	for i, p := range paths {
		s := f.Score(p)
		if i == 0 || s < bestScore {
			best, bestScore = p, s
		}
	}
	return best
}

// Candidate is a scored path, as reported by Rank.
type Candidate struct {
	Path          Path
	Load          float64
	Intermediates int
	Score         float64
}

// Rank scores every simple path from src to dst in enumeration order.
func (f *Finder) Rank(src, dst core.DeviceID) []Candidate {
	paths := f.FindAllPaths(src, dst)
	out := make([]Candidate, 0, len(paths))
	for _, p := range paths {
		out = append(out, Candidate{
			Path:          p,
			Load:          f.PathLoad(p),
			Intermediates: f.Intermediates(p),
			Score:         f.Score(p),
		})
	}
	return out
}
