package routing

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/netsim/core"
)

type builder struct {
	t    *testing.T
	topo *core.Topology
}

func newBuilder(t *testing.T) *builder {
	return &builder{t: t, topo: core.NewTopology()}
}

func (b *builder) device(kind core.DeviceKind) core.DeviceID {
	n, _ := b.topo.Len()
	return b.topo.AddDevice(kind, core.GridPos{X: n, Y: 0}, 4, 0).ID
}

func (b *builder) link(a, c core.DeviceID, capacity int) core.Cable {
	b.t.Helper()
	cable, err := b.topo.Connect(a, c, core.CableFiber, capacity, 0)
	require.NoError(b.t, err)
	return cable
}

func TestFindAllPathsDiamond(t *testing.T) {
	b := newBuilder(t)
	c := b.device(core.DeviceClient)
	r1 := b.device(core.DeviceRouter)
	r2 := b.device(core.DeviceRouter)
	s := b.device(core.DeviceServer)
	b.link(c, r1, 5)
	b.link(c, r2, 5)
	b.link(r1, s, 5)
	b.link(r2, s, 5)
	b.link(r1, r2, 5)

	paths := NewFinder(b.topo).FindAllPaths(c, s)
	want := []Path{
		{c, r1, s},
		{c, r1, r2, s},
		{c, r2, s},
		{c, r2, r1, s},
	}
	assert.Equal(t, want, paths)
}

func TestFindAllPathsDegenerateInputs(t *testing.T) {
	b := newBuilder(t)
	c := b.device(core.DeviceClient)
	s := b.device(core.DeviceServer)
	f := NewFinder(b.topo)

	assert.Empty(t, f.FindAllPaths(c, s), "no cable means no path")
	assert.Equal(t, []Path{{c}}, f.FindAllPaths(c, c))
	assert.Empty(t, f.FindAllPaths(c, 99))
	assert.Empty(t, f.FindAllPaths(core.NoDevice, s))
	assert.Nil(t, f.FindBestPath(c, s))
}

func TestFindBestPathPrefersFewerHops(t *testing.T) {
	b := newBuilder(t)
	c := b.device(core.DeviceClient)
	r := b.device(core.DeviceRouter)
	sw := b.device(core.DeviceSwitch)
	s := b.device(core.DeviceServer)
	b.link(c, r, 5)
	b.link(r, sw, 5)
	b.link(sw, s, 5)
	b.link(r, s, 5)

	best := NewFinder(b.topo).FindBestPath(c, s)
	assert.Equal(t, Path{c, r, s}, best)
}

func TestFindBestPathTieGoesToFirstDiscovered(t *testing.T) {
	for _, firstViaA := range []bool{true, false} {
		t.Run(fmt.Sprintf("firstViaA=%v", firstViaA), func(t *testing.T) {
			b := newBuilder(t)
			c := b.device(core.DeviceClient)
			ra := b.device(core.DeviceRouter)
			rb := b.device(core.DeviceRouter)
			s := b.device(core.DeviceServer)
			if firstViaA {
				b.link(c, ra, 5)
				b.link(c, rb, 5)
			} else {
				b.link(c, rb, 5)
				b.link(c, ra, 5)
			}
			b.link(ra, s, 5)
			b.link(rb, s, 5)

			f := NewFinder(b.topo)
			best := f.FindBestPath(c, s)
			if firstViaA {
				assert.Equal(t, Path{c, ra, s}, best)
			} else {
				assert.Equal(t, Path{c, rb, s}, best)
			}
		})
	}
}

func TestFindBestPathAvoidsLoadedCable(t *testing.T) {
	b := newBuilder(t)
	c := b.device(core.DeviceClient)
	ra := b.device(core.DeviceRouter)
	rb := b.device(core.DeviceRouter)
	s := b.device(core.DeviceServer)
	busy := b.link(c, ra, 2)
	b.link(c, rb, 2)
	b.link(ra, s, 2)
	b.link(rb, s, 2)

	_, err := b.topo.IncrementLoad(busy.ID)
	require.NoError(t, err)

	f := NewFinder(b.topo)
	assert.InDelta(t, 0.5, f.PathLoad(Path{c, ra, s}), 1e-9)
	assert.Equal(t, Path{c, rb, s}, f.FindBestPath(c, s))
}

func TestScoreFormula(t *testing.T) {
	b := newBuilder(t)
	c := b.device(core.DeviceClient)
	r := b.device(core.DeviceRouter)
	sw := b.device(core.DeviceSwitch)
	s := b.device(core.DeviceServer)
	first := b.link(c, r, 4)
	b.link(r, sw, 4)
	b.link(sw, s, 4)
	_, _ = b.topo.IncrementLoad(first.ID)

	f := NewFinder(b.topo)
	p := Path{c, r, sw, s}
	// load 0.25, hops 3, intermediates 2
	assert.InDelta(t, 0.5*0.25+0.3*3+0.2*2, f.Score(p), 1e-9)
	assert.Equal(t, 2, f.Intermediates(p))

	custom := NewFinder(b.topo, WithWeights(Weights{Hops: 1}))
	assert.InDelta(t, 3, custom.Score(p), 1e-9)
}

func TestRankMatchesEnumerationOrder(t *testing.T) {
	b := newBuilder(t)
	c := b.device(core.DeviceClient)
	r := b.device(core.DeviceRouter)
	s := b.device(core.DeviceServer)
	b.link(c, r, 5)
	b.link(r, s, 5)
	b.link(c, s, 5)

	f := NewFinder(b.topo)
	ranked := f.Rank(c, s)
	require.Len(t, ranked, 2)
	assert.Equal(t, Path{c, r, s}, ranked[0].Path)
	assert.Equal(t, Path{c, s}, ranked[1].Path)
	assert.Equal(t, 1, ranked[0].Intermediates)
	assert.Less(t, ranked[1].Score, ranked[0].Score)
}

type recorder struct {
	calls      int
	candidates int
}

func (r *recorder) ObservePathComputation(_ time.Duration, candidates int) {
	r.calls++
	r.candidates = candidates
}

func TestFindBestPathRecordsMetrics(t *testing.T) {
	b := newBuilder(t)
	c := b.device(core.DeviceClient)
	s := b.device(core.DeviceServer)
	b.link(c, s, 5)

	rec := &recorder{}
	NewFinder(b.topo, WithMetricsRecorder(rec)).FindBestPath(c, s)
	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, 1, rec.candidates)
}

// randomTopology builds a graph of n devices with each pair joined with
// probability p. Device 0 is a client and device n-1 a server.
func randomTopology(t *testing.T, rng *rand.Rand, n int, p float64) *core.Topology {
	t.Helper()
	topo := core.NewTopology()
	kinds := []core.DeviceKind{core.DeviceRouter, core.DeviceSwitch, core.DeviceClient, core.DeviceServer}
	for i := 0; i < n; i++ {
		kind := kinds[rng.Intn(len(kinds))]
		switch i {
		case 0:
			kind = core.DeviceClient
		case n - 1:
			kind = core.DeviceServer
		}
		topo.AddDevice(kind, core.GridPos{X: i, Y: 0}, 4, 0)
	}
	type pair struct{ a, b int }
	var pairs []pair
	for a := 0; a < n; a++ {
		for b := a + 1; b < n; b++ {
			if rng.Float64() < p {
				pairs = append(pairs, pair{a, b})
			}
		}
	}
	rng.Shuffle(len(pairs), func(i, j int) { pairs[i], pairs[j] = pairs[j], pairs[i] })
	for _, pr := range pairs {
		a, b := core.DeviceID(pr.a), core.DeviceID(pr.b)
		if rng.Intn(2) == 0 {
			a, b = b, a
		}
		c, err := topo.Connect(a, b, core.CableCopper, 1+rng.Intn(4), 0)
		require.NoError(t, err)
		for k := rng.Intn(3); k > 0; k-- {
			_, _ = topo.IncrementLoad(c.ID)
		}
	}
	return topo
}

// bruteForcePaths enumerates every ordering of every subset of the
// intermediate devices and keeps those whose consecutive devices are
// cabled. It does not look at adjacency lists at all.
func bruteForcePaths(topo *core.Topology, src, dst core.DeviceID) map[string]bool {
	n, _ := topo.Len()
	out := make(map[string]bool)
	var rest []core.DeviceID
	for i := 0; i < n; i++ {
		if id := core.DeviceID(i); id != src && id != dst {
			rest = append(rest, id)
		}
	}

	var extend func(prefix []core.DeviceID, used uint)
	extend = func(prefix []core.DeviceID, used uint) {
		last := prefix[len(prefix)-1]
		if _, ok := topo.CableBetween(last, dst); ok {
			out[fmt.Sprint(append(append([]core.DeviceID(nil), prefix...), dst))] = true
		}
		for i, id := range rest {
			if used&(1<<uint(i)) != 0 {
				continue
			}
			if _, ok := topo.CableBetween(last, id); !ok {
				continue
			}
			extend(append(append([]core.DeviceID(nil), prefix...), id), used|1<<uint(i))
		}
	}
	extend([]core.DeviceID{src}, 0)
	return out
}

func TestFindAllPathsExhaustiveOnRandomGraphs(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 60; trial++ {
		n := 2 + rng.Intn(7)
		topo := randomTopology(t, rng, n, 0.2+rng.Float64()*0.6)
		src, dst := core.DeviceID(0), core.DeviceID(n-1)

		f := NewFinder(topo)
		paths := f.FindAllPaths(src, dst)

		got := make(map[string]bool, len(paths))
		for _, p := range paths {
			require.Equal(t, src, p[0])
			require.Equal(t, dst, p[len(p)-1])

			seen := make(map[core.DeviceID]bool)
			for i, id := range p {
				require.False(t, seen[id], "trial %d: repeated device in %v", trial, p)
				seen[id] = true
				if i > 0 {
					_, ok := topo.CableBetween(p[i-1], id)
					require.True(t, ok, "trial %d: %v uses a missing cable", trial, p)
				}
			}
			key := fmt.Sprint([]core.DeviceID(p))
			require.False(t, got[key], "trial %d: duplicate path %v", trial, p)
			got[key] = true
		}
		require.Equal(t, bruteForcePaths(topo, src, dst), got, "trial %d", trial)

		best := f.FindBestPath(src, dst)
		if len(paths) == 0 {
			require.Empty(t, best)
			require.False(t, topo.Reachable(src, dst))
			continue
		}

		// Best is minimal and the first minimal one enumerated.
		bestScore := f.Score(best)
		firstMin := -1
		minHops := paths[0].Hops()
		for i, p := range paths {
			s := f.Score(p)
			require.GreaterOrEqual(t, s, bestScore)
			if s == bestScore && firstMin < 0 {
				firstMin = i
			}
			if p.Hops() < minHops {
				minHops = p.Hops()
			}
		}
		require.Equal(t, paths[firstMin], best)

		hopPath, ok := topo.ShortestHopPath(src, dst)
		require.True(t, ok)
		require.Equal(t, minHops, len(hopPath)-1, "trial %d", trial)
	}
}
