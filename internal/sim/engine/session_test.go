package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/netsim/core"
	"github.com/signalsfoundry/netsim/internal/config"
	"github.com/signalsfoundry/netsim/internal/observability"
	"github.com/signalsfoundry/netsim/internal/sim/events"
	"github.com/signalsfoundry/netsim/internal/sim/state"
	"github.com/signalsfoundry/netsim/model"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type firstPicker struct{}

func (firstPicker) Pick(int) int { return 0 }

func testConfig(target int) config.Config {
	cfg := config.Default()
	cfg.Session.TargetRequests = target
	cfg.Clock.Mode = "accelerated"
	return cfg
}

func newSession(t *testing.T, cfg config.Config, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithPicker(firstPicker{}), WithStartTime(epoch)}, opts...)
	s, err := NewSession(cfg, nil, opts...)
	require.NoError(t, err)
	return s
}

// lineScenario is client - router - server on fiber, with an optional
// capacity on the client cable.
func lineScenario(clientCap int) *state.Scenario {
	return &state.Scenario{
		Name: "line",
		Devices: []state.ScenarioDevice{
			{Name: "C", Kind: "client", X: 0, Y: 0},
			{Name: "R", Kind: "router", X: 3, Y: 0},
			{Name: "S", Kind: "server", X: 6, Y: 0},
		},
		Cables: []state.ScenarioCable{
			{From: "C", To: "R", Kind: "fiber", Capacity: clientCap},
			{From: "R", To: "S", Kind: "fiber"},
		},
	}
}

func TestApplyScenarioSnapsWithConfiguredGrid(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(1)
	cfg.Session.GridSize = 10
	s := newSession(t, cfg)

	res, err := s.ApplyScenario(ctx, &state.Scenario{
		Devices: []state.ScenarioDevice{
			{Name: "C", Kind: "client", Screen: &core.Point{X: 35, Y: 5}},
			{Name: "S", Kind: "server", Screen: &core.Point{X: 99.9, Y: 0}},
		},
	})
	require.NoError(t, err)

	c, _ := s.State().Topology().Device(res.Devices["C"])
	srv, _ := s.State().Topology().Device(res.Devices["S"])
	assert.Equal(t, core.GridPos{X: 3, Y: 0}, c.Position)
	assert.Equal(t, core.GridPos{X: 9, Y: 0}, srv.Position)
}

func TestSessionRequestCompletesAfterTenTicks(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, testConfig(1))
	res, err := s.ApplyScenario(ctx, lineScenario(0))
	require.NoError(t, err)

	require.True(t, s.StartSimulation(ctx))
	require.Equal(t, 1, s.State().RequestCount())

	ticks := s.RunFrames(ctx, 9*60)
	require.Equal(t, 9, ticks)
	req, ok := s.State().Request(0)
	require.True(t, ok)
	assert.Equal(t, model.RequestInTransit, req.State())
	assert.Equal(t, []core.DeviceID{res.Devices["C"], res.Devices["R"], res.Devices["S"]}, req.Path)

	require.Equal(t, 1, s.RunFrames(ctx, 60))
	req, _ = s.State().Request(0)
	assert.Equal(t, model.RequestCompleted, req.State())
	assert.Equal(t, 1, s.Counters().RequestsProcessed)
	assert.Equal(t, 0, s.Events().Pending(), "no requests remain, nothing should be queued")
}

func TestSessionOverloadFailsSecondRequest(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, testConfig(2))
	_, err := s.ApplyScenario(ctx, lineScenario(1))
	require.NoError(t, err)

	require.True(t, s.StartSimulation(ctx))
	s.RunFrames(ctx, 59)
	require.Equal(t, 1, s.State().RequestCount())

	// The delayed generation and the first tick fall on the same frame.
	rep := s.Step(ctx)
	require.True(t, rep.Ticked)
	assert.Equal(t, 1, rep.EventsFired)
	assert.Equal(t, 1, rep.Generated)
	assert.Equal(t, 2, rep.Tick.Routed)
	assert.Equal(t, 1, rep.Tick.Overloaded)
	assert.Equal(t, 1, rep.Tick.InTransit)

	first, _ := s.State().Request(0)
	second, _ := s.State().Request(1)
	assert.Equal(t, model.RequestInTransit, first.State())
	assert.Equal(t, model.RequestFailed, second.State())
	assert.Equal(t, model.FailureOverload, second.Failure)
	assert.Equal(t, 1, s.Counters().RequestsFailed)
}

func TestSessionUnconnectedRequestFails(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, testConfig(1))
	_, err := s.PlaceDevice(ctx, core.DeviceClient, core.GridPos{X: 0, Y: 0})
	require.NoError(t, err)
	_, err = s.PlaceDevice(ctx, core.DeviceServer, core.GridPos{X: 5, Y: 5})
	require.NoError(t, err)

	s.StartSimulation(ctx)
	rep := s.RunFrames(ctx, 60)
	require.Equal(t, 1, rep)

	req, _ := s.State().Request(0)
	assert.Equal(t, model.RequestFailed, req.State())
	assert.Equal(t, model.FailureUnroutable, req.Failure)
	assert.Equal(t, 1, s.Counters().RequestsFailed)
}

func TestSessionPlacementOverBudget(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(1)
	cfg.Session.Budget = 1000
	s := newSession(t, cfg)

	_, err := s.PlaceDevice(ctx, core.DeviceServer, core.GridPos{X: 1, Y: 1})
	require.ErrorIs(t, err, state.ErrInsufficientBudget)

	snap := s.Snapshot()
	assert.Empty(t, snap.Devices)
	assert.Equal(t, 1000, snap.Counters.Budget)
	assert.Equal(t, 0, snap.Counters.Spent)
}

func TestSessionConnectRejectionLeavesBudget(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, testConfig(1))
	c, err := s.PlaceDevice(ctx, core.DeviceClient, core.GridPos{X: 0, Y: 0})
	require.NoError(t, err)

	before := s.Counters()
	_, err = s.ConnectDevices(ctx, c.ID, c.ID, core.CableCopper)
	require.ErrorIs(t, err, core.ErrSameDevice)
	assert.Equal(t, before, s.Counters())
}

func TestStartSimulationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, testConfig(5))
	_, err := s.ApplyScenario(ctx, lineScenario(0))
	require.NoError(t, err)

	require.True(t, s.StartSimulation(ctx))
	require.False(t, s.StartSimulation(ctx))
	assert.Equal(t, 1, s.State().RequestCount())
	assert.Equal(t, 4, s.Counters().RemainingRequests)
	assert.Equal(t, 1, s.Events().PendingOfKind(events.KindGenerate))
}

func TestStartWithoutEndpointsGeneratesNothing(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, testConfig(5))

	require.True(t, s.StartSimulation(ctx))
	assert.Equal(t, 0, s.State().RequestCount())
	assert.Equal(t, 5, s.Counters().RemainingRequests)
	assert.Equal(t, 0, s.Events().Pending())
}

func TestDelayedGenerationChain(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, testConfig(3))
	_, err := s.ApplyScenario(ctx, lineScenario(0))
	require.NoError(t, err)

	s.StartSimulation(ctx)
	s.RunFrames(ctx, 59)
	assert.Equal(t, 1, s.State().RequestCount())

	s.Step(ctx) // one second after start
	assert.Equal(t, 2, s.State().RequestCount())

	s.RunFrames(ctx, 59)
	assert.Equal(t, 2, s.State().RequestCount())
	s.Step(ctx)
	assert.Equal(t, 3, s.State().RequestCount())

	assert.Equal(t, 0, s.Counters().RemainingRequests)
	assert.Equal(t, 0, s.Events().PendingOfKind(events.KindGenerate))
}

func TestCompletionSchedulesGeneration(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(5)
	cfg.Clock.GenerateDelay = time.Hour
	s := newSession(t, cfg)
	_, err := s.ApplyScenario(ctx, &state.Scenario{
		Devices: []state.ScenarioDevice{
			{Name: "C", Kind: "client", X: 0, Y: 0},
			{Name: "S", Kind: "server", X: 2, Y: 0},
		},
		Cables: []state.ScenarioCable{{From: "C", To: "S", Kind: "fiber"}},
	})
	require.NoError(t, err)

	s.StartSimulation(ctx)
	require.Equal(t, 1, s.Events().Pending())

	// Frame 180 generates periodically; frame 300 completes the first
	// request, which queues a generation 500ms later.
	s.RunFrames(ctx, 300)
	first, _ := s.State().Request(0)
	require.Equal(t, model.RequestCompleted, first.State())
	require.Equal(t, 2, s.State().RequestCount())
	require.Equal(t, 3, s.Events().PendingOfKind(events.KindGenerate))

	s.RunFrames(ctx, 29)
	assert.Equal(t, 2, s.State().RequestCount())
	rep := s.Step(ctx)
	assert.Equal(t, 1, rep.EventsFired)
	assert.Equal(t, 3, s.State().RequestCount())
}

func TestPeriodicGenerationRespectsLimit(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(5)
	cfg.Clock.GenerateDelay = time.Hour
	cfg.Clock.PeriodicLimit = 1
	s := newSession(t, cfg)
	_, err := s.ApplyScenario(ctx, lineScenario(0))
	require.NoError(t, err)

	// Before the session starts nothing is generated periodically.
	s.RunFrames(ctx, 180)
	assert.Equal(t, 0, s.State().RequestCount())

	s.StartSimulation(ctx)
	s.RunFrames(ctx, 180)
	assert.Equal(t, 1, s.State().RequestCount())
}

func TestSnapshotInterpolatesPosition(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, testConfig(1))
	_, err := s.ApplyScenario(ctx, lineScenario(0))
	require.NoError(t, err)

	s.StartSimulation(ctx)
	s.RunFrames(ctx, 3*60)

	snap := s.Snapshot()
	require.Len(t, snap.Requests, 1)
	// Progress 6 on the first 3-unit hop: 60% of the way to the router.
	assert.InDelta(t, 1.8, snap.Requests[0].Position.X, 1e-9)
	assert.InDelta(t, 0, snap.Requests[0].Position.Y, 1e-9)
	assert.Equal(t, uint64(3), snap.Tick)
	assert.Equal(t, uint64(180), snap.Frame)
	assert.InDelta(t, 180, snap.GameTime, 1e-6)
}

func TestSessionMetricsWiring(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	simMetrics, err := observability.NewSimCollector(reg)
	require.NoError(t, err)
	schedMetrics, err := observability.NewSchedulerCollector(reg)
	require.NoError(t, err)

	s := newSession(t, testConfig(1), WithSimMetrics(simMetrics), WithSchedulerMetrics(schedMetrics))
	_, err = s.ApplyScenario(ctx, lineScenario(0))
	require.NoError(t, err)
	s.StartSimulation(ctx)
	s.RunFrames(ctx, 10*60)

	assert.Equal(t, float64(10), testutil.ToFloat64(simMetrics.Ticks))
	assert.Equal(t, float64(1), testutil.ToFloat64(simMetrics.RequestsProcessed))
	assert.Equal(t, float64(3), testutil.ToFloat64(simMetrics.Devices))
	assert.Equal(t, 2, testutil.CollectAndCount(simMetrics.CableLoad))

	families, err := reg.Gather()
	require.NoError(t, err)
	var routed uint64
	for _, mf := range families {
		if mf.GetName() == "netsim_path_computation_duration_seconds" {
			routed = mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, uint64(1), routed, "one request is routed once")
}

func TestRunStopsOnCancel(t *testing.T) {
	s := newSession(t, testConfig(1))
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- s.RunUntil(ctx, func(FrameReport) bool { return false }) }()

	deadline := time.Now().Add(time.Second)
	for s.Clock().Frames() < 120 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-errc:
		require.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatalf("RunUntil did not return after cancel")
	}
	assert.GreaterOrEqual(t, s.Snapshot().Tick, uint64(1))
}

func TestNewSessionRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(1)
	cfg.Clock.Mode = "warp"
	_, err := NewSession(cfg, nil)
	require.Error(t, err)
}

func TestSessionIDsAreUnique(t *testing.T) {
	a := newSession(t, testConfig(1))
	b := newSession(t, testConfig(1))
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestRankPaths(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, testConfig(1))
	res, err := s.ApplyScenario(ctx, lineScenario(0))
	require.NoError(t, err)

	got, err := s.RankPaths(res.Devices["C"], res.Devices["S"])
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Intermediates)
	assert.InDelta(t, 0.3*2+0.2*1, got[0].Score, 1e-9)

	_, err = s.RankPaths(res.Devices["C"], 99)
	require.ErrorIs(t, err, state.ErrDeviceNotFound)
}
