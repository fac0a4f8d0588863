// Package engine wires the topology, path finder, tick function, request
// generator, event queue and clock into one simulation session.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/netsim/core"
	"github.com/signalsfoundry/netsim/internal/config"
	"github.com/signalsfoundry/netsim/internal/logging"
	"github.com/signalsfoundry/netsim/internal/observability"
	"github.com/signalsfoundry/netsim/internal/routing"
	"github.com/signalsfoundry/netsim/internal/sim/events"
	"github.com/signalsfoundry/netsim/internal/sim/state"
	"github.com/signalsfoundry/netsim/internal/sim/traffic"
	"github.com/signalsfoundry/netsim/model"
	"github.com/signalsfoundry/netsim/timectrl"
)

const tracerName = "github.com/signalsfoundry/netsim/internal/sim/engine"

// SimMetrics receives state, tick and cable load updates.
// *observability.SimCollector satisfies it.
type SimMetrics interface {
	state.MetricsRecorder
	traffic.TickMetricsRecorder
	SetCableLoads(cables []core.Cable)
}

// SchedulerMetrics receives path computation and event queue updates.
// *observability.SchedulerCollector satisfies it.
type SchedulerMetrics interface {
	routing.MetricsRecorder
	events.MetricsRecorder
}

// FrameReport describes what one frame did.
type FrameReport struct {
	Frame       timectrl.Frame
	EventsFired int
	Generated   int

	// Ticked is set when the frame crossed a tick window; Tick is only
	// meaningful then.
	Ticked bool
	Tick   traffic.TickReport
}

// Option customises a Session.
type Option func(*Session)

// WithPicker replaces the random endpoint picker.
func WithPicker(p traffic.Picker) Option {
	return func(s *Session) { s.picker = p }
}

// WithStartTime sets the clock's initial reading.
func WithStartTime(t time.Time) Option {
	return func(s *Session) { s.start = t }
}

// WithSimMetrics attaches simulation metrics.
func WithSimMetrics(m SimMetrics) Option {
	return func(s *Session) { s.simMetrics = m }
}

// WithSchedulerMetrics attaches path finder and event queue metrics.
func WithSchedulerMetrics(m SchedulerMetrics) Option {
	return func(s *Session) { s.schedMetrics = m }
}

// WithTracer overrides the tracer used for tick spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Session) { s.tracer = t }
}

// Session is one game: a budget, a topology and the requests flowing
// over it. Frames are serialized; reads (Snapshot, Counters) may run
// concurrently with them.
type Session struct {
	id  string
	cfg config.Config
	log logging.Logger

	mu sync.Mutex

	state     *state.SimulationState
	finder    *routing.Finder
	simulator *traffic.Simulator
	generator *traffic.Generator
	clock     *timectrl.TimeController
	events    events.Scheduler

	start        time.Time
	picker       traffic.Picker
	simMetrics   SimMetrics
	schedMetrics SchedulerMetrics
	tracer       trace.Tracer

	// generated counts requests created during the current frame.
	generated int
}

// NewSession validates cfg and builds a session from it.
func NewSession(cfg config.Config, log logging.Logger, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: invalid config: %w", err)
	}
	if log == nil {
		log = logging.Noop()
	}

	s := &Session{
		id:  uuid.NewString(),
		cfg: cfg,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.log = log.With(logging.String("session_id", s.id))
	if s.tracer == nil {
		s.tracer = observability.Tracer(tracerName)
	}
	if s.picker == nil {
		s.picker = traffic.NewStreamPicker(cfg.Session.RNGStream)
	}
	if s.start.IsZero() {
		s.start = time.Now()
	}

	stateOpts := []state.Option{state.WithCatalog(cfg.EffectiveCatalog())}
	simOpts := []traffic.SimulatorOption{traffic.WithCompletionHook(s.onCompleted)}
	finderOpts := []routing.Option{routing.WithWeights(cfg.Routing.Weights())}
	var eventOpts []events.Option
	if s.simMetrics != nil {
		stateOpts = append(stateOpts, state.WithMetricsRecorder(s.simMetrics))
		simOpts = append(simOpts, traffic.WithTickMetrics(s.simMetrics))
	}
	if s.schedMetrics != nil {
		finderOpts = append(finderOpts, routing.WithMetricsRecorder(s.schedMetrics))
		eventOpts = append(eventOpts, events.WithMetricsRecorder(s.schedMetrics))
	}

	s.state = state.NewSimulationState(cfg.Session.Budget, cfg.Session.TargetRequests, s.log, stateOpts...)
	s.finder = routing.NewFinder(s.state.Topology(), finderOpts...)
	s.simulator = traffic.NewSimulator(s.state, s.finder, s.log, simOpts...)
	s.generator = traffic.NewGenerator(s.state, s.picker, s.log)
	s.clock = timectrl.NewTimeController(s.start, cfg.Clock.Frame, timectrl.ParseMode(cfg.Clock.Mode))
	s.events = events.NewScheduler(s.clock, eventOpts...)

	s.log.Info(context.Background(), "session created",
		logging.Int("budget", cfg.Session.Budget),
		logging.Int("target_requests", cfg.Session.TargetRequests),
		logging.String("clock_mode", cfg.Clock.Mode),
		logging.Any("request_speed", s.simulator.Speed()),
	)
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// State exposes the underlying state for read-only inspection.
func (s *Session) State() *state.SimulationState { return s.state }

// Finder exposes the path finder for diagnostics.
func (s *Session) Finder() *routing.Finder { return s.finder }

// Clock exposes the session clock.
func (s *Session) Clock() *timectrl.TimeController { return s.clock }

// Events exposes the future-event queue.
func (s *Session) Events() events.Scheduler { return s.events }

// Counters returns the current counters.
func (s *Session) Counters() model.Counters { return s.state.Counters() }

// Snapshot returns a consistent copy of the session for rendering,
// stamped with the clock's frame count and game time.
func (s *Session) Snapshot() *state.Snapshot {
	snap := s.state.Snapshot()
	snap.Frame = s.clock.Frames()
	snap.GameTime = s.clock.GameTime()
	return snap
}

// RankPaths scores every simple path between two devices, in discovery
// order. Both devices must exist.
func (s *Session) RankPaths(src, dst core.DeviceID) ([]routing.Candidate, error) {
	topo := s.state.Topology()
	for _, id := range []core.DeviceID{src, dst} {
		if _, ok := topo.Device(id); !ok {
			return nil, fmt.Errorf("%w: %d", state.ErrDeviceNotFound, id)
		}
	}
	return s.finder.Rank(src, dst), nil
}

// PlaceDevice buys and places a device. A rejection leaves the session
// unchanged; callers typically ignore it.
func (s *Session) PlaceDevice(ctx context.Context, kind core.DeviceKind, pos core.GridPos) (core.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.state.PlaceDevice(kind, pos)
	if err != nil {
		s.log.Info(ctx, "device placement rejected",
			logging.String("kind", string(kind)),
			logging.Int("x", pos.X),
			logging.Int("y", pos.Y),
			logging.Err(err),
		)
		return core.Device{}, err
	}
	s.log.Debug(ctx, "device placed",
		logging.Int("device_id", int(d.ID)),
		logging.String("kind", string(kind)),
		logging.Int("cost", d.Cost),
	)
	return d, nil
}

// ConnectDevices buys a cable between a and b. A rejection leaves the
// session unchanged.
func (s *Session) ConnectDevices(ctx context.Context, a, b core.DeviceID, kind core.CableKind) (core.Cable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.state.ConnectDevices(a, b, kind)
	if err != nil {
		s.log.Info(ctx, "cable rejected",
			logging.Int("a", int(a)),
			logging.Int("b", int(b)),
			logging.String("kind", string(kind)),
			logging.Err(err),
		)
		return core.Cable{}, err
	}
	s.log.Debug(ctx, "cable connected",
		logging.Int("cable_id", int(c.ID)),
		logging.Int("cost", c.Cost),
	)
	return c, nil
}

// ApplyScenario builds a scenario's topology through the budgeted
// operations. On error the partial result is returned with it.
func (s *Session) ApplyScenario(ctx context.Context, sc *state.Scenario) (*state.ScenarioResult, error) {
	if sc == nil {
		return nil, fmt.Errorf("engine: nil scenario")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := state.ApplyScenario(s.state, sc, s.cfg.Session.GridSize)
	if err != nil {
		s.log.Warn(ctx, "scenario rejected", logging.String("scenario", sc.Name), logging.Err(err))
		return res, err
	}
	s.log.Info(ctx, "scenario applied",
		logging.String("scenario", sc.Name),
		logging.Int("devices", len(res.Devices)),
		logging.Int("cables", len(res.Cables)),
	)
	return res, nil
}

// StartSimulation generates the first request and enables periodic
// generation. Only the first call has any effect.
func (s *Session) StartSimulation(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Start() {
		return false
	}
	s.log.Info(ctx, "simulation started")
	s.generateLocked(ctx)
	return true
}

// Frame advances the clock by delta and runs whatever falls due: queued
// events first, then a tick if a tick window was crossed, then periodic
// generation if that tick also crossed a generation window.
func (s *Session) Frame(ctx context.Context, delta time.Duration) FrameReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generated = 0
	rep := FrameReport{Frame: s.clock.Advance(delta)}
	rep.EventsFired = s.events.RunDue()

	if rep.Frame.Crossed(s.cfg.Clock.TickWindow) {
		rep.Ticked = true
		rep.Tick = s.tick(ctx)

		if rep.Frame.Crossed(s.cfg.Clock.GenerationWindow) && s.periodicAllowed() {
			s.generateLocked(ctx)
		}
	}
	rep.Generated = s.generated
	return rep
}

// Step runs one frame of the configured length.
func (s *Session) Step(ctx context.Context) FrameReport {
	return s.Frame(ctx, s.clock.Frame)
}

// RunFrames runs n frames of the configured length and returns how many
// ticks they produced.
func (s *Session) RunFrames(ctx context.Context, n int) int {
	ticks := 0
	for i := 0; i < n; i++ {
		if s.Step(ctx).Ticked {
			ticks++
		}
	}
	return ticks
}

// RunUntil drives frames from the clock until done reports true or ctx
// is cancelled. In real-time mode frames are paced by the wall clock;
// in accelerated mode they run back to back.
func (s *Session) RunUntil(ctx context.Context, done func(FrameReport) bool) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var finished atomic.Bool
	stop := make(chan struct{})
	clockDone := s.clock.Start(0, stop, func(d time.Duration) {
		if finished.Load() {
			return
		}
		if done(s.Frame(runCtx, d)) {
			finished.Store(true)
			cancel()
		}
	})

	<-runCtx.Done()
	close(stop)
	<-clockDone

	if finished.Load() {
		return nil
	}
	return ctx.Err()
}

func (s *Session) periodicAllowed() bool {
	return s.state.Started() &&
		s.state.RequestCount() < s.cfg.Clock.PeriodicLimit &&
		s.state.Counters().RemainingRequests > 0
}

func (s *Session) tick(ctx context.Context) traffic.TickReport {
	ctx, span := s.tracer.Start(ctx, "netsim.tick")
	defer span.End()

	rep := s.simulator.Tick(ctx)
	span.SetAttributes(
		attribute.Int64("tick", int64(rep.Tick)),
		attribute.Int("routed", rep.Routed),
		attribute.Int("completed", rep.Completed),
		attribute.Int("failed", rep.Failed()),
		attribute.Int("in_transit", rep.InTransit),
	)
	if s.simMetrics != nil {
		s.simMetrics.SetCableLoads(s.state.Topology().Cables())
	}
	if rep.Failed() > 0 {
		s.log.Debug(ctx, "tick dropped requests",
			logging.Any("tick", rep.Tick),
			logging.Int("unroutable", rep.Unroutable),
			logging.Int("overloaded", rep.Overloaded),
		)
	}
	return rep
}

// generateLocked creates one request and, while requests remain, queues
// the next generation. Caller must hold s.mu.
func (s *Session) generateLocked(ctx context.Context) {
	_, ok := s.generator.Generate(ctx)
	if !ok {
		return
	}
	s.generated++
	if s.state.Counters().RemainingRequests > 0 {
		s.scheduleGeneration(ctx, s.cfg.Clock.GenerateDelay)
	}
}

// onCompleted runs after a tick for every completed request. It runs
// inside Frame, so s.mu is held.
func (s *Session) onCompleted(ctx context.Context, req model.Request, remaining int) {
	if remaining > 0 {
		s.scheduleGeneration(ctx, s.cfg.Clock.CompletionDelay)
	}
}

func (s *Session) scheduleGeneration(ctx context.Context, delay time.Duration) {
	// Events fire from RunDue inside Frame, which already holds s.mu.
	s.events.ScheduleEvent(events.KindGenerate, s.clock.Now().Add(delay), func() {
		s.generateLocked(ctx)
	})
}
