// Package traffic advances requests through the topology one tick at a
// time and generates new requests between clients and servers.
package traffic

import (
	"context"
	"time"

	"github.com/signalsfoundry/netsim/core"
	"github.com/signalsfoundry/netsim/internal/logging"
	"github.com/signalsfoundry/netsim/internal/routing"
	"github.com/signalsfoundry/netsim/internal/sim/state"
	"github.com/signalsfoundry/netsim/model"
)

// Router picks a path for a request. *routing.Finder satisfies it.
type Router interface {
	FindBestPath(src, dst core.DeviceID) routing.Path
}

// CompletionHook is called once per request completed in a tick, after
// the tick has released the state lock. remaining is the number of
// requests still to be generated.
type CompletionHook func(ctx context.Context, req model.Request, remaining int)

// TickMetricsRecorder observes finished ticks.
type TickMetricsRecorder interface {
	ObserveTick(elapsed time.Duration, report TickReport)
}

// TickReport summarises one tick.
type TickReport struct {
	Tick       uint64
	Routed     int
	Completed  int
	Unroutable int
	Overloaded int
	InTransit  int
	Remaining  int

	// Completions lists the requests that completed this tick, in
	// request order.
	Completions []model.Request
}

// Failed returns the number of requests that failed this tick.
func (r TickReport) Failed() int {
	return r.Unroutable + r.Overloaded
}

// SimulatorOption customises a Simulator.
type SimulatorOption func(*Simulator)

// WithCompletionHook registers fn to run for every completed request.
func WithCompletionHook(fn CompletionHook) SimulatorOption {
	return func(s *Simulator) {
		s.onComplete = fn
	}
}

// WithTickMetrics attaches a recorder for tick durations and outcomes.
func WithTickMetrics(m TickMetricsRecorder) SimulatorOption {
	return func(s *Simulator) {
		s.metrics = m
	}
}

// Simulator owns the tick function.
type Simulator struct {
	state  *state.SimulationState
	router Router
	log    logging.Logger

	// speed is applied to every request regardless of the cable kinds on
	// its path: it is always the fiber speed.
	speed float64

	onComplete CompletionHook
	metrics    TickMetricsRecorder
}

// NewSimulator returns a Simulator over st that routes with router.
func NewSimulator(st *state.SimulationState, router Router, log logging.Logger, opts ...SimulatorOption) *Simulator {
	if log == nil {
		log = logging.Noop()
	}
	s := &Simulator{
		state:  st,
		router: router,
		log:    log,
		speed:  st.Catalog().Cables[core.CableFiber].Speed,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Speed returns the per-tick advance in distance units.
func (s *Simulator) Speed() float64 {
	return s.speed
}

// Tick runs one simulation step:
//  1. every cable load is reset;
//  2. each active request is visited in insertion order, unrouted ones
//     are routed first and fail if no path exists;
//  3. routed requests advance and either load the cable they are on,
//     failing if it is now over capacity, or complete.
func (s *Simulator) Tick(ctx context.Context) TickReport {
	start := time.Now()
	var report TickReport

	report.Tick = s.state.RunTick(func(sc *state.TickScope) {
		sc.Topology.ResetLoads()

		for i := 0; i < sc.Len(); i++ {
			req := sc.At(i)
			if req.Terminal() {
				continue
			}

			if len(req.Path) == 0 {
				path := s.router.FindBestPath(req.Source, req.Destination)
				if len(path) == 0 {
					sc.MarkFailed(req, model.FailureUnroutable)
					report.Unroutable++
					s.log.Debug(ctx, "request unroutable",
						logging.Int("request_id", int(req.ID)),
						logging.Int("source", int(req.Source)),
						logging.Int("destination", int(req.Destination)),
					)
					continue
				}
				req.Route(path)
				report.Routed++
			}

			s.advance(ctx, sc, req, &report)
		}

		report.Remaining = sc.Counters().RemainingRequests
	})
	report.InTransit = s.state.InTransit()

	if s.metrics != nil {
		s.metrics.ObserveTick(time.Since(start), report)
	}
	if s.onComplete != nil {
		for _, req := range report.Completions {
			s.onComplete(ctx, req, report.Remaining)
		}
	}
	return report
}

func (s *Simulator) advance(ctx context.Context, sc *state.TickScope, req *model.Request, report *TickReport) {
	req.Progress += s.speed
	seg := req.SegmentIndex()

	if seg >= len(req.Path)-1 {
		sc.MarkCompleted(req)
		report.Completed++
		report.Completions = append(report.Completions, req.Clone())
		s.log.Debug(ctx, "request completed",
			logging.Int("request_id", int(req.ID)),
			logging.Int("hops", len(req.Path)-1),
			logging.Any("tick", sc.Tick),
		)
		return
	}

	cable, ok := sc.Topology.CableBetween(req.Path[seg], req.Path[seg+1])
	if !ok {
		return
	}
	updated, err := sc.Topology.IncrementLoad(cable.ID)
	if err != nil {
		s.log.Warn(ctx, "cable load update failed",
			logging.Int("cable_id", int(cable.ID)),
			logging.Any("error", err),
		)
		return
	}
	if updated.Overloaded() {
		sc.MarkFailed(req, model.FailureOverload)
		report.Overloaded++
		s.log.Debug(ctx, "request dropped on overloaded cable",
			logging.Int("request_id", int(req.ID)),
			logging.Int("cable_id", int(updated.ID)),
			logging.Int("load", updated.CurrentLoad),
			logging.Int("capacity", updated.Capacity),
		)
	}
}
