// internal/sim/state/state.go
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/netsim/core"
	"github.com/signalsfoundry/netsim/internal/logging"
	"github.com/signalsfoundry/netsim/model"
)

// Re-export topology sentinel errors so callers can depend on state.*
// instead of core.* directly if they want to.
var (
	// ErrDeviceNotFound indicates a referenced device does not exist.
	ErrDeviceNotFound = core.ErrDeviceNotFound
	// ErrSameDevice indicates an attempt to cable a device to itself.
	ErrSameDevice = core.ErrSameDevice
	// ErrCableExists indicates the two devices are already cabled.
	ErrCableExists = core.ErrCableExists
	// ErrUnknownDeviceKind indicates a device kind missing from the catalog.
	ErrUnknownDeviceKind = core.ErrUnknownDeviceKind
	// ErrUnknownCableKind indicates a cable kind missing from the catalog.
	ErrUnknownCableKind = core.ErrUnknownCableKind
	// ErrInvalidCapacity indicates a cable capacity below one.
	ErrInvalidCapacity = core.ErrInvalidCapacity
	// ErrInsufficientBudget indicates the action costs more than the budget left.
	ErrInsufficientBudget = errors.New("insufficient budget")
	// ErrCellOccupied indicates a device already sits on the target cell.
	ErrCellOccupied = errors.New("cell already occupied")
	// ErrNoRemainingRequests indicates every target request was generated.
	ErrNoRemainingRequests = errors.New("no requests remaining")
	// ErrNotEndpoint indicates a request endpoint is not a client or server.
	ErrNotEndpoint = errors.New("device is not a request endpoint")
)

// SimulationState owns everything a session mutates: the topology, the
// budget and request counters, and the request list.
//
// Lock ordering is SimulationState -> Topology. Request mutation happens
// only inside RunTick.
type SimulationState struct {
	mu sync.RWMutex

	topo    *core.Topology
	catalog core.Catalog

	counters model.Counters
	requests []model.Request
	tick     uint64
	started  bool

	// log is an optional structured logger for state-level events.
	log logging.Logger

	// metrics is an optional recorder for Prometheus-friendly gauges.
	metrics MetricsRecorder
}

// MetricsRecorder receives counter and entity-count updates.
type MetricsRecorder interface {
	SetCounters(c model.Counters)
	SetEntityCounts(devices, cables, requests, inTransit int)
}

// Option customises SimulationState construction.
type Option func(*SimulationState)

// WithCatalog replaces the default device and cable catalog.
func WithCatalog(c core.Catalog) Option {
	return func(s *SimulationState) {
		s.catalog = c
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *SimulationState) {
		s.metrics = m
	}
}

// NewSimulationState creates an empty session state with the given
// budget and target request count.
func NewSimulationState(budget, targetRequests int, log logging.Logger, opts ...Option) *SimulationState {
	if log == nil {
		log = logging.Noop()
	}
	s := &SimulationState{
		topo:     core.NewTopology(),
		catalog:  core.DefaultCatalog(),
		counters: model.NewCounters(budget, targetRequests),
		log:      log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.updateMetricsLocked()
	return s
}

// Topology exposes the device graph. Mutate it through PlaceDevice and
// ConnectDevices so the budget stays consistent.
func (s *SimulationState) Topology() *core.Topology {
	return s.topo
}

// Catalog returns the device and cable catalog in use.
func (s *SimulationState) Catalog() core.Catalog {
	return s.catalog
}

// Counters returns a copy of the session counters.
func (s *SimulationState) Counters() model.Counters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters
}

//
// ---------- Building ----------
//

// PlaceDevice buys a device of kind and puts it on pos. It is rejected,
// with nothing changed, when the cell is taken or the budget is short.
func (s *SimulationState) PlaceDevice(kind core.DeviceKind, pos core.GridPos) (core.Device, error) {
	spec, err := s.catalog.Device(kind)
	if err != nil {
		return core.Device{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, taken := s.topo.DeviceAt(pos); taken {
		return core.Device{}, fmt.Errorf("%w: (%d,%d) holds %s %d", ErrCellOccupied, pos.X, pos.Y, existing.Kind, existing.ID)
	}
	if !s.counters.CanAfford(spec.Cost) {
		return core.Device{}, fmt.Errorf("%w: %s costs %d, budget %d", ErrInsufficientBudget, kind, spec.Cost, s.counters.Budget)
	}

	d := s.topo.AddDevice(kind, pos, spec.Capacity, spec.Cost)
	s.chargeLocked(spec.Cost)
	s.updateMetricsLocked()

	s.log.Debug(context.Background(), "device placed",
		logging.Int("device_id", int(d.ID)),
		logging.String("kind", string(kind)),
		logging.Int("cost", spec.Cost),
		logging.Int("budget", s.counters.Budget),
	)
	return d, nil
}

// ConnectOption adjusts a single cable at connection time.
type ConnectOption func(*connectParams)

type connectParams struct {
	capacity int
}

// WithCableCapacity overrides the catalog capacity for one cable. The
// capacity must be positive or the connection is rejected.
func WithCableCapacity(capacity int) ConnectOption {
	return func(p *connectParams) {
		p.capacity = capacity
	}
}

// QuoteCable returns what a cable of kind between a and b would cost.
func (s *SimulationState) QuoteCable(a, b core.DeviceID, kind core.CableKind) (int, error) {
	spec, err := s.catalog.Cable(kind)
	if err != nil {
		return 0, err
	}
	da, ok := s.topo.Device(a)
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrDeviceNotFound, a)
	}
	db, ok := s.topo.Device(b)
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrDeviceNotFound, b)
	}
	return core.CableCost(da.Position, db.Position, spec), nil
}

// ConnectDevices buys a cable of kind between a and b. The cost is the
// Euclidean grid distance times the kind's per-unit cost, rounded. It is
// rejected, with nothing changed, when the budget is short or the
// topology refuses the cable.
func (s *SimulationState) ConnectDevices(a, b core.DeviceID, kind core.CableKind, opts ...ConnectOption) (core.Cable, error) {
	spec, err := s.catalog.Cable(kind)
	if err != nil {
		return core.Cable{}, err
	}
	params := connectParams{capacity: spec.Capacity}
	for _, opt := range opts {
		if opt != nil {
			opt(&params)
		}
	}

	if params.capacity <= 0 {
		return core.Cable{}, fmt.Errorf("%w: %d", ErrInvalidCapacity, params.capacity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if a == b {
		return core.Cable{}, fmt.Errorf("%w: %d", ErrSameDevice, a)
	}
	cost, err := s.QuoteCable(a, b, kind)
	if err != nil {
		return core.Cable{}, err
	}
	if _, exists := s.topo.CableBetween(a, b); exists {
		return core.Cable{}, fmt.Errorf("%w: %d-%d", ErrCableExists, a, b)
	}
	if !s.counters.CanAfford(cost) {
		return core.Cable{}, fmt.Errorf("%w: %s cable costs %d, budget %d", ErrInsufficientBudget, kind, cost, s.counters.Budget)
	}

	c, err := s.topo.Connect(a, b, kind, params.capacity, cost)
	if err != nil {
		return core.Cable{}, err
	}
	s.chargeLocked(cost)
	s.updateMetricsLocked()

	s.log.Debug(context.Background(), "devices connected",
		logging.Int("cable_id", int(c.ID)),
		logging.Int("a", int(a)),
		logging.Int("b", int(b)),
		logging.String("kind", string(kind)),
		logging.Int("cost", cost),
		logging.Int("budget", s.counters.Budget),
	)
	return c, nil
}

// chargeLocked moves cost from Budget to Spent. Caller must hold s.mu
// and have checked CanAfford.
func (s *SimulationState) chargeLocked(cost int) {
	s.counters.Budget -= cost
	s.counters.Spent += cost
}

//
// ---------- Requests ----------
//

// Start marks the session as started. It reports whether this call
// changed anything.
func (s *SimulationState) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return false
	}
	s.started = true
	return true
}

// Started reports whether Start has been called.
func (s *SimulationState) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// Endpoints returns the client and server device IDs in creation order.
func (s *SimulationState) Endpoints() (clients, servers []core.DeviceID) {
	return s.topo.DevicesOfKind(core.DeviceClient), s.topo.DevicesOfKind(core.DeviceServer)
}

// EnqueueRequest appends a new unrouted request from src to dst and
// consumes one remaining request.
func (s *SimulationState) EnqueueRequest(src, dst core.DeviceID) (model.Request, error) {
	if err := s.checkEndpoint(src, core.DeviceClient); err != nil {
		return model.Request{}, err
	}
	if err := s.checkEndpoint(dst, core.DeviceServer); err != nil {
		return model.Request{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.counters.RemainingRequests <= 0 {
		return model.Request{}, ErrNoRemainingRequests
	}
	req := model.NewRequest(model.RequestID(len(s.requests)), src, dst, s.tick)
	s.requests = append(s.requests, req)
	s.counters.RemainingRequests--
	s.updateMetricsLocked()
	return req.Clone(), nil
}

func (s *SimulationState) checkEndpoint(id core.DeviceID, want core.DeviceKind) error {
	kind, ok := s.topo.Kind(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrDeviceNotFound, id)
	}
	if kind != want {
		return fmt.Errorf("%w: device %d is a %s, want %s", ErrNotEndpoint, id, kind, want)
	}
	return nil
}

// Requests returns copies of every request in insertion order.
func (s *SimulationState) Requests() []model.Request {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Request, 0, len(s.requests))
	for _, r := range s.requests {
		out = append(out, r.Clone())
	}
	return out
}

// Request returns a copy of one request.
func (s *SimulationState) Request(id model.RequestID) (model.Request, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id < 0 || int(id) >= len(s.requests) {
		return model.Request{}, false
	}
	return s.requests[id].Clone(), true
}

// RequestCount returns how many requests have been generated.
func (s *SimulationState) RequestCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.requests)
}

//
// ---------- Ticks ----------
//

// TickScope is the mutable view handed to RunTick callbacks. It is only
// valid for the duration of the callback.
type TickScope struct {
	// Tick is the number of the tick being run, starting at 1.
	Tick     uint64
	Topology *core.Topology

	state *SimulationState
}

// Len returns the number of requests.
func (sc *TickScope) Len() int {
	return len(sc.state.requests)
}

// At returns request i for in-place mutation.
func (sc *TickScope) At(i int) *model.Request {
	return &sc.state.requests[i]
}

// MarkCompleted completes r and counts it as processed.
func (sc *TickScope) MarkCompleted(r *model.Request) {
	r.Complete(sc.Tick)
	sc.state.counters.RequestsProcessed++
}

// MarkFailed fails r for reason and counts it as failed.
func (sc *TickScope) MarkFailed(r *model.Request, reason model.FailureReason) {
	r.Fail(reason, sc.Tick)
	sc.state.counters.RequestsFailed++
}

// Counters returns the counters as they stand mid-tick.
func (sc *TickScope) Counters() model.Counters {
	return sc.state.counters
}

// RunTick advances the tick number and runs fn under the state write
// lock. fn must not call back into SimulationState methods.
func (s *SimulationState) RunTick(fn func(*TickScope)) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tick++
	if fn != nil {
		fn(&TickScope{Tick: s.tick, Topology: s.topo, state: s})
	}
	s.updateMetricsLocked()
	return s.tick
}

// InTransit counts requests that are routed and still active.
func (s *SimulationState) InTransit() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inTransitLocked()
}

func (s *SimulationState) inTransitLocked() int {
	n := 0
	for i := range s.requests {
		if s.requests[i].State() == model.RequestInTransit {
			n++
		}
	}
	return n
}

// updateMetricsLocked pushes counts to the recorder. Caller must hold s.mu.
func (s *SimulationState) updateMetricsLocked() {
	if s.metrics == nil {
		return
	}
	devices, cables := s.topo.Len()
	s.metrics.SetCounters(s.counters)
	s.metrics.SetEntityCounts(devices, cables, len(s.requests), s.inTransitLocked())
}
