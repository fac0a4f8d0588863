package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/netsim/core"
	"github.com/signalsfoundry/netsim/internal/sim/traffic"
	"github.com/signalsfoundry/netsim/model"
)

// SimCollector bundles Prometheus metrics for a simulation session and
// its read-only gRPC viewer, and provides helpers to wire them into gRPC
// servers and HTTP handlers.
type SimCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	RequestsProcessed prometheus.Counter
	RequestsFailed    *prometheus.CounterVec
	Ticks             prometheus.Counter
	TickDuration      prometheus.Histogram

	Budget            prometheus.Gauge
	BudgetSpent       prometheus.Gauge
	RequestsRemaining prometheus.Gauge
	RequestsInTransit prometheus.Gauge
	Requests          prometheus.Gauge
	Devices           prometheus.Gauge
	Cables            prometheus.Gauge
	CableLoad         *prometheus.GaugeVec
	CableUtilization  *prometheus.GaugeVec
}

// NewSimCollector registers simulation Prometheus metrics against the
// provided registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "viewer_requests_total",
		Help: "Total number of handled viewer RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"})
	requests, err := registerCounterVec(reg, requests, "viewer_requests_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "viewer_request_duration_seconds",
		Help:    "Viewer RPC latency in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"service", "method"})
	durations, err = registerHistogramVec(reg, durations, "viewer_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	processed, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netsim_requests_processed_total",
		Help: "Requests that reached their destination.",
	}), "netsim_requests_processed_total")
	if err != nil {
		return nil, err
	}

	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netsim_requests_failed_total",
		Help: "Requests that failed, labeled by reason (unroutable, overload).",
	}, []string{"reason"})
	failed, err = registerCounterVec(reg, failed, "netsim_requests_failed_total")
	if err != nil {
		return nil, err
	}

	ticks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netsim_ticks_total",
		Help: "Simulation ticks run.",
	}), "netsim_ticks_total")
	if err != nil {
		return nil, err
	}

	tickHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "netsim_tick_duration_seconds",
		Help:    "Wall time spent in one simulation tick.",
		Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	})
	tickHistogram, err = registerHistogram(reg, tickHistogram, "netsim_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	gauges := make(map[string]prometheus.Gauge)
	for _, g := range []struct{ name, help string }{
		{"netsim_budget", "Budget left to spend."},
		{"netsim_budget_spent", "Budget spent on devices and cables."},
		{"netsim_requests_remaining", "Requests not yet generated."},
		{"netsim_requests_in_transit", "Requests routed and still moving."},
		{"netsim_requests", "Requests generated so far."},
		{"netsim_devices", "Devices placed."},
		{"netsim_cables", "Cables laid."},
	} {
		gauge, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: g.name,
			Help: g.help,
		}), g.name)
		if err != nil {
			return nil, err
		}
		gauges[g.name] = gauge
	}

	load := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netsim_cable_load",
		Help: "Requests crossing each cable during the last tick.",
	}, []string{"cable", "kind"})
	load, err = registerGaugeVec(reg, load, "netsim_cable_load")
	if err != nil {
		return nil, err
	}

	utilization := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netsim_cable_utilization_ratio",
		Help: "Cable load divided by capacity during the last tick.",
	}, []string{"cable", "kind"})
	utilization, err = registerGaugeVec(reg, utilization, "netsim_cable_utilization_ratio")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:          gatherer,
		RPCRequests:       requests,
		RPCDurations:      durations,
		RequestsProcessed: processed,
		RequestsFailed:    failed,
		Ticks:             ticks,
		TickDuration:      tickHistogram,
		Budget:            gauges["netsim_budget"],
		BudgetSpent:       gauges["netsim_budget_spent"],
		RequestsRemaining: gauges["netsim_requests_remaining"],
		RequestsInTransit: gauges["netsim_requests_in_transit"],
		Requests:          gauges["netsim_requests"],
		Devices:           gauges["netsim_devices"],
		Cables:            gauges["netsim_cables"],
		CableLoad:         load,
		CableUtilization:  utilization,
	}, nil
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *SimCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// SetCounters satisfies state.MetricsRecorder so SimulationState can
// drive gauge values directly from its mutators.
func (c *SimCollector) SetCounters(counters model.Counters) {
	if c == nil {
		return
	}
	c.Budget.Set(float64(counters.Budget))
	c.BudgetSpent.Set(float64(counters.Spent))
	c.RequestsRemaining.Set(float64(counters.RemainingRequests))
}

// SetEntityCounts satisfies state.MetricsRecorder.
func (c *SimCollector) SetEntityCounts(devices, cables, requests, inTransit int) {
	if c == nil {
		return
	}
	c.Devices.Set(float64(devices))
	c.Cables.Set(float64(cables))
	c.Requests.Set(float64(requests))
	c.RequestsInTransit.Set(float64(inTransit))
}

// ObserveTick satisfies traffic.TickMetricsRecorder.
func (c *SimCollector) ObserveTick(elapsed time.Duration, report traffic.TickReport) {
	if c == nil {
		return
	}
	c.Ticks.Inc()
	c.TickDuration.Observe(elapsed.Seconds())
	if report.Completed > 0 {
		c.RequestsProcessed.Add(float64(report.Completed))
	}
	if report.Unroutable > 0 {
		c.RequestsFailed.WithLabelValues(string(model.FailureUnroutable)).Add(float64(report.Unroutable))
	}
	if report.Overloaded > 0 {
		c.RequestsFailed.WithLabelValues(string(model.FailureOverload)).Add(float64(report.Overloaded))
	}
}

// SetCableLoads publishes the per-tick load of every cable.
func (c *SimCollector) SetCableLoads(cables []core.Cable) {
	if c == nil {
		return
	}
	for _, cable := range cables {
		id := strconv.Itoa(int(cable.ID))
		c.CableLoad.WithLabelValues(id, string(cable.Kind)).Set(float64(cable.CurrentLoad))
		c.CableUtilization.WithLabelValues(id, string(cable.Kind)).Set(cable.LoadRatio())
	}
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
