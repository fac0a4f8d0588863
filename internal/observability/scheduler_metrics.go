package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerCollector exposes metrics for route computation and the
// future-event queue.
type SchedulerCollector struct {
	gatherer prometheus.Gatherer

	PathComputationDuration prometheus.Histogram
	PathCandidates          prometheus.Histogram
	EventsPending           prometheus.Gauge
	EventsFired             *prometheus.CounterVec
}

// NewSchedulerCollector registers scheduler metrics against the provided registerer.
func NewSchedulerCollector(reg prometheus.Registerer) (*SchedulerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	pathHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "netsim_path_computation_duration_seconds",
		Help:    "Duration of best-path computations, including path enumeration.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	})
	pathHistogram, err := registerHistogram(reg, pathHistogram, "netsim_path_computation_duration_seconds")
	if err != nil {
		return nil, err
	}

	candidates := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "netsim_path_candidates",
		Help:    "Number of simple paths enumerated per best-path computation.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
	candidates, err = registerHistogram(reg, candidates, "netsim_path_candidates")
	if err != nil {
		return nil, err
	}

	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "netsim_events_pending",
		Help: "Future events waiting in the queue.",
	})
	pending, err = registerGauge(reg, pending, "netsim_events_pending")
	if err != nil {
		return nil, err
	}

	fired := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netsim_events_fired_total",
		Help: "Future events run, labeled by kind.",
	}, []string{"kind"})
	fired, err = registerCounterVec(reg, fired, "netsim_events_fired_total")
	if err != nil {
		return nil, err
	}

	return &SchedulerCollector{
		gatherer:                gatherer,
		PathComputationDuration: pathHistogram,
		PathCandidates:          candidates,
		EventsPending:           pending,
		EventsFired:             fired,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SchedulerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObservePathComputation records a path computation. It satisfies
// routing.MetricsRecorder.
func (c *SchedulerCollector) ObservePathComputation(d time.Duration, candidates int) {
	if c == nil || c.PathComputationDuration == nil {
		return
	}
	c.PathComputationDuration.Observe(d.Seconds())
	c.PathCandidates.Observe(float64(candidates))
}

// SetPendingEvents updates the queue depth gauge.
func (c *SchedulerCollector) SetPendingEvents(count int) {
	if c == nil || c.EventsPending == nil {
		return
	}
	c.EventsPending.Set(float64(count))
}

// IncEventsFired counts one event of kind run.
func (c *SchedulerCollector) IncEventsFired(kind string) {
	if c == nil || c.EventsFired == nil {
		return
	}
	c.EventsFired.WithLabelValues(kind).Inc()
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
