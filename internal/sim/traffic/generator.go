package traffic

import (
	"context"

	"github.com/iti/rngstream"

	"github.com/signalsfoundry/netsim/internal/logging"
	"github.com/signalsfoundry/netsim/internal/sim/state"
	"github.com/signalsfoundry/netsim/model"
)

// Picker chooses an index uniformly from [0, n). n is always positive.
type Picker interface {
	Pick(n int) int
}

// StreamPicker draws from an rngstream stream. Streams are independent
// substreams of one generator, so a process creating streams in the same
// order sees the same picks.
type StreamPicker struct {
	stream *rngstream.RngStream
}

// NewStreamPicker creates a picker over a fresh stream called name.
func NewStreamPicker(name string) *StreamPicker {
	return &StreamPicker{stream: rngstream.New(name)}
}

// Pick implements Picker.
func (p *StreamPicker) Pick(n int) int {
	i := int(p.stream.RandU01() * float64(n))
	if i >= n {
		i = n - 1
	}
	return i
}

// Generator creates requests between a random client and a random
// server.
type Generator struct {
	state  *state.SimulationState
	picker Picker
	log    logging.Logger
}

// NewGenerator returns a Generator over st. A nil picker uses a stream
// named "netsim".
func NewGenerator(st *state.SimulationState, picker Picker, log logging.Logger) *Generator {
	if picker == nil {
		picker = NewStreamPicker("netsim")
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Generator{state: st, picker: picker, log: log}
}

// Generate appends one unrouted request if at least one client and one
// server exist and requests remain. It reports whether a request was
// created.
func (g *Generator) Generate(ctx context.Context) (model.Request, bool) {
	if g.state.Counters().RemainingRequests <= 0 {
		return model.Request{}, false
	}
	clients, servers := g.state.Endpoints()
	if len(clients) == 0 || len(servers) == 0 {
		return model.Request{}, false
	}

	src := clients[g.picker.Pick(len(clients))]
	dst := servers[g.picker.Pick(len(servers))]

	req, err := g.state.EnqueueRequest(src, dst)
	if err != nil {
		g.log.Debug(ctx, "request generation skipped", logging.Any("error", err))
		return model.Request{}, false
	}
	g.log.Info(ctx, "request generated",
		logging.Int("request_id", int(req.ID)),
		logging.Int("source", int(src)),
		logging.Int("destination", int(dst)),
		logging.Int("remaining", g.state.Counters().RemainingRequests),
	)
	return req, true
}
