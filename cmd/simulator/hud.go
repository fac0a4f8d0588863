package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/signalsfoundry/netsim/core"
	"github.com/signalsfoundry/netsim/internal/sim/state"
	"github.com/signalsfoundry/netsim/model"
)

var levelColors = map[core.LoadLevel]*color.Color{
	core.LoadIdle:   color.New(color.FgHiBlack),
	core.LoadLight:  color.New(color.FgGreen),
	core.LoadMedium: color.New(color.FgYellow),
	core.LoadHeavy:  color.New(color.FgRed, color.Bold),
}

var stateColors = map[model.RequestState]*color.Color{
	model.RequestUnrouted:  color.New(color.FgCyan),
	model.RequestInTransit: color.New(color.FgBlue),
	model.RequestCompleted: color.New(color.FgGreen),
	model.RequestFailed:    color.New(color.FgRed),
}

// renderHUD prints the counters line followed by one line per cable and
// per live request.
func renderHUD(w io.Writer, snap *state.Snapshot) {
	c := snap.Counters
	fmt.Fprintf(w, "[tick %4d] processed %d/%d  remaining %d  failed %d  budget %d  (frame %d, t=%.1f)\n",
		snap.Tick, c.RequestsProcessed, c.TargetRequests, c.RemainingRequests, c.RequestsFailed, c.Budget,
		snap.Frame, snap.GameTime)

	for _, cable := range snap.Cables {
		paint := levelColors[cable.Level]
		if paint == nil {
			paint = color.New(color.Reset)
		}
		fmt.Fprintf(w, "↳ Cable %-3d [%d ↔ %d] %-6s load=%d/%d %s\n",
			cable.ID, cable.A, cable.B, cable.Kind, cable.CurrentLoad, cable.Capacity,
			paint.Sprint(cable.Level))
	}
	for _, r := range snap.Requests {
		if r.State != model.RequestInTransit && r.State != model.RequestUnrouted {
			continue
		}
		fmt.Fprintf(w, "↳ Request %-3d %d → %d %s at (%.1f, %.1f)\n",
			r.ID, r.Source, r.Destination, stateColors[r.State].Sprint(r.State), r.Position.X, r.Position.Y)
	}
}

// renderSummary prints the final tallies, with failures in red.
func renderSummary(w io.Writer, c model.Counters) {
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()
	fmt.Fprintf(w, "Simulation complete: %s processed, %s failed, %d of %d budget spent\n",
		ok(c.RequestsProcessed), bad(c.RequestsFailed), c.Spent, c.InitialBudget())
}
