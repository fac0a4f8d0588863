package main

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/netsim/core"
	"github.com/signalsfoundry/netsim/internal/sim/engine"
	"github.com/signalsfoundry/netsim/internal/sim/state"
)

func newPathsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "paths <from> <to>",
		Short: "Score every simple path between two scenario devices",
		Long: `paths builds the scenario and lists every simple path between two
named devices in discovery order with its load, hop and intermediate
terms. The path the router would pick is highlighted.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, res, err := buildScenario(cmd, opts)
			if err != nil {
				return err
			}
			src, ok := res.Devices[args[0]]
			if !ok {
				return fmt.Errorf("%w: %q", state.ErrDeviceNotFound, args[0])
			}
			dst, ok := res.Devices[args[1]]
			if !ok {
				return fmt.Errorf("%w: %q", state.ErrDeviceNotFound, args[1])
			}

			out := cmd.OutOrStdout()
			if !sess.State().Topology().Reachable(src, dst) {
				fmt.Fprintf(out, "%s and %s are not connected\n", args[0], args[1])
				return nil
			}
			candidates, err := sess.RankPaths(src, dst)
			if err != nil {
				return err
			}

			names := namesByID(res)
			best := sess.Finder().FindBestPath(src, dst)
			highlight := color.New(color.FgGreen, color.Bold).SprintFunc()
			for i, c := range candidates {
				line := fmt.Sprintf("%2d. %-30s load=%.2f hops=%d intermediates=%d score=%.2f",
					i+1, formatPath(c.Path, names), c.Load, c.Path.Hops(), c.Intermediates, c.Score)
				if slices.Equal(c.Path, best) {
					line = highlight(line + "  (best)")
				}
				fmt.Fprintln(out, line)
			}

			if hop, ok := sess.State().Topology().ShortestHopPath(src, dst); ok {
				fmt.Fprintf(out, "fewest hops: %s\n", formatPath(hop, names))
			}
			return nil
		},
	}
}

// buildScenario creates a session and applies the configured scenario.
func buildScenario(cmd *cobra.Command, opts *options) (*engine.Session, *state.ScenarioResult, error) {
	sc, err := opts.loadScenario()
	if err != nil {
		return nil, nil, err
	}
	if sc == nil {
		return nil, nil, fmt.Errorf("a scenario is required (--scenario or NETSIM_SCENARIO)")
	}
	sess, err := engine.NewSession(opts.cfg, opts.log)
	if err != nil {
		return nil, nil, err
	}
	res, err := sess.ApplyScenario(cmd.Context(), sc)
	if err != nil {
		return nil, nil, err
	}
	return sess, res, nil
}

func namesByID(res *state.ScenarioResult) map[core.DeviceID]string {
	out := make(map[core.DeviceID]string, len(res.Devices))
	for name, id := range res.Devices {
		out[id] = name
	}
	return out
}

func formatPath(path []core.DeviceID, names map[core.DeviceID]string) string {
	parts := make([]string, len(path))
	for i, id := range path {
		if name, ok := names[id]; ok {
			parts[i] = name
		} else {
			parts[i] = fmt.Sprint(id)
		}
	}
	return strings.Join(parts, " → ")
}

func sortedNames(ids []core.DeviceID, names map[core.DeviceID]string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, names[id])
	}
	sort.Strings(out)
	return out
}
