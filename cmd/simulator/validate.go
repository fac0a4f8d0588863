package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config and scenario without running",
		Long: `validate loads the config and scenario, buys the scenario's devices
and cables against the budget, and reports disconnected parts of the
network and client/server pairs no path can join.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			okf := color.New(color.FgGreen).SprintfFunc()
			warnf := color.New(color.FgYellow).SprintfFunc()

			if opts.cfg.Scenario == "" {
				fmt.Fprintln(out, okf("config OK"))
				return nil
			}
			sess, res, err := buildScenario(cmd, opts)
			if err != nil {
				return err
			}

			c := sess.Counters()
			devices, cables := sess.State().Topology().Len()
			fmt.Fprintln(out, okf("scenario OK: %d devices, %d cables, %d spent, %d left", devices, cables, c.Spent, c.Budget))

			names := namesByID(res)
			topo := sess.State().Topology()
			if comps := topo.Components(); len(comps) > 1 {
				fmt.Fprintln(out, warnf("network has %d disconnected parts:", len(comps)))
				for _, comp := range comps {
					fmt.Fprintf(out, "  - %s\n", strings.Join(sortedNames(comp, names), ", "))
				}
			}
			for _, pair := range topo.UnreachablePairs() {
				fmt.Fprintln(out, warnf("unreachable: %s → %s", names[pair[0]], names[pair[1]]))
			}
			return nil
		},
	}
}
