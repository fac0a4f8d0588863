package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/netsim/internal/config"
	"github.com/signalsfoundry/netsim/internal/logging"
	"github.com/signalsfoundry/netsim/internal/sim/state"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// options carries the persistent flags and what PersistentPreRunE
// derives from them.
type options struct {
	configPath string
	envFiles   []string
	scenario   string
	budget     int
	target     int
	mode       string

	cfg config.Config
	log logging.Logger
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "netsim",
		Short: "Simulate request traffic over a budgeted network topology",
		Long: `netsim builds a network of clients, servers, routers and switches
joined by copper and fiber cables, then routes requests from clients to
servers along load-aware paths and reports what gets through.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file")
	flags.StringSliceVar(&opts.envFiles, "env-file", nil, "Env files to load before reading NETSIM_* variables (default .env if present)")
	flags.StringVarP(&opts.scenario, "scenario", "s", "", "Path to a YAML scenario describing the initial topology")
	flags.IntVar(&opts.budget, "budget", 0, "Override the starting budget")
	flags.IntVar(&opts.target, "target", 0, "Override the number of requests to generate")
	flags.StringVar(&opts.mode, "mode", "", "Clock mode: realtime or accelerated")

	root.AddCommand(newRunCmd(opts), newPathsCmd(opts), newValidateCmd(opts))
	return root
}

// load resolves configuration in order: defaults, YAML file, env files,
// environment, flags.
func (o *options) load(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(o.envFiles...); err != nil {
		return err
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("scenario") {
		cfg.Scenario = o.scenario
	}
	if flags.Changed("budget") {
		cfg.Session.Budget = o.budget
	}
	if flags.Changed("target") {
		cfg.Session.TargetRequests = o.target
	}
	if flags.Changed("mode") {
		cfg.Clock.Mode = o.mode
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	o.cfg = cfg
	o.log = logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})
	return nil
}

// loadScenario reads the configured scenario, or returns nil when none
// is set.
func (o *options) loadScenario() (*state.Scenario, error) {
	if o.cfg.Scenario == "" {
		return nil, nil
	}
	sc, err := state.LoadScenarioFile(o.cfg.Scenario)
	if err != nil {
		return nil, err
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", o.cfg.Scenario, err)
	}
	return sc, nil
}
