package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/netsim/internal/logging"
	"github.com/signalsfoundry/netsim/internal/observability"
	"github.com/signalsfoundry/netsim/internal/sim/engine"
	"github.com/signalsfoundry/netsim/internal/viewer"
)

// errFinished ends the run group once every request is terminal.
var errFinished = errors.New("simulation finished")

type runOptions struct {
	frames   int
	hudEvery int
	serve    bool
}

func newRunCmd(opts *options) *cobra.Command {
	ro := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build the scenario, start the simulation and serve it",
		Long: `run builds the configured scenario, starts generating requests and
drives the frame loop. Unless --no-serve is given it also serves the
read-only viewer over gRPC and Prometheus metrics over HTTP.

The run ends when every target request has completed or failed, after
--frames frames, or on interrupt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return run(ctx, cmd, opts, ro)
		},
	}
	cmd.Flags().IntVar(&ro.frames, "frames", 0, "Stop after this many frames (0 runs until finished)")
	cmd.Flags().IntVar(&ro.hudEvery, "hud-every", 1, "Print the HUD every N ticks (0 disables it)")
	cmd.Flags().BoolVar(&ro.serve, "serve", true, "Serve the gRPC viewer and /metrics")
	return cmd
}

func run(ctx context.Context, cmd *cobra.Command, opts *options, ro *runOptions) error {
	log := opts.log
	cfg := opts.cfg
	out := cmd.OutOrStdout()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, cmd.ErrOrStderr(), log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	simMetrics, err := observability.NewSimCollector(reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	schedMetrics, err := observability.NewSchedulerCollector(reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	sess, err := engine.NewSession(cfg, log,
		engine.WithSimMetrics(simMetrics),
		engine.WithSchedulerMetrics(schedMetrics),
	)
	if err != nil {
		return err
	}

	sc, err := opts.loadScenario()
	if err != nil {
		return err
	}
	if sc != nil {
		if _, err := sess.ApplyScenario(ctx, sc); err != nil {
			return err
		}
	}

	onFrame := func(rep engine.FrameReport) {
		if ro.hudEvery > 0 && rep.Ticked && rep.Tick.Tick%uint64(ro.hudEvery) == 0 {
			renderHUD(out, sess.Snapshot())
		}
	}

	sess.StartSimulation(ctx)
	fmt.Fprintf(out, "Starting session %s: budget=%d target=%d mode=%s\n",
		sess.ID(), cfg.Session.Budget, cfg.Session.TargetRequests, cfg.Clock.Mode)

	g, gctx := errgroup.WithContext(ctx)

	if ro.serve && cfg.Server.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.Server.MetricsAddr, simMetrics, log) })
	}
	if ro.serve && cfg.Server.GRPCAddr != "" {
		g.Go(func() error { return serveViewer(gctx, cfg.Server.GRPCAddr, sess, simMetrics, log) })
	}
	g.Go(func() error { return drive(gctx, sess, ro.frames, onFrame) })

	err = g.Wait()
	renderSummary(out, sess.Counters())
	if errors.Is(err, errFinished) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// drive runs frames until the session finishes, the frame budget is
// spent, or ctx is cancelled. It always returns a non-nil error so the
// group unwinds the servers.
func drive(ctx context.Context, sess *engine.Session, frames int, onFrame func(engine.FrameReport)) error {
	n := 0
	err := sess.RunUntil(ctx, func(rep engine.FrameReport) bool {
		onFrame(rep)
		n++
		return sess.Counters().Finished() || (frames > 0 && n >= frames)
	})
	if err != nil {
		return err
	}
	return errFinished
}

func serveMetrics(ctx context.Context, addr string, collector *observability.SimCollector, log logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info(ctx, "serving Prometheus metrics", logging.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func serveViewer(ctx context.Context, addr string, sess *engine.Session, collector *observability.SimCollector, log logging.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("viewer listen %s: %w", addr, err)
	}
	server := viewer.NewGRPCServer(sess, log, collector)

	go func() {
		<-ctx.Done()
		server.GracefulStop()
	}()

	log.Info(ctx, "serving viewer gRPC", logging.String("addr", lis.Addr().String()))
	if err := server.Serve(lis); err != nil {
		return fmt.Errorf("viewer server: %w", err)
	}
	return nil
}
