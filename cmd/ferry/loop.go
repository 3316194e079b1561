package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ferry/internal/app/loop"
	"ferry/internal/observability"
	"ferry/internal/shared/config"
	"ferry/internal/shared/logging"
)

func newLoopCommand(a *app) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "loop",
		Short: "Run the job list repeatedly until interrupted",
		Long: `Run the job list, sleep, and run it again. Failed iterations are reported
and the loop keeps going. The job list is re-read on every iteration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, release, err := a.container()
			if err != nil {
				return err
			}
			defer release()
			err = runLoop(cmd.Context(), a, c, watch)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	flags := cmd.Flags()
	flags.Duration("interval", loop.DefaultInterval, "Delay between iterations")
	flags.Int("max-iterations", 0, "Stop after this many iterations (0 runs until interrupted)")
	flags.Bool("backoff", false, "Grow the delay after failed iterations")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9464")
	flags.BoolVar(&watch, "watch", true, "Start the next iteration early when the job list changes")
	a.bind(flags, config.KeyLoopInterval, "interval")
	a.bind(flags, config.KeyLoopMaxIterations, "max-iterations")
	a.bind(flags, config.KeyLoopFailureBackoff, "backoff")
	a.bind(flags, config.KeyMetricsAddr, "metrics-addr")
	return cmd
}

// runLoop drives the loop alongside the optional metrics server and job list
// watcher. It returns when the loop ends.
func runLoop(ctx context.Context, a *app, c *Container, watch bool) error {
	logger := logging.NewComponentLogger("Loop")
	rt := c.Runtime

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, groupCtx := errgroup.WithContext(loopCtx)

	opts := []loop.Option{
		loop.WithMetrics(c.Metrics),
		loop.WithTracer(c.Tracer),
		loop.WithLogger(logger),
		loop.WithObserver(func(result loop.IterationResult) { printIteration(a.stdout, result) }),
	}
	if watch {
		watcher, err := config.NewJobsWatcher(rt.JobsFile, config.WithWatchLogger(logger))
		if err != nil {
			return err
		}
		if err := watcher.Start(groupCtx); err != nil {
			logger.Warn("Job list watcher unavailable: %v", err)
		} else {
			defer watcher.Stop()
			opts = append(opts, loop.WithWake(watcher.Updates()))
		}
	}

	driver, err := loop.New(c.LoadJobs, c.Pipeline, loop.Config{
		Interval:       rt.Loop.Interval,
		FailureBackoff: rt.Loop.FailureBackoff,
		MaxInterval:    rt.Loop.MaxInterval,
		MaxIterations:  rt.Loop.MaxIterations,
	}, opts...)
	if err != nil {
		return err
	}

	group.Go(func() error {
		defer cancel()
		return driver.Run(groupCtx)
	})
	if c.MetricsHandler != nil {
		group.Go(func() error {
			return observability.Serve(groupCtx, rt.Metrics.Addr, c.MetricsHandler, logger)
		})
	}
	return group.Wait()
}
