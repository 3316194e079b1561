package main

import (
	"context"
	"net/http"
	"time"

	"ferry/internal/app/pipeline"
	"ferry/internal/domain/job"
	"ferry/internal/infra/external"
	"ferry/internal/infra/external/claudecode"
	"ferry/internal/infra/git"
	"ferry/internal/observability"
	"ferry/internal/shared/config"
	"ferry/internal/shared/logging"
	id "ferry/internal/utils/id"
)

// Container holds the services a command needs, built from runtime settings.
type Container struct {
	Runtime        config.Runtime
	Registry       *external.Registry
	Pipeline       *pipeline.Pipeline
	Inspector      *git.Inspector
	Remote         *git.Remote
	Metrics        *observability.Metrics
	MetricsHandler http.Handler
	Tracer         *observability.TracerProvider
}

func buildContainer(rt config.Runtime) (*Container, error) {
	container := &Container{Runtime: rt}

	strategy, err := id.ParseStrategy(rt.IDStrategy)
	if err != nil {
		return nil, err
	}
	id.SetStrategy(strategy)

	if rt.Metrics.Addr != "" {
		metrics, handler, err := observability.NewPrometheusMetrics()
		if err != nil {
			return nil, err
		}
		container.Metrics = metrics
		container.MetricsHandler = handler
	}

	tracer, err := observability.NewTracerProvider(observability.TracingConfig{
		Enabled:        rt.Tracing.Enabled,
		Exporter:       rt.Tracing.Exporter,
		OTLPEndpoint:   rt.Tracing.OTLPEndpoint,
		ZipkinEndpoint: rt.Tracing.ZipkinEndpoint,
		SampleRate:     rt.Tracing.SampleRate,
		ServiceVersion: version,
	})
	if err != nil {
		return nil, err
	}
	container.Tracer = tracer

	container.Registry = external.NewRegistry(external.RegistryConfig{
		ClaudeCode: claudecode.Config{
			BinaryPath: rt.Agent.ClaudeBinary,
			ExtraArgs:  rt.Agent.ClaudeArgs,
			Timeout:    rt.Agent.Timeout,
		},
		SimulatedDelay: rt.Agent.SimulatedDelay,
	}, logging.NewComponentLogger("AgentRegistry"))

	scratch, err := pipeline.NewScratch(rt.ScratchDir)
	if err != nil {
		return nil, err
	}
	container.Pipeline, err = pipeline.New(scratch, container.Registry,
		pipeline.WithPlanFile(rt.PlanFile),
		pipeline.WithMetrics(container.Metrics),
		pipeline.WithTracer(container.Tracer),
		pipeline.WithLogger(logging.NewComponentLogger("Pipeline")),
	)
	if err != nil {
		return nil, err
	}

	container.Inspector = git.NewInspector(logging.NewComponentLogger("GitInspector"))
	container.Remote = git.NewRemote(git.NewExecRunner(rt.Git.Binary, rt.Git.Timeout), logging.NewComponentLogger("GitRemote"))
	return container, nil
}

// Cleanup flushes pending spans.
func (c *Container) Cleanup() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.Tracer.Shutdown(ctx)
}

// LoadJobs reads the job list named by the runtime settings. It is called
// again on every loop iteration.
func (c *Container) LoadJobs() (job.List, error) {
	return config.LoadJobList(c.Runtime.JobsFile)
}
