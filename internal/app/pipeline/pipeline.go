// Package pipeline executes sync jobs stage by stage: it writes the prompt
// artifacts to the scratch directory and hands the migration prompt to the
// job's agent.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"ferry/internal/app/prompts"
	"ferry/internal/domain/agent"
	"ferry/internal/domain/job"
	"ferry/internal/infra/filestore"
	"ferry/internal/observability"
	ferryerrors "ferry/internal/shared/errors"
	"ferry/internal/shared/logging"
	id "ferry/internal/utils/id"
)

// DefaultPlanFile is looked up in the target repository.
const DefaultPlanFile = "IMPLEMENTATION_PLAN.md"

// AgentRunner dispatches a request to the executor registered for kind.
type AgentRunner interface {
	Execute(ctx context.Context, kind agent.Kind, req agent.Request) (agent.Result, error)
}

// Pipeline runs jobs one at a time. It never retries.
type Pipeline struct {
	scratch  *Scratch
	agents   AgentRunner
	planFile string
	metrics  *observability.Metrics
	tracer   *observability.TracerProvider
	logger   logging.Logger
	now      func() time.Time
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithPlanFile overrides the implementation plan file name, relative to the
// target repository unless absolute.
func WithPlanFile(name string) Option {
	return func(p *Pipeline) {
		if strings.TrimSpace(name) != "" {
			p.planFile = strings.TrimSpace(name)
		}
	}
}

// WithMetrics records run and stage metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = metrics
	}
}

// WithTracer emits a span per run and per stage.
func WithTracer(tracer *observability.TracerProvider) Option {
	return func(p *Pipeline) {
		p.tracer = tracer
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(logger logging.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logging.OrNop(logger)
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// New builds a pipeline around an explicit scratch handle.
func New(scratch *Scratch, agents AgentRunner, opts ...Option) (*Pipeline, error) {
	if scratch == nil {
		return nil, ferryerrors.InvalidArgument("scratch directory is required")
	}
	if agents == nil {
		return nil, ferryerrors.InvalidArgument("agent runner is required")
	}
	p := &Pipeline{
		scratch:  scratch,
		agents:   agents,
		planFile: DefaultPlanFile,
		logger:   logging.NewComponentLogger("Pipeline"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Scratch returns the scratch handle the pipeline writes to.
func (p *Pipeline) Scratch() *Scratch {
	return p.scratch
}

// Run executes one job. The returned Run is always non-nil; the error is a
// *StageError naming the stage that failed.
func (p *Pipeline) Run(ctx context.Context, j job.SyncJob) (*Run, error) {
	run := &Run{
		ID:        id.NewRunID(),
		Job:       j,
		Stage:     StageInit,
		StartedAt: p.now(),
	}
	ctx = id.WithRunID(ctx, run.ID)
	ctx, span := p.tracer.StartSpan(ctx, observability.SpanPipelineRun, observability.JobAttrs(j.DisplayName(), string(j.Agent))...)
	p.logger.Info("Starting job %s (run=%s, agent=%s)", j.DisplayName(), run.ID, j.Agent)

	stages := []struct {
		stage Stage
		fn    func(context.Context, *Run) error
	}{
		{StageInit, p.init},
		{StageSourceAnalysisWritten, p.writeSourceAnalysis},
		{StageTargetAnalysisWritten, p.writeTargetAnalysis},
		{StageMigrationPromptWritten, p.writeMigrationPrompt},
		{StageAgentInvoked, p.invokeAgent},
	}
	for _, step := range stages {
		if err := p.step(ctx, run, step.stage, step.fn); err != nil {
			stageErr := p.fail(ctx, run, step.stage, err)
			observability.EndSpan(span, stageErr)
			return run, stageErr
		}
	}

	run.Stage = StageDone
	run.FinishedAt = p.now()
	p.metrics.RecordPipelineRun(ctx, string(j.Agent), "success")
	observability.EndSpan(span, nil)
	p.logger.Info("Job %s done in %s (run=%s)", j.DisplayName(), run.Duration().Round(time.Millisecond), run.ID)
	return run, nil
}

func (p *Pipeline) step(ctx context.Context, run *Run, stage Stage, fn func(context.Context, *Run) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, span := p.tracer.StartSpan(ctx, observability.SpanPipelineStage, observability.StageAttrs(string(stage))...)
	started := time.Now()
	err := fn(ctx, run)
	p.metrics.RecordStage(ctx, string(stage), time.Since(started))
	observability.EndSpan(span, err)
	if err != nil {
		return err
	}
	run.Stage = stage
	p.logger.Debug("Job %s reached %s", run.Job.DisplayName(), stage)
	return nil
}

func (p *Pipeline) fail(ctx context.Context, run *Run, stage Stage, err error) error {
	stageErr := &StageError{Stage: stage, Job: run.Job.DisplayName(), Err: err}
	run.Err = stageErr
	run.FinishedAt = p.now()
	p.metrics.RecordPipelineRun(ctx, string(run.Job.Agent), ferryerrors.Kind(err))
	p.logger.Error("Job %s failed at %s (run=%s): %v", run.Job.DisplayName(), stage, run.ID, err)
	return stageErr
}

func (p *Pipeline) init(_ context.Context, run *Run) error {
	if err := run.Job.Validate(); err != nil {
		return err
	}
	if isWithin(run.Job.SourcePath, p.scratch.Dir()) {
		p.logger.Warn("Scratch directory %s lies inside the source repository %s of job %s; prompts will be written into the source tree, set scratch_dir elsewhere",
			p.scratch.Dir(), run.Job.SourcePath, run.Job.DisplayName())
	}
	return p.scratch.Ensure()
}

// isWithin reports whether path equals root or lies below it.
func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func (p *Pipeline) writeSourceAnalysis(_ context.Context, run *Run) error {
	content := prompts.SourceAnalysis(prompts.SourceContext{
		SourcePath: run.Job.SourcePath,
		ReportPath: p.scratch.Path(SourceReportFile),
	})
	path, err := p.scratch.Write(SourceAnalysisPromptFile, content)
	if err != nil {
		return err
	}
	run.Artifacts.SourceAnalysisPrompt = path
	return nil
}

func (p *Pipeline) writeTargetAnalysis(_ context.Context, run *Run) error {
	content := prompts.TargetAnalysis(prompts.TargetContext{
		TargetRepo: run.Job.TargetRepo,
		ReportPath: p.scratch.Path(TargetReportFile),
	})
	path, err := p.scratch.Write(TargetAnalysisPromptFile, content)
	if err != nil {
		return err
	}
	run.Artifacts.TargetAnalysisPrompt = path
	return nil
}

func (p *Pipeline) writeMigrationPrompt(_ context.Context, run *Run) error {
	planPath := p.planPath(run.Job)
	plan, err := filestore.ReadFileOrEmpty(planPath)
	if err != nil {
		return fmt.Errorf("read implementation plan: %w", err)
	}
	content := prompts.Migration(prompts.MigrationContext{
		SourceRepo:         run.Job.SourcePath,
		TargetRepo:         run.Job.TargetRepo,
		Instructions:       run.Job.Instructions,
		ImplementationPlan: string(plan),
		SourceReportPath:   p.scratch.Path(SourceReportFile),
		TargetReportPath:   p.scratch.Path(TargetReportFile),
		SourcePromptPath:   run.Artifacts.SourceAnalysisPrompt,
		TargetPromptPath:   run.Artifacts.TargetAnalysisPrompt,
		MigrationLogPath:   p.scratch.Path(MigrationLogFile),
		PlanPath:           planPath,
	})
	path, err := p.scratch.Write(MigrationPromptFile, content)
	if err != nil {
		return err
	}
	run.Artifacts.MigrationPrompt = path
	return nil
}

func (p *Pipeline) invokeAgent(ctx context.Context, run *Run) error {
	prompt, err := filestore.ReadFileOrEmpty(run.Artifacts.MigrationPrompt)
	if err != nil {
		return fmt.Errorf("read migration prompt: %w", err)
	}
	result, err := p.agents.Execute(ctx, run.Job.Agent, agent.Request{
		Instructions: string(prompt),
		WorkingDir:   run.Job.TargetRepo,
	})
	if err != nil {
		return err
	}
	run.Artifacts.AgentOutput = result.Output
	p.metrics.RecordAgent(ctx, result.AgentName, result.Duration)
	p.logger.Info("Agent %s finished job %s in %dms", result.AgentName, run.Job.DisplayName(), result.DurationMS())
	return nil
}

func (p *Pipeline) planPath(j job.SyncJob) string {
	if filepath.IsAbs(p.planFile) {
		return p.planFile
	}
	return filepath.Join(j.TargetRepo, p.planFile)
}

// RunBatch runs jobs in order and stops at the first failure. The report
// always carries the "N of M jobs completed" tally.
func (p *Pipeline) RunBatch(ctx context.Context, jobs job.List) BatchReport {
	report := BatchReport{Total: len(jobs)}
	for i, j := range jobs {
		if err := ctx.Err(); err != nil {
			report.Err = fmt.Errorf("batch interrupted before job %d of %d: %w", i+1, len(jobs), err)
			break
		}
		run, err := p.Run(ctx, j)
		report.Runs = append(report.Runs, run)
		if err != nil {
			report.Err = err
			break
		}
		report.Completed++
	}
	if report.Err != nil {
		p.logger.Warn("Batch stopped: %s", report.Summary())
	} else {
		p.logger.Info("Batch finished: %s", report.Summary())
	}
	return report
}
