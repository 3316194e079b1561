package loop

import (
	"context"
	"fmt"
	"time"

	"ferry/internal/app/pipeline"
	"ferry/internal/domain/job"
	"ferry/internal/observability"
	ferryerrors "ferry/internal/shared/errors"
	"ferry/internal/shared/logging"
	id "ferry/internal/utils/id"
	backoff "github.com/cenkalti/backoff/v4"
)

const (
	DefaultInterval    = 10 * time.Second
	DefaultMaxInterval = 5 * time.Minute
)

// JobLoader returns the job list for one iteration. It is called at the start
// of every iteration so edits to the job file take effect without a restart.
type JobLoader func() (job.List, error)

// BatchRunner executes one ordered batch of jobs.
type BatchRunner interface {
	RunBatch(ctx context.Context, jobs job.List) pipeline.BatchReport
}

// Config controls iteration pacing.
type Config struct {
	Interval time.Duration
	// FailureBackoff grows the delay after failed iterations, up to
	// MaxInterval. A successful iteration resets it.
	FailureBackoff bool
	MaxInterval    time.Duration
	// MaxIterations stops the loop after that many iterations; 0 means run
	// until cancelled.
	MaxIterations int
}

// IterationResult records one pass of the loop.
type IterationResult struct {
	Index     int
	ID        string
	StartedAt time.Time
	Duration  time.Duration
	Jobs      int
	Report    pipeline.BatchReport
	Err       error
}

func (r IterationResult) Succeeded() bool {
	return r.Err == nil
}

type Option func(*Driver)

// WithWake supplies a channel that cuts the current sleep short.
func WithWake(wake <-chan struct{}) Option {
	return func(d *Driver) {
		d.wake = wake
	}
}

// WithObserver registers a callback invoked after every iteration.
func WithObserver(observer func(IterationResult)) Option {
	return func(d *Driver) {
		d.observer = observer
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(d *Driver) {
		d.metrics = metrics
	}
}

func WithTracer(tracer *observability.TracerProvider) Option {
	return func(d *Driver) {
		d.tracer = tracer
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(d *Driver) {
		if !logging.IsNil(logger) {
			d.logger = logger
		}
	}
}

// WithBackOff overrides the failure backoff policy.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(d *Driver) {
		if factory != nil {
			d.buildBackOff = factory
		}
	}
}

// Driver re-runs the job batch forever. Failed iterations are logged and the
// loop continues; only cancellation ends it.
type Driver struct {
	loader       JobLoader
	runner       BatchRunner
	cfg          Config
	wake         <-chan struct{}
	observer     func(IterationResult)
	metrics      *observability.Metrics
	tracer       *observability.TracerProvider
	logger       logging.Logger
	buildBackOff func() backoff.BackOff
	delays       backoff.BackOff
}

func New(loader JobLoader, runner BatchRunner, cfg Config, opts ...Option) (*Driver, error) {
	if loader == nil {
		return nil, ferryerrors.InvalidArgument("job loader is required")
	}
	if runner == nil {
		return nil, ferryerrors.InvalidArgument("batch runner is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxInterval < cfg.Interval {
		cfg.MaxInterval = max(DefaultMaxInterval, cfg.Interval)
	}
	if cfg.MaxIterations < 0 {
		return nil, ferryerrors.InvalidArgument("max iterations must not be negative")
	}
	d := &Driver{
		loader: loader,
		runner: runner,
		cfg:    cfg,
		logger: logging.NewComponentLogger("LoopDriver"),
	}
	d.buildBackOff = d.defaultBackOff
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if cfg.FailureBackoff {
		d.delays = d.buildBackOff()
	}
	return d, nil
}

func (d *Driver) defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.Interval
	b.MaxInterval = d.cfg.MaxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run iterates until ctx is cancelled or MaxIterations is reached. It returns
// ctx.Err() on cancellation and nil when the iteration cap stops it.
func (d *Driver) Run(ctx context.Context) error {
	d.logger.Info("Loop started (interval=%s, backoff=%t)", d.cfg.Interval, d.cfg.FailureBackoff)
	for index := 1; ; index++ {
		if err := ctx.Err(); err != nil {
			d.logger.Info("Loop stopped after %d iteration(s)", index-1)
			return err
		}

		result := d.iterate(ctx, index)
		if d.observer != nil {
			d.observer(result)
		}

		if d.cfg.MaxIterations > 0 && index >= d.cfg.MaxIterations {
			d.logger.Info("Loop reached max iterations (%d)", d.cfg.MaxIterations)
			return nil
		}
		if err := d.sleep(ctx, d.nextDelay(result)); err != nil {
			d.logger.Info("Loop stopped after %d iteration(s)", index)
			return err
		}
	}
}

func (d *Driver) iterate(ctx context.Context, index int) (result IterationResult) {
	result = IterationResult{
		Index:     index,
		ID:        id.NewIterationID(),
		StartedAt: time.Now(),
	}
	ctx = id.WithIterationID(ctx, result.ID)
	ctx, span := d.tracer.StartSpan(ctx, observability.SpanLoopIteration, observability.IterationAttrs(index)...)

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("iteration %d panicked: %v", index, r)
		}
		result.Duration = time.Since(result.StartedAt)
		observability.EndSpan(span, result.Err)
		d.report(ctx, result)
	}()

	jobs, err := d.loader()
	if err != nil {
		result.Err = fmt.Errorf("load jobs: %w", err)
		return result
	}
	result.Jobs = len(jobs)
	result.Report = d.runner.RunBatch(ctx, jobs)
	result.Err = result.Report.Err
	return result
}

func (d *Driver) report(ctx context.Context, result IterationResult) {
	d.metrics.RecordIteration(ctx, ferryerrors.Kind(result.Err))
	if result.Err == nil {
		d.logger.Info("Iteration %d (%s): %s in %s", result.Index, result.ID, result.Report.Summary(), result.Duration.Round(time.Millisecond))
		return
	}
	d.logger.Error("Iteration %d (%s) failed: %s: %v", result.Index, result.ID, result.Report.Summary(), result.Err)
	if hint := ferryerrors.Guidance(result.Err); hint != "" {
		d.logger.Warn("%s", hint)
	}
}

func (d *Driver) nextDelay(result IterationResult) time.Duration {
	if d.delays == nil {
		return d.cfg.Interval
	}
	if result.Succeeded() {
		d.delays.Reset()
		return d.cfg.Interval
	}
	delay := d.delays.NextBackOff()
	if delay == backoff.Stop {
		return d.cfg.MaxInterval
	}
	return delay
}

func (d *Driver) sleep(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.wake:
		d.logger.Info("Job list changed, starting next iteration early")
		return nil
	case <-timer.C:
		return nil
	}
}
