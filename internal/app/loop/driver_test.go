package loop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ferry/internal/app/pipeline"
	"ferry/internal/domain/job"
	ferryerrors "ferry/internal/shared/errors"
	"ferry/internal/shared/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBatchRunner struct {
	mu      sync.Mutex
	batches []job.List
	fail    func(call int) error
	panicOn int
}

func (f *fakeBatchRunner) RunBatch(_ context.Context, jobs job.List) pipeline.BatchReport {
	f.mu.Lock()
	f.batches = append(f.batches, jobs)
	call := len(f.batches)
	f.mu.Unlock()

	if f.panicOn == call {
		panic("runner exploded")
	}
	report := pipeline.BatchReport{Total: len(jobs), Completed: len(jobs)}
	if f.fail != nil {
		if err := f.fail(call); err != nil {
			report.Completed = 0
			report.Err = err
		}
	}
	return report
}

func (f *fakeBatchRunner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func staticLoader(list job.List) JobLoader {
	return func() (job.List, error) { return list, nil }
}

func oneJob() job.List {
	return job.List{{Name: "core", SourcePath: "/src", TargetRepo: "/dst", Instructions: "port"}}
}

func newDriver(t *testing.T, loader JobLoader, runner BatchRunner, cfg Config, opts ...Option) *Driver {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Nop())}, opts...)
	d, err := New(loader, runner, cfg, opts...)
	require.NoError(t, err)
	return d
}

func TestRunContinuesAfterFailures(t *testing.T) {
	runner := &fakeBatchRunner{fail: func(int) error { return errors.New("agent crashed") }}
	var results []IterationResult
	d := newDriver(t, staticLoader(oneJob()), runner, Config{Interval: time.Millisecond, MaxIterations: 3},
		WithObserver(func(r IterationResult) { results = append(results, r) }))

	require.NoError(t, d.Run(context.Background()))

	assert.Equal(t, 3, runner.calls())
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i+1, r.Index)
		assert.NotEmpty(t, r.ID)
		assert.False(t, r.Succeeded())
	}
}

func TestRunContinuesAfterLoaderError(t *testing.T) {
	calls := 0
	loader := func() (job.List, error) {
		calls++
		if calls == 1 {
			return nil, ferryerrors.InvalidArgument("bad yaml")
		}
		return oneJob(), nil
	}
	runner := &fakeBatchRunner{}
	var results []IterationResult
	d := newDriver(t, loader, runner, Config{Interval: time.Millisecond, MaxIterations: 2},
		WithObserver(func(r IterationResult) { results = append(results, r) }))

	require.NoError(t, d.Run(context.Background()))

	require.Len(t, results, 2)
	assert.True(t, errors.Is(results[0].Err, ferryerrors.ErrInvalidArgument))
	assert.True(t, results[1].Succeeded())
	assert.Equal(t, 1, runner.calls())
}

func TestRunRecoversFromPanic(t *testing.T) {
	runner := &fakeBatchRunner{panicOn: 1}
	var results []IterationResult
	d := newDriver(t, staticLoader(oneJob()), runner, Config{Interval: time.Millisecond, MaxIterations: 2},
		WithObserver(func(r IterationResult) { results = append(results, r) }))

	require.NoError(t, d.Run(context.Background()))

	require.Len(t, results, 2)
	assert.ErrorContains(t, results[0].Err, "panicked")
	assert.True(t, results[1].Succeeded())
}

func TestRunReloadsJobsEveryIteration(t *testing.T) {
	lists := []job.List{oneJob(), append(oneJob(), job.SyncJob{Name: "extra"})}
	calls := 0
	loader := func() (job.List, error) {
		list := lists[calls%len(lists)]
		calls++
		return list, nil
	}
	runner := &fakeBatchRunner{}
	d := newDriver(t, loader, runner, Config{Interval: time.Millisecond, MaxIterations: 2})

	require.NoError(t, d.Run(context.Background()))

	assert.Equal(t, 2, calls)
	require.Len(t, runner.batches, 2)
	assert.Len(t, runner.batches[0], 1)
	assert.Len(t, runner.batches[1], 2)
}

func TestCancelDuringSleepStopsPromptly(t *testing.T) {
	runner := &fakeBatchRunner{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := newDriver(t, staticLoader(oneJob()), runner, Config{Interval: 10 * time.Second},
		WithObserver(func(IterationResult) {
			go func() {
				time.Sleep(20 * time.Millisecond)
				cancel()
			}()
		}))

	start := time.Now()
	err := d.Run(ctx)

	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, runner.calls())
}

func TestRunReturnsImmediatelyWhenAlreadyCancelled(t *testing.T) {
	runner := &fakeBatchRunner{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newDriver(t, staticLoader(oneJob()), runner, Config{}).Run(ctx)

	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, runner.calls())
}

func TestWakeInterruptsSleep(t *testing.T) {
	runner := &fakeBatchRunner{}
	wake := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := newDriver(t, staticLoader(oneJob()), runner, Config{Interval: time.Hour},
		WithWake(wake),
		WithObserver(func(r IterationResult) {
			if r.Index == 1 {
				wake <- struct{}{}
				return
			}
			cancel()
		}))

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("wake did not interrupt the sleep")
	}
	assert.Equal(t, 2, runner.calls())
}

func TestFailureBackoffGrowsAndResets(t *testing.T) {
	d := newDriver(t, staticLoader(nil), &fakeBatchRunner{}, Config{
		Interval:       10 * time.Millisecond,
		MaxInterval:    40 * time.Millisecond,
		FailureBackoff: true,
	})
	failed := IterationResult{Err: errors.New("boom")}
	ok := IterationResult{}

	assert.Equal(t, 10*time.Millisecond, d.nextDelay(failed))
	assert.Equal(t, 20*time.Millisecond, d.nextDelay(failed))
	assert.Equal(t, 40*time.Millisecond, d.nextDelay(failed))
	assert.Equal(t, 40*time.Millisecond, d.nextDelay(failed))
	assert.Equal(t, 10*time.Millisecond, d.nextDelay(ok))
	assert.Equal(t, 10*time.Millisecond, d.nextDelay(failed))
}

func TestFixedIntervalWithoutBackoff(t *testing.T) {
	d := newDriver(t, staticLoader(nil), &fakeBatchRunner{}, Config{Interval: 10 * time.Millisecond})
	assert.Equal(t, 10*time.Millisecond, d.nextDelay(IterationResult{Err: errors.New("boom")}))
}

func TestNewValidatesArguments(t *testing.T) {
	_, err := New(nil, &fakeBatchRunner{}, Config{})
	assert.True(t, errors.Is(err, ferryerrors.ErrInvalidArgument))
	_, err = New(staticLoader(nil), nil, Config{})
	assert.True(t, errors.Is(err, ferryerrors.ErrInvalidArgument))
	_, err = New(staticLoader(nil), &fakeBatchRunner{}, Config{MaxIterations: -1})
	assert.True(t, errors.Is(err, ferryerrors.ErrInvalidArgument))

	d, err := New(staticLoader(nil), &fakeBatchRunner{}, Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, d.cfg.Interval)
}
