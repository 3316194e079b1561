package claudecode

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"ferry/internal/domain/agent"
	"ferry/internal/infra/external/subprocess"
	ferryerrors "ferry/internal/shared/errors"
	"ferry/internal/shared/logging"
	id "ferry/internal/utils/id"
)

const (
	defaultBinary  = "claude"
	defaultTimeout = 5 * time.Minute
)

// Config configures the Claude Code executor.
type Config struct {
	BinaryPath string
	// ExtraArgs are inserted after the fixed flags, before the prompt.
	ExtraArgs []string
	Timeout   time.Duration
	Env       map[string]string
}

// Executor runs the Claude Code CLI in print mode, one process per request.
type Executor struct {
	cfg               Config
	logger            logging.Logger
	lookPath          func(string) (string, error)
	subprocessFactory func(subprocess.Config) subprocessRunner
}

type subprocessRunner interface {
	Start(ctx context.Context) error
	Wait() error
	Stop() error
	Stdout() string
	StderrTail() string
	TimedOut() bool
}

type exitCoder interface {
	ExitCode() int
}

func New(cfg Config, logger logging.Logger) *Executor {
	if strings.TrimSpace(cfg.BinaryPath) == "" {
		cfg.BinaryPath = defaultBinary
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("ClaudeCodeExecutor")
	}
	return &Executor{
		cfg:               cfg,
		logger:            logger,
		lookPath:          exec.LookPath,
		subprocessFactory: func(cfg subprocess.Config) subprocessRunner { return subprocess.New(cfg) },
	}
}

func (e *Executor) Name() string {
	return string(agent.KindClaudeCode)
}

// Execute spawns the agent in req.WorkingDir and waits for it to exit.
func (e *Executor) Execute(ctx context.Context, req agent.Request) (agent.Result, error) {
	if err := req.Validate(); err != nil {
		return agent.Result{}, err
	}
	binary, err := e.lookPath(e.cfg.BinaryPath)
	if err != nil {
		return agent.Result{}, fmt.Errorf("%w: %s: %v", ferryerrors.ErrAgentNotInstalled, e.cfg.BinaryPath, err)
	}

	// The prompt goes through stdin. A plan-sized prompt exceeds the
	// per-argument size limit of exec.
	args := []string{"-p", "--dangerously-skip-permissions", "--output-format", "text"}
	args = append(args, e.cfg.ExtraArgs...)

	proc := e.subprocessFactory(subprocess.Config{
		Command:    binary,
		Args:       args,
		Env:        cloneStringMap(e.cfg.Env),
		WorkingDir: req.WorkingDir,
		Stdin:      strings.NewReader(req.Instructions),
		Timeout:    e.cfg.Timeout,
	})

	e.logger.Info("Starting %s in %s (run=%s)", e.Name(), req.WorkingDir, id.RunIDFromContext(ctx))
	started := time.Now()
	if err := proc.Start(ctx); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return agent.Result{}, fmt.Errorf("%w: %v", ferryerrors.ErrAgentNotInstalled, err)
		}
		return agent.Result{}, err
	}
	defer func() { _ = proc.Stop() }()

	waitErr := proc.Wait()
	elapsed := time.Since(started)

	if waitErr != nil {
		switch {
		case proc.TimedOut() || errors.Is(ctx.Err(), context.DeadlineExceeded):
			return agent.Result{}, fmt.Errorf("%w after %s", ferryerrors.ErrAgentTimeout, elapsed.Round(time.Millisecond))
		case ctx.Err() != nil:
			return agent.Result{}, ctx.Err()
		}
		var coder exitCoder
		if errors.As(waitErr, &coder) {
			output := strings.TrimSpace(proc.StderrTail())
			if output == "" {
				output = strings.TrimSpace(proc.Stdout())
			}
			return agent.Result{}, &ferryerrors.AgentExecutionError{
				Agent:    e.Name(),
				ExitCode: coder.ExitCode(),
				Output:   output,
			}
		}
		return agent.Result{}, fmt.Errorf("%s: %w", e.Name(), waitErr)
	}

	e.logger.Info("%s finished in %s", e.Name(), elapsed.Round(time.Millisecond))
	return agent.Result{
		AgentName: e.Name(),
		Output:    proc.Stdout(),
		Duration:  elapsed,
	}, nil
}

func cloneStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
