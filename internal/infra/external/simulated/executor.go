// Package simulated provides a stand-in agent for dry runs and tests. It
// never touches the working directory.
package simulated

import (
	"context"
	"fmt"
	"time"

	"ferry/internal/domain/agent"
	"ferry/internal/shared/logging"
)

const (
	defaultDelay   = 2 * time.Second
	previewLimit   = 200
	simulatedReply = "Simulated agent completed the requested work. No files were changed."
)

// Executor waits for a fixed delay and returns canned output.
type Executor struct {
	delay  time.Duration
	logger logging.Logger
}

// New returns a simulated executor. A non-positive delay selects the default.
func New(delay time.Duration, logger logging.Logger) *Executor {
	if delay <= 0 {
		delay = defaultDelay
	}
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("SimulatedExecutor")
	}
	return &Executor{delay: delay, logger: logger}
}

func (e *Executor) Name() string {
	return string(agent.KindSimulated)
}

func (e *Executor) Execute(ctx context.Context, req agent.Request) (agent.Result, error) {
	if err := req.Validate(); err != nil {
		return agent.Result{}, err
	}
	e.logger.Info("Simulating agent in %s: %s", req.WorkingDir, truncate(req.Instructions, previewLimit))

	started := time.Now()
	timer := time.NewTimer(e.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return agent.Result{}, ctx.Err()
	case <-timer.C:
	}

	return agent.Result{
		AgentName: e.Name(),
		Output:    fmt.Sprintf("%s (%d characters of instructions)", simulatedReply, len([]rune(req.Instructions))),
		Duration:  time.Since(started),
	}, nil
}

func truncate(input string, limit int) string {
	runes := []rune(input)
	if limit <= 0 || len(runes) <= limit {
		return input
	}
	return string(runes[:limit]) + "..."
}
