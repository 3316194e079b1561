package external

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ferry/internal/domain/agent"
	"ferry/internal/infra/external/claudecode"
	"ferry/internal/infra/external/simulated"
	ferryerrors "ferry/internal/shared/errors"
	"ferry/internal/shared/logging"
)

// RegistryConfig carries the per-agent settings used to build the registry.
type RegistryConfig struct {
	ClaudeCode     claudecode.Config
	SimulatedDelay time.Duration
}

// Registry routes agent requests to the executor for the requested kind.
// It is built once at startup and never modified afterwards.
type Registry struct {
	executors map[agent.Kind]agent.Executor
	logger    logging.Logger
}

// NewRegistry constructs a registry holding every supported agent kind.
func NewRegistry(cfg RegistryConfig, logger logging.Logger) *Registry {
	logger = logging.OrNop(logger)
	return NewRegistryWith(map[agent.Kind]agent.Executor{
		agent.KindClaudeCode: claudecode.New(cfg.ClaudeCode, logging.NewComponentLogger("ClaudeCodeExecutor")),
		agent.KindSimulated:  simulated.New(cfg.SimulatedDelay, logging.NewComponentLogger("SimulatedExecutor")),
	}, logger)
}

// NewRegistryWith builds a registry from explicit executors. Entries with an
// unsupported kind or a nil executor are ignored.
func NewRegistryWith(executors map[agent.Kind]agent.Executor, logger logging.Logger) *Registry {
	registry := &Registry{
		executors: make(map[agent.Kind]agent.Executor, len(executors)),
		logger:    logging.OrNop(logger),
	}
	for kind, exec := range executors {
		if !kind.Valid() || exec == nil {
			registry.logger.Warn("Ignoring executor for unsupported agent kind %q", kind)
			continue
		}
		registry.executors[kind] = exec
	}
	return registry
}

// Resolve returns the executor for kind, or ErrUnknownAgent.
func (r *Registry) Resolve(kind agent.Kind) (agent.Executor, error) {
	if kind == "" {
		return nil, fmt.Errorf("%w: agent kind is required", ferryerrors.ErrUnknownAgent)
	}
	exec, ok := r.executors[kind]
	if !ok {
		return nil, ferryerrors.UnknownAgent(string(kind))
	}
	return exec, nil
}

// Execute resolves kind and runs req. No process is spawned for an unknown
// kind.
func (r *Registry) Execute(ctx context.Context, kind agent.Kind, req agent.Request) (agent.Result, error) {
	exec, err := r.Resolve(kind)
	if err != nil {
		return agent.Result{}, err
	}
	return exec.Execute(ctx, req)
}

// SupportedTypes lists the registered kinds in sorted order.
func (r *Registry) SupportedTypes() []agent.Kind {
	out := make([]agent.Kind, 0, len(r.executors))
	for key := range r.executors {
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
