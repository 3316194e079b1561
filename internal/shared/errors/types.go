package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared by the agent, pipeline and remote layers. Callers
// match them with errors.Is.
var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrAgentNotInstalled    = errors.New("agent executable not installed")
	ErrAgentTimeout         = errors.New("agent timed out")
	ErrAgentExecutionFailed = errors.New("agent execution failed")
	ErrUnknownAgent         = errors.New("unknown agent")
	ErrPullConflict         = errors.New("pull produced merge conflicts")
	ErrRemoteUnreachable    = errors.New("remote unreachable")
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// AgentExecutionError carries the exit status of a failed agent process.
type AgentExecutionError struct {
	Agent    string
	ExitCode int
	Output   string
}

func (e *AgentExecutionError) Error() string {
	output := strings.TrimSpace(e.Output)
	if output == "" {
		return fmt.Sprintf("%s exited with code %d", e.Agent, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Agent, e.ExitCode, truncate(output, 400))
}

// Unwrap lets errors.Is(err, ErrAgentExecutionFailed) match.
func (e *AgentExecutionError) Unwrap() error {
	return ErrAgentExecutionFailed
}

// InvalidArgument wraps ErrInvalidArgument with a formatted detail.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// UnknownAgent wraps ErrUnknownAgent with the offending name.
func UnknownAgent(name string) error {
	return fmt.Errorf("%w: %q", ErrUnknownAgent, name)
}

// Kind returns a stable label for err, used as a log field and metric
// attribute.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrUnknownAgent):
		return "unknown_agent"
	case errors.Is(err, ErrAgentNotInstalled):
		return "agent_not_installed"
	case errors.Is(err, ErrAgentTimeout):
		return "agent_timeout"
	case errors.Is(err, ErrAgentExecutionFailed):
		return "agent_failed"
	case errors.Is(err, ErrPullConflict):
		return "conflict"
	case errors.Is(err, ErrAuthenticationFailed):
		return "auth_failed"
	case errors.Is(err, ErrRemoteUnreachable):
		return "remote_unreachable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// Guidance converts known failures into a one-line actionable hint. It
// returns an empty string when there is nothing useful to add.
func Guidance(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAgentNotInstalled):
		return "Install the agent CLI and make sure it is on PATH, or set agent.claude_binary."
	case errors.Is(err, ErrAgentTimeout):
		return "The agent exceeded agent.timeout. Narrow the instructions or raise the timeout."
	case errors.Is(err, ErrUnknownAgent):
		return "Use one of the supported agents: claude-code, simulated."
	case errors.Is(err, ErrPullConflict):
		return "Resolve the conflicts manually, commit the merge, then run the sync again."
	case errors.Is(err, ErrAuthenticationFailed):
		return "Check your git credentials for this remote (SSH key or credential helper)."
	case errors.Is(err, ErrRemoteUnreachable):
		return "Verify the remote name, branch and network connectivity with `git remote -v`."
	case errors.Is(err, ErrInvalidArgument):
		return "Fix the job list and run `ferry jobs validate`."
	default:
		return ""
	}
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if limit <= 0 || len(runes) <= limit {
		return value
	}
	return string(runes[:limit]) + "..."
}
