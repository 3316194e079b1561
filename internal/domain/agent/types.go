// Package agent defines the contract between the sync pipeline and the
// coding agents that perform the actual migration work.
package agent

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	ferryerrors "ferry/internal/shared/errors"
)

// Kind identifies an agent implementation. The set is closed.
type Kind string

const (
	// KindClaudeCode runs the Claude Code CLI as a subprocess.
	KindClaudeCode Kind = "claude-code"
	// KindSimulated is a placeholder that waits and returns canned output.
	KindSimulated Kind = "simulated"
)

// Kinds lists every supported agent kind in display order.
func Kinds() []Kind {
	return []Kind{KindClaudeCode, KindSimulated}
}

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindClaudeCode, KindSimulated:
		return true
	default:
		return false
	}
}

// ParseKind normalizes a configured agent name. Empty input selects
// KindClaudeCode.
func ParseKind(raw string) (Kind, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	switch normalized {
	case "":
		return KindClaudeCode, nil
	case "claude_code", "claude":
		return KindClaudeCode, nil
	}
	kind := Kind(normalized)
	if !kind.Valid() {
		return "", ferryerrors.UnknownAgent(raw)
	}
	return kind, nil
}

// Request is a single unit of work handed to an agent.
type Request struct {
	Instructions string
	// WorkingDir is the absolute directory the agent operates in.
	WorkingDir string
}

// Validate checks the preconditions every executor relies on.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Instructions) == "" {
		return ferryerrors.InvalidArgument("agent instructions are empty")
	}
	if strings.TrimSpace(r.WorkingDir) == "" {
		return ferryerrors.InvalidArgument("agent working directory is empty")
	}
	if !filepath.IsAbs(r.WorkingDir) {
		return ferryerrors.InvalidArgument("agent working directory %q is not absolute", r.WorkingDir)
	}
	return nil
}

// Result is what an agent produced. Executors keep no reference to it.
type Result struct {
	AgentName string
	Output    string
	Duration  time.Duration
}

// DurationMS reports the execution time in whole milliseconds.
func (r Result) DurationMS() int64 {
	return r.Duration.Milliseconds()
}

// Executor runs a Request to completion. Implementations are stateless
// between calls and must honour ctx cancellation.
type Executor interface {
	Name() string
	Execute(ctx context.Context, req Request) (Result, error)
}
