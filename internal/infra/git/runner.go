package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"ferry/internal/infra/external/subprocess"
)

const (
	defaultBinary  = "git"
	DefaultTimeout = 60 * time.Second
)

// CommandRunner runs git in dir and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// CommandError reports a git invocation that exited non-zero or timed out.
type CommandError struct {
	Args     []string
	Output   string
	TimedOut bool
	Err      error
}

func (e *CommandError) Error() string {
	output := strings.TrimSpace(e.Output)
	if e.TimedOut {
		return fmt.Sprintf("git %s timed out", strings.Join(e.Args, " "))
	}
	if output == "" {
		return fmt.Sprintf("git %s failed: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("git %s failed: %s", strings.Join(e.Args, " "), output)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExecRunner shells out to the git binary with a non-interactive environment.
type ExecRunner struct {
	Binary  string
	Timeout time.Duration
}

func NewExecRunner(binary string, timeout time.Duration) *ExecRunner {
	if strings.TrimSpace(binary) == "" {
		binary = defaultBinary
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ExecRunner{Binary: binary, Timeout: timeout}
}

func (r *ExecRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	binary := r.Binary
	if binary == "" {
		binary = defaultBinary
	}
	cmd := exec.CommandContext(runCtx, binary, args...)
	cmd.Dir = dir
	cmd.Env = subprocess.MergeEnv(os.Environ(), nonInteractiveEnv)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := out.String()
	if err == nil {
		return output, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return output, ctxErr
	}
	return output, &CommandError{
		Args:     args,
		Output:   output,
		TimedOut: errors.Is(runCtx.Err(), context.DeadlineExceeded),
		Err:      err,
	}
}

// Output is parsed as English text, so the locale is pinned.
var nonInteractiveEnv = map[string]string{
	"GIT_TERMINAL_PROMPT": "0",
	"GIT_PAGER":           "cat",
	"GIT_SSH_COMMAND":     "ssh -oBatchMode=yes",
	"GIT_MERGE_AUTOEDIT":  "no",
	"NO_COLOR":            "1",
	"LC_ALL":              "C",
}
