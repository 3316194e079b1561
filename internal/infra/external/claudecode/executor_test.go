package claudecode

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"ferry/internal/domain/agent"
	"ferry/internal/infra/external/subprocess"
	ferryerrors "ferry/internal/shared/errors"
	"ferry/internal/shared/logging"
)

type fakeRunner struct {
	cfg        subprocess.Config
	stdout     string
	stderrTail string
	waitErr    error
	timedOut   bool
	started    bool
}

func (f *fakeRunner) Start(_ context.Context) error {
	f.started = true
	return nil
}

func (f *fakeRunner) Wait() error        { return f.waitErr }
func (f *fakeRunner) Stop() error        { return nil }
func (f *fakeRunner) Stdout() string     { return f.stdout }
func (f *fakeRunner) StderrTail() string { return f.stderrTail }
func (f *fakeRunner) TimedOut() bool     { return f.timedOut }

type fakeExitError struct{ code int }

func (e fakeExitError) Error() string { return "exit status" }
func (e fakeExitError) ExitCode() int { return e.code }

func newTestExecutor(fake *fakeRunner) *Executor {
	exec := New(Config{Timeout: time.Second}, logging.Nop())
	exec.lookPath = func(name string) (string, error) { return "/usr/local/bin/" + name, nil }
	exec.subprocessFactory = func(cfg subprocess.Config) subprocessRunner {
		fake.cfg = cfg
		return fake
	}
	return exec
}

func TestExecutorPassesPromptAndWorkingDir(t *testing.T) {
	fake := &fakeRunner{stdout: "migrated 3 files\n"}
	exec := newTestExecutor(fake)

	result, err := exec.Execute(context.Background(), agent.Request{
		Instructions: "do the thing",
		WorkingDir:   "/work/target",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AgentName != "claude-code" {
		t.Errorf("AgentName = %q", result.AgentName)
	}
	if result.Output != "migrated 3 files\n" {
		t.Errorf("Output = %q", result.Output)
	}
	if fake.cfg.WorkingDir != "/work/target" {
		t.Errorf("WorkingDir = %q", fake.cfg.WorkingDir)
	}
	if fake.cfg.Command != "/usr/local/bin/claude" {
		t.Errorf("Command = %q", fake.cfg.Command)
	}
	args := strings.Join(fake.cfg.Args, " ")
	if args != "-p --dangerously-skip-permissions --output-format text" {
		t.Errorf("unexpected args %q", args)
	}
	if fake.cfg.Stdin == nil {
		t.Fatal("expected instructions on stdin")
	}
	stdin, err := io.ReadAll(fake.cfg.Stdin)
	if err != nil {
		t.Fatalf("read stdin: %v", err)
	}
	if string(stdin) != "do the thing" {
		t.Errorf("stdin = %q", stdin)
	}
}

func TestExecutorRejectsRelativeWorkingDir(t *testing.T) {
	fake := &fakeRunner{}
	exec := newTestExecutor(fake)

	_, err := exec.Execute(context.Background(), agent.Request{Instructions: "x", WorkingDir: "target"})
	if !errors.Is(err, ferryerrors.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if fake.started {
		t.Fatal("process must not start for invalid input")
	}
}

func TestExecutorNotInstalled(t *testing.T) {
	exec := New(Config{BinaryPath: "definitely-not-a-real-agent-binary"}, logging.Nop())
	_, err := exec.Execute(context.Background(), agent.Request{Instructions: "x", WorkingDir: t.TempDir()})
	if !errors.Is(err, ferryerrors.ErrAgentNotInstalled) {
		t.Fatalf("expected ErrAgentNotInstalled, got %v", err)
	}
}

func TestExecutorExitErrorPrefersStderr(t *testing.T) {
	fake := &fakeRunner{stdout: "partial", stderrTail: "not logged in", waitErr: fakeExitError{code: 1}}
	exec := newTestExecutor(fake)

	_, err := exec.Execute(context.Background(), agent.Request{Instructions: "x", WorkingDir: "/work"})
	var execErr *ferryerrors.AgentExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected AgentExecutionError, got %v", err)
	}
	if execErr.ExitCode != 1 || execErr.Output != "not logged in" {
		t.Fatalf("unexpected error fields: %+v", execErr)
	}
	if !errors.Is(err, ferryerrors.ErrAgentExecutionFailed) {
		t.Fatal("expected ErrAgentExecutionFailed")
	}
}

func TestExecutorExitErrorFallsBackToStdout(t *testing.T) {
	fake := &fakeRunner{stdout: "usage: claude ...", waitErr: fakeExitError{code: 2}}
	exec := newTestExecutor(fake)

	_, err := exec.Execute(context.Background(), agent.Request{Instructions: "x", WorkingDir: "/work"})
	var execErr *ferryerrors.AgentExecutionError
	if !errors.As(err, &execErr) || execErr.Output != "usage: claude ..." {
		t.Fatalf("expected stdout in error output, got %v", err)
	}
}

func TestExecutorTimeout(t *testing.T) {
	fake := &fakeRunner{waitErr: fakeExitError{code: -1}, timedOut: true}
	exec := newTestExecutor(fake)

	_, err := exec.Execute(context.Background(), agent.Request{Instructions: "x", WorkingDir: "/work"})
	if !errors.Is(err, ferryerrors.ErrAgentTimeout) {
		t.Fatalf("expected ErrAgentTimeout, got %v", err)
	}
}

func TestExecutorCancelled(t *testing.T) {
	fake := &fakeRunner{waitErr: fakeExitError{code: -1}}
	exec := newTestExecutor(fake)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Execute(ctx, agent.Request{Instructions: "x", WorkingDir: "/work"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExecutorRunsRealScript(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-claude")
	body := "#!/bin/sh\necho \"cwd=$(pwd)\"\necho \"prompt=$(cat)\"\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}

	target := t.TempDir()
	exec := New(Config{BinaryPath: script, Timeout: 10 * time.Second}, logging.Nop())
	result, err := exec.Execute(context.Background(), agent.Request{Instructions: "port it", WorkingDir: target})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Output, "prompt=port it") {
		t.Errorf("expected instructions on stdin, got %q", result.Output)
	}
	resolved, _ := filepath.EvalSymlinks(target)
	if !strings.Contains(result.Output, "cwd="+resolved) && !strings.Contains(result.Output, "cwd="+target) {
		t.Errorf("expected agent to run in %s, got %q", target, result.Output)
	}
}

func TestExecutorHandlesPlanSizedInstructions(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	script := filepath.Join(t.TempDir(), "fake-claude")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nwc -c\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	instructions := strings.Repeat("- [ ] port the next module\n", 8*1024)
	if len(instructions) <= 200*1024 {
		t.Fatalf("instructions too small: %d bytes", len(instructions))
	}
	exec := New(Config{BinaryPath: script, Timeout: 10 * time.Second}, logging.Nop())
	result, err := exec.Execute(context.Background(), agent.Request{Instructions: instructions, WorkingDir: t.TempDir()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.TrimSpace(result.Output); got != strconv.Itoa(len(instructions)) {
		t.Errorf("agent read %s bytes, want %d", got, len(instructions))
	}
}
