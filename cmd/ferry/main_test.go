package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ferry/internal/app/pipeline"
	"ferry/internal/app/remotesync"
	ferryerrors "ferry/internal/shared/errors"
)

type testEnv struct {
	jobsFile string
	scratch  string
	target   string
}

func newTestEnv(t *testing.T, jobs int) testEnv {
	t.Helper()
	dir := t.TempDir()
	env := testEnv{
		jobsFile: filepath.Join(dir, "ferry.yaml"),
		scratch:  filepath.Join(dir, "scratch"),
		target:   filepath.Join(dir, "target"),
	}
	if err := os.MkdirAll(env.target, 0o755); err != nil {
		t.Fatalf("mkdir target: %v", err)
	}
	var b strings.Builder
	b.WriteString("jobs:\n")
	for i := 1; i <= jobs; i++ {
		fmt.Fprintf(&b, "  - name: job%d\n    source: %s\n    target: %s\n    instructions: Port package %d.\n    agent: simulated\n", i, dir, env.target, i)
	}
	if err := os.WriteFile(env.jobsFile, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write jobs: %v", err)
	}
	t.Setenv("FERRY_AGENT_SIMULATED_DELAY", "5ms")
	return env
}

func (e testEnv) args(extra ...string) []string {
	return append([]string{"--jobs", e.jobsFile, "--scratch-dir", e.scratch, "--log-level", "error"}, extra...)
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestJobsValidate(t *testing.T) {
	env := newTestEnv(t, 2)
	code, stdout, stderr := runCLI(t, env.args("jobs", "validate")...)
	if code != 0 {
		t.Fatalf("exit code %d, stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "2 job(s)") {
		t.Fatalf("unexpected output %q", stdout)
	}
}

func TestJobsList(t *testing.T) {
	env := newTestEnv(t, 2)
	code, stdout, stderr := runCLI(t, env.args("jobs", "list")...)
	if code != 0 {
		t.Fatalf("exit code %d, stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "1. job1") || !strings.Contains(stdout, "2. job2") {
		t.Fatalf("jobs not listed in order: %q", stdout)
	}
}

func TestMissingJobListIsUsageError(t *testing.T) {
	code, _, stderr := runCLI(t, "--jobs", filepath.Join(t.TempDir(), "missing.yaml"), "--log-level", "error", "jobs", "validate")
	if code != exitUsage {
		t.Fatalf("expected exit %d, got %d", exitUsage, code)
	}
	if !strings.Contains(stderr, "does not exist") || !strings.Contains(stderr, "Hint:") {
		t.Fatalf("expected error and hint, got %q", stderr)
	}
}

func TestSyncRunsEveryJob(t *testing.T) {
	env := newTestEnv(t, 2)
	code, stdout, stderr := runCLI(t, env.args("sync")...)
	if code != 0 {
		t.Fatalf("exit code %d, stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "2 of 2 jobs completed") {
		t.Fatalf("missing summary in %q", stdout)
	}
	for _, name := range []string{pipeline.SourceAnalysisPromptFile, pipeline.TargetAnalysisPromptFile, pipeline.MigrationPromptFile} {
		if _, err := os.Stat(filepath.Join(env.scratch, name)); err != nil {
			t.Fatalf("expected %s in scratch dir: %v", name, err)
		}
	}
}

func TestSyncSingleJob(t *testing.T) {
	env := newTestEnv(t, 3)
	code, stdout, stderr := runCLI(t, env.args("sync", "--job", "job2")...)
	if code != 0 {
		t.Fatalf("exit code %d, stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "1 of 1 jobs completed") {
		t.Fatalf("missing summary in %q", stdout)
	}

	code, _, _ = runCLI(t, env.args("sync", "--job", "nope")...)
	if code != exitUsage {
		t.Fatalf("expected usage exit for unknown job, got %d", code)
	}
}

func TestLoopStopsAfterMaxIterations(t *testing.T) {
	env := newTestEnv(t, 1)
	code, stdout, stderr := runCLI(t, env.args("loop", "--interval", "10ms", "--max-iterations", "2", "--watch=false")...)
	if code != 0 {
		t.Fatalf("exit code %d, stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "[#1]") || !strings.Contains(stdout, "[#2]") || strings.Contains(stdout, "[#3]") {
		t.Fatalf("expected exactly two iterations, got %q", stdout)
	}
}

func TestRemoteStatusOutsideRepository(t *testing.T) {
	env := newTestEnv(t, 1)
	dir := t.TempDir()
	code, stdout, stderr := runCLI(t, env.args("remote", "status", dir)...)
	if code != 0 {
		t.Fatalf("exit code %d, stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "not a git repository") {
		t.Fatalf("unexpected output %q", stdout)
	}
}

func TestRemotePullRejectsCombinedActions(t *testing.T) {
	env := newTestEnv(t, 1)
	code, _, _ := runCLI(t, env.args("remote", "pull", "--sync", "--loop")...)
	if code == 0 {
		t.Fatal("expected --sync and --loop to be rejected")
	}
}

func TestInvalidLogLevel(t *testing.T) {
	env := newTestEnv(t, 1)
	code, _, stderr := runCLI(t, "--jobs", env.jobsFile, "--log-level", "loud", "jobs", "validate")
	if code != exitUsage {
		t.Fatalf("expected exit %d, got %d (%s)", exitUsage, code, stderr)
	}
}

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{errors.New("boom"), 1},
		{fmt.Errorf("wrap: %w", ferryerrors.ErrPullConflict), exitConflict},
		{ferryerrors.InvalidArgument("bad"), exitUsage},
		{ferryerrors.UnknownAgent("aider"), exitUsage},
		{&ExitCodeError{Code: 7, Err: errors.New("custom")}, 7},
	}
	for _, tc := range cases {
		if got := exitCodeFor(tc.err); got != tc.want {
			t.Errorf("exitCodeFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestAfterPullAction(t *testing.T) {
	cases := []struct {
		sync, loop, none bool
		want             remotesync.AfterPull
	}{
		{false, false, false, remotesync.AfterPullDefault},
		{true, false, false, remotesync.AfterPullSyncOnce},
		{false, true, false, remotesync.AfterPullLoop},
		{false, false, true, remotesync.AfterPullNone},
	}
	for _, tc := range cases {
		got, err := afterPullAction(tc.sync, tc.loop, tc.none)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != tc.want {
			t.Errorf("afterPullAction(%v, %v, %v) = %q, want %q", tc.sync, tc.loop, tc.none, got, tc.want)
		}
	}
	if _, err := afterPullAction(true, true, false); err == nil {
		t.Fatal("expected error for --sync with --loop")
	}
}
