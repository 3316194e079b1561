package git

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	ferryerrors "ferry/internal/shared/errors"
	"ferry/internal/shared/logging"
)

// PreviewLimit caps the commit subjects returned by Preview.
const PreviewLimit = 5

// PullSummary describes commits available on the remote but not yet merged.
type PullSummary struct {
	HasNewCommits   bool
	CommitCount     int
	PreviewMessages []string
}

// PullResult is the outcome of a pull attempt.
type PullResult struct {
	Success           bool
	ConflictsDetected bool
	AlreadyUpToDate   bool
	Output            string
}

// Remote fetches, previews, pulls and pushes through the git CLI.
type Remote struct {
	runner CommandRunner
	logger logging.Logger
}

func NewRemote(runner CommandRunner, logger logging.Logger) *Remote {
	if runner == nil {
		runner = NewExecRunner("", 0)
	}
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("GitRemote")
	}
	return &Remote{runner: runner, logger: logger}
}

// Preview fetches remote/branch and summarizes the commits HEAD lacks.
func (r *Remote) Preview(ctx context.Context, path, remote, branch string) (PullSummary, error) {
	dir, err := validateTarget(path, remote, branch)
	if err != nil {
		return PullSummary{}, err
	}
	if _, err := r.run(ctx, dir, "fetch", remote, branch); err != nil {
		return PullSummary{}, err
	}

	rangeSpec := fmt.Sprintf("HEAD..%s/%s", remote, branch)
	unborn, err := r.headUnborn(ctx, dir)
	if err != nil {
		return PullSummary{}, err
	}
	if unborn {
		// Every upstream commit is new to a branch without commits.
		rangeSpec = fmt.Sprintf("%s/%s", remote, branch)
	}
	countOut, err := r.run(ctx, dir, "rev-list", "--count", rangeSpec)
	if err != nil {
		return PullSummary{}, err
	}
	count, err := strconv.Atoi(strings.TrimSpace(countOut))
	if err != nil {
		return PullSummary{}, fmt.Errorf("parse rev-list count %q: %w", strings.TrimSpace(countOut), err)
	}
	summary := PullSummary{HasNewCommits: count > 0, CommitCount: count}
	if count == 0 {
		return summary, nil
	}

	logOut, err := r.run(ctx, dir, "log", "--format=%s", "-n", strconv.Itoa(PreviewLimit), rangeSpec)
	if err != nil {
		return PullSummary{}, err
	}
	summary.PreviewMessages = splitLines(logOut)
	r.logger.Info("%d new commit(s) on %s/%s", count, remote, branch)
	return summary, nil
}

// headUnborn reports whether HEAD names a branch that has no commits yet.
func (r *Remote) headUnborn(ctx context.Context, dir string) (bool, error) {
	_, err := r.runner.Run(ctx, dir, "rev-parse", "--verify", "--quiet", "HEAD")
	if err == nil {
		return false, nil
	}
	var cmdErr *CommandError
	if ctx.Err() != nil || (errors.As(err, &cmdErr) && cmdErr.TimedOut) {
		return false, classify(err, "")
	}
	return true, nil
}

// Pull merges remote/branch into the current branch. Conflicts are reported,
// never resolved.
func (r *Remote) Pull(ctx context.Context, path, remote, branch string) (PullResult, error) {
	dir, err := validateTarget(path, remote, branch)
	if err != nil {
		return PullResult{}, err
	}
	output, err := r.runner.Run(ctx, dir, "pull", "--no-rebase", "--no-edit", remote, branch)
	result := PullResult{Output: output}
	if DetectConflict(output) {
		result.ConflictsDetected = true
		r.logger.Warn("Pull of %s/%s into %s stopped on conflicts", remote, branch, dir)
		return result, fmt.Errorf("%w: %s/%s into %s", ferryerrors.ErrPullConflict, remote, branch, dir)
	}
	if err != nil {
		return result, classify(err, output)
	}
	result.Success = true
	result.AlreadyUpToDate = strings.Contains(strings.ToLower(output), "already up to date")
	return result, nil
}

// Push publishes the current branch to remote/branch.
func (r *Remote) Push(ctx context.Context, path, remote, branch string) error {
	dir, err := validateTarget(path, remote, branch)
	if err != nil {
		return err
	}
	if _, err := r.run(ctx, dir, "push", remote, "HEAD:"+branch); err != nil {
		return err
	}
	r.logger.Info("Pushed %s to %s/%s", dir, remote, branch)
	return nil
}

func (r *Remote) run(ctx context.Context, dir string, args ...string) (string, error) {
	output, err := r.runner.Run(ctx, dir, args...)
	if err != nil {
		return output, classify(err, output)
	}
	return output, nil
}

// DetectConflict reports whether pull output announces merge conflicts. It
// matches the English markers only.
func DetectConflict(output string) bool {
	return strings.Contains(output, "CONFLICT") || strings.Contains(output, "Automatic merge failed")
}

var authMarkers = []string{
	"authentication failed",
	"permission denied",
	"could not read username",
	"could not read password",
	"terminal prompts disabled",
	"invalid username or password",
	"the requested url returned error: 403",
	"host key verification failed",
}

var unreachableMarkers = []string{
	"couldn't find remote ref",
	"could not resolve host",
	"does not appear to be a git repository",
	"could not read from remote repository",
	"connection refused",
	"connection timed out",
	"network is unreachable",
	"unable to access",
	"repository not found",
}

// ClassifyFailure maps git failure output to ErrAuthenticationFailed or
// ErrRemoteUnreachable. It returns nil when nothing matches.
func ClassifyFailure(output string) error {
	lower := strings.ToLower(output)
	for _, marker := range authMarkers {
		if strings.Contains(lower, marker) {
			return ferryerrors.ErrAuthenticationFailed
		}
	}
	for _, marker := range unreachableMarkers {
		if strings.Contains(lower, marker) {
			return ferryerrors.ErrRemoteUnreachable
		}
	}
	return nil
}

func classify(err error, output string) error {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.TimedOut {
		return fmt.Errorf("%w: %v", ferryerrors.ErrRemoteUnreachable, err)
	}
	if sentinel := ClassifyFailure(output); sentinel != nil {
		return fmt.Errorf("%w: %v", sentinel, err)
	}
	return err
}

func validateTarget(path, remote, branch string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", ferryerrors.InvalidArgument("repository path is required")
	}
	if strings.TrimSpace(remote) == "" {
		return "", ferryerrors.InvalidArgument("remote name is required")
	}
	if strings.TrimSpace(branch) == "" {
		return "", ferryerrors.InvalidArgument("branch is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return abs, nil
}

func splitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
