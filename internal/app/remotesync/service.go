// Package remotesync pulls upstream changes into a source repository and
// optionally hands the result to the sync pipeline or the loop driver.
package remotesync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"ferry/internal/app/pipeline"
	"ferry/internal/domain/job"
	"ferry/internal/infra/git"
	"ferry/internal/observability"
	ferryerrors "ferry/internal/shared/errors"
	"ferry/internal/shared/logging"
)

// AfterPull selects what happens once a pull succeeds.
type AfterPull string

const (
	// AfterPullDefault defers to the service's auto-sync setting.
	AfterPullDefault  AfterPull = ""
	AfterPullNone     AfterPull = "none"
	AfterPullSyncOnce AfterPull = "sync"
	AfterPullLoop     AfterPull = "loop"
)

// Request describes one remote sync.
type Request struct {
	Path   string
	Remote string
	// Branch defaults to the current branch of Path.
	Branch    string
	AfterPull AfterPull
	// Force pulls even when the preview shows no new commits.
	Force bool
}

// Outcome reports every step the service performed.
type Outcome struct {
	Status  git.Status
	Summary git.PullSummary
	Pull    *git.PullResult
	Skipped bool
	Action  AfterPull
	Batch   *pipeline.BatchReport
	Pushed  []string
}

type StatusChecker interface {
	CheckStatus(path string) (git.Status, error)
}

type RemoteClient interface {
	Preview(ctx context.Context, path, remote, branch string) (git.PullSummary, error)
	Pull(ctx context.Context, path, remote, branch string) (git.PullResult, error)
	Push(ctx context.Context, path, remote, branch string) error
}

type BatchRunner interface {
	RunBatch(ctx context.Context, jobs job.List) pipeline.BatchReport
}

type JobLoader func() (job.List, error)

type Option func(*Service)

// WithPipeline enables AfterPullSyncOnce.
func WithPipeline(runner BatchRunner, loader JobLoader) Option {
	return func(s *Service) {
		s.runner = runner
		s.loader = loader
	}
}

// WithLoop enables AfterPullLoop. start blocks until the loop ends.
func WithLoop(start func(ctx context.Context) error) Option {
	return func(s *Service) {
		s.startLoop = start
	}
}

// WithAutoSync makes AfterPullDefault behave as AfterPullSyncOnce.
func WithAutoSync(enabled bool) Option {
	return func(s *Service) {
		s.autoSync = enabled
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Service) {
		s.metrics = metrics
	}
}

func WithTracer(tracer *observability.TracerProvider) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(s *Service) {
		if !logging.IsNil(logger) {
			s.logger = logger
		}
	}
}

// Service orchestrates status, preview, pull and the post-pull action.
type Service struct {
	inspector StatusChecker
	remote    RemoteClient
	runner    BatchRunner
	loader    JobLoader
	startLoop func(ctx context.Context) error
	autoSync  bool
	metrics   *observability.Metrics
	tracer    *observability.TracerProvider
	logger    logging.Logger
}

func NewService(inspector StatusChecker, remote RemoteClient, opts ...Option) (*Service, error) {
	if inspector == nil {
		return nil, ferryerrors.InvalidArgument("status checker is required")
	}
	if remote == nil {
		return nil, ferryerrors.InvalidArgument("remote client is required")
	}
	s := &Service{
		inspector: inspector,
		remote:    remote,
		logger:    logging.NewComponentLogger("RemoteSync"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Status inspects path without touching the network.
func (s *Service) Status(path string) (git.Status, error) {
	return s.inspector.CheckStatus(path)
}

// Preview checks the repository and summarizes pending upstream commits.
func (s *Service) Preview(ctx context.Context, req Request) (Outcome, error) {
	outcome, req, err := s.prepare(req)
	if err != nil {
		return outcome, err
	}
	outcome.Summary, err = s.remote.Preview(ctx, req.Path, req.Remote, req.Branch)
	return outcome, err
}

// Sync runs status, preview, pull and the post-pull action in order.
// Conflicts are reported and left in the working tree.
func (s *Service) Sync(ctx context.Context, req Request) (outcome Outcome, err error) {
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanRemoteSync, observability.RemoteAttrs(req.Remote, req.Branch)...)
	defer func() { observability.EndSpan(span, err) }()

	outcome, req, err = s.prepare(req)
	if err != nil {
		return outcome, err
	}

	outcome.Summary, err = s.remote.Preview(ctx, req.Path, req.Remote, req.Branch)
	if err != nil {
		s.metrics.RecordPull(ctx, ferryerrors.Kind(err))
		return outcome, err
	}
	if !outcome.Summary.HasNewCommits && !req.Force {
		s.logger.Info("%s is up to date with %s/%s", req.Path, req.Remote, req.Branch)
		outcome.Skipped = true
		s.metrics.RecordPull(ctx, "up_to_date")
		return outcome, nil
	}

	result, err := s.remote.Pull(ctx, req.Path, req.Remote, req.Branch)
	outcome.Pull = &result
	s.metrics.RecordPull(ctx, ferryerrors.Kind(err))
	if err != nil {
		return outcome, err
	}
	s.logger.Info("Pulled %d commit(s) from %s/%s into %s", outcome.Summary.CommitCount, req.Remote, req.Branch, req.Path)

	outcome.Action = s.resolveAction(req.AfterPull)
	switch outcome.Action {
	case AfterPullSyncOnce:
		return s.syncOnce(ctx, req, outcome)
	case AfterPullLoop:
		s.logger.Info("Handing off to the loop driver")
		return outcome, s.startLoop(ctx)
	default:
		return outcome, nil
	}
}

func (s *Service) prepare(req Request) (Outcome, Request, error) {
	var outcome Outcome
	if strings.TrimSpace(req.Path) == "" {
		return outcome, req, ferryerrors.InvalidArgument("repository path is required")
	}
	if strings.TrimSpace(req.Remote) == "" {
		return outcome, req, ferryerrors.InvalidArgument("remote name is required")
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		return outcome, req, fmt.Errorf("resolve %s: %w", req.Path, err)
	}
	req.Path = abs

	switch req.AfterPull {
	case AfterPullSyncOnce:
		if s.runner == nil || s.loader == nil {
			return outcome, req, ferryerrors.InvalidArgument("post-pull sync requested but no pipeline is configured")
		}
	case AfterPullLoop:
		if s.startLoop == nil {
			return outcome, req, ferryerrors.InvalidArgument("post-pull loop requested but no loop is configured")
		}
	}

	status, err := s.inspector.CheckStatus(req.Path)
	if err != nil {
		return outcome, req, err
	}
	outcome.Status = status
	if !status.IsGitRepo {
		return outcome, req, ferryerrors.InvalidArgument("%s is not a git repository", req.Path)
	}
	if !status.HasRemotes {
		return outcome, req, ferryerrors.InvalidArgument("%s has no remotes configured", req.Path)
	}
	if strings.TrimSpace(req.Branch) == "" {
		req.Branch = status.CurrentBranch
	}
	if status.HasUncommittedChanges {
		s.logger.Warn("%s has uncommitted changes; the pull may be refused", req.Path)
	}
	return outcome, req, nil
}

func (s *Service) resolveAction(requested AfterPull) AfterPull {
	if requested != AfterPullDefault {
		return requested
	}
	if s.autoSync && s.runner != nil && s.loader != nil {
		return AfterPullSyncOnce
	}
	return AfterPullNone
}

func (s *Service) syncOnce(ctx context.Context, req Request, outcome Outcome) (Outcome, error) {
	jobs, err := s.loader()
	if err != nil {
		return outcome, fmt.Errorf("load jobs: %w", err)
	}
	selected := jobs.ForSource(req.Path)
	if len(selected) == 0 {
		s.logger.Warn("No job reads from %s; running the whole job list", req.Path)
		selected = jobs
	}

	report := s.runner.RunBatch(ctx, selected)
	outcome.Batch = &report
	if report.Err != nil {
		return outcome, report.Err
	}
	s.logger.Info("Post-pull sync: %s", report.Summary())

	var pushErrs []error
	for _, j := range selected {
		for _, target := range j.PushTargets() {
			if err := s.remote.Push(ctx, j.TargetRepo, target.Name, target.Branch); err != nil {
				s.logger.Error("Auto-push of %s to %s/%s failed: %v", j.DisplayName(), target.Name, target.Branch, err)
				pushErrs = append(pushErrs, fmt.Errorf("push %s to %s/%s: %w", j.DisplayName(), target.Name, target.Branch, err))
				continue
			}
			outcome.Pushed = append(outcome.Pushed, fmt.Sprintf("%s -> %s/%s", j.DisplayName(), target.Name, target.Branch))
		}
	}
	return outcome, errors.Join(pushErrs...)
}
