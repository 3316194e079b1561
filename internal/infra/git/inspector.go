package git

import (
	"errors"
	"fmt"
	"path/filepath"

	"ferry/internal/shared/logging"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Status is a read-only snapshot of a working copy.
type Status struct {
	IsGitRepo             bool
	HasRemotes            bool
	CurrentBranch         string
	HasUncommittedChanges bool
	Remotes               []string
}

// Inspector reads repository state without spawning git.
type Inspector struct {
	logger logging.Logger
}

func NewInspector(logger logging.Logger) *Inspector {
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("GitInspector")
	}
	return &Inspector{logger: logger}
}

// CheckStatus inspects the repository containing path. A path outside any
// repository reports IsGitRepo=false and no error.
func (i *Inspector) CheckStatus(path string) (Status, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Status{}, fmt.Errorf("resolve %s: %w", path, err)
	}
	repo, err := gogit.PlainOpenWithOptions(abs, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		i.logger.Debug("No git repository at %s: %v", abs, err)
		return Status{}, nil
	}

	status := Status{IsGitRepo: true}

	remotes, err := repo.Remotes()
	if err != nil {
		return status, fmt.Errorf("list remotes: %w", err)
	}
	for _, remote := range remotes {
		status.Remotes = append(status.Remotes, remote.Config().Name)
	}
	status.HasRemotes = len(status.Remotes) > 0

	branch, err := currentBranch(repo)
	if err != nil {
		return status, err
	}
	status.CurrentBranch = branch

	worktree, err := repo.Worktree()
	if errors.Is(err, gogit.ErrIsBareRepository) {
		return status, nil
	}
	if err != nil {
		return status, fmt.Errorf("open worktree: %w", err)
	}
	wtStatus, err := worktree.Status()
	if err != nil {
		return status, fmt.Errorf("worktree status: %w", err)
	}
	status.HasUncommittedChanges = !wtStatus.IsClean()
	return status, nil
}

func currentBranch(repo *gogit.Repository) (string, error) {
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		// Unborn branch: HEAD points at a ref with no commits yet.
		ref, refErr := repo.Storer.Reference(plumbing.HEAD)
		if refErr != nil {
			return "", fmt.Errorf("read HEAD: %w", refErr)
		}
		return ref.Target().Short(), nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	if head.Name().IsBranch() {
		return head.Name().Short(), nil
	}
	return "HEAD", nil
}
