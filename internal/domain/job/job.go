// Package job holds the declarative sync job model loaded from the job list.
package job

import (
	"fmt"
	"path/filepath"
	"strings"

	"ferry/internal/domain/agent"
	ferryerrors "ferry/internal/shared/errors"
)

// RemoteDescriptor names an upstream remote the source repository tracks.
type RemoteDescriptor struct {
	Name     string
	Branch   string
	AutoPush bool
}

// SyncJob describes one source-to-target migration. It is immutable once
// loaded.
type SyncJob struct {
	Name         string
	SourcePath   string
	TargetRepo   string
	Instructions string
	Agent        agent.Kind
	Remotes      []RemoteDescriptor
}

// DisplayName returns Name, or the base name of the target repository.
func (j SyncJob) DisplayName() string {
	if name := strings.TrimSpace(j.Name); name != "" {
		return name
	}
	if j.TargetRepo == "" {
		return "unnamed"
	}
	return filepath.Base(j.TargetRepo)
}

// Validate checks the job invariants. Paths must already be absolute.
func (j SyncJob) Validate() error {
	if strings.TrimSpace(j.SourcePath) == "" {
		return ferryerrors.InvalidArgument("source path is empty")
	}
	if strings.TrimSpace(j.TargetRepo) == "" {
		return ferryerrors.InvalidArgument("target repository is empty")
	}
	if strings.TrimSpace(j.Instructions) == "" {
		return ferryerrors.InvalidArgument("instructions are empty")
	}
	if !filepath.IsAbs(j.SourcePath) {
		return ferryerrors.InvalidArgument("source path %q is not absolute", j.SourcePath)
	}
	if !filepath.IsAbs(j.TargetRepo) {
		return ferryerrors.InvalidArgument("target repository %q is not absolute", j.TargetRepo)
	}
	if !j.Agent.Valid() {
		return ferryerrors.UnknownAgent(string(j.Agent))
	}
	for i, remote := range j.Remotes {
		if strings.TrimSpace(remote.Name) == "" {
			return ferryerrors.InvalidArgument("remote %d: name is empty", i+1)
		}
		if strings.TrimSpace(remote.Branch) == "" {
			return ferryerrors.InvalidArgument("remote %q: branch is empty", remote.Name)
		}
	}
	return nil
}

// PushTargets returns the remotes flagged for automatic push.
func (j SyncJob) PushTargets() []RemoteDescriptor {
	var out []RemoteDescriptor
	for _, remote := range j.Remotes {
		if remote.AutoPush {
			out = append(out, remote)
		}
	}
	return out
}

// List is an ordered job list. Order is execution order.
type List []SyncJob

// Validate requires at least one job and validates each one, naming the
// offending job by its 1-based position.
func (l List) Validate() error {
	if len(l) == 0 {
		return ferryerrors.InvalidArgument("job list is empty")
	}
	for i, j := range l {
		if err := j.Validate(); err != nil {
			return fmt.Errorf("job %d of %d (%s): %w", i+1, len(l), j.DisplayName(), err)
		}
	}
	return nil
}

// Filter returns the jobs whose display name equals name. An empty name
// returns the list unchanged.
func (l List) Filter(name string) (List, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return l, nil
	}
	var out List
	for _, j := range l {
		if j.DisplayName() == name {
			out = append(out, j)
		}
	}
	if len(out) == 0 {
		return nil, ferryerrors.InvalidArgument("no job named %q", name)
	}
	return out, nil
}

// ForSource returns the jobs whose source path is root or lies inside it.
func (l List) ForSource(root string) List {
	clean := filepath.Clean(root)
	var out List
	for _, j := range l {
		rel, err := filepath.Rel(clean, filepath.Clean(j.SourcePath))
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		out = append(out, j)
	}
	return out
}
