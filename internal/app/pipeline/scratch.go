package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"ferry/internal/infra/filestore"
	ferryerrors "ferry/internal/shared/errors"
)

// DefaultScratchDir is used when no scratch directory is configured. It is
// relative to the working directory of the invocation.
const DefaultScratchDir = ".ferry/scratch"

// Files written by the pipeline.
const (
	SourceAnalysisPromptFile = "source_analysis_prompt.md"
	TargetAnalysisPromptFile = "target_analysis_prompt.md"
	MigrationPromptFile      = "migration_prompt.md"
)

// Files owned by the agent. The pipeline only references them.
const (
	SourceReportFile = "source_analysis.md"
	TargetReportFile = "target_analysis.md"
	MigrationLogFile = "migration_log.md"
)

// Scratch is the directory holding prompts and agent reports. Artifacts are
// kept after the run for inspection. Two pipelines sharing one directory
// overwrite each other's files; nothing locks it.
type Scratch struct {
	dir string
}

// NewScratch resolves dir to an absolute path. The directory is created
// lazily by Ensure.
func NewScratch(dir string) (*Scratch, error) {
	dir = filestore.ResolvePath(strings.TrimSpace(dir), DefaultScratchDir)
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: scratch directory %q: %v", ferryerrors.ErrInvalidArgument, dir, err)
	}
	return &Scratch{dir: filepath.Clean(abs)}, nil
}

// Dir returns the absolute scratch directory.
func (s *Scratch) Dir() string {
	return s.dir
}

// Path returns the absolute path of name inside the scratch directory.
func (s *Scratch) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Ensure creates the scratch directory. It succeeds when the directory
// already exists.
func (s *Scratch) Ensure() error {
	if err := filestore.EnsureDir(s.dir); err != nil {
		return fmt.Errorf("create scratch directory %s: %w", s.dir, err)
	}
	return nil
}

// Write stores content under name atomically and returns the file path.
func (s *Scratch) Write(name, content string) (string, error) {
	path := s.Path(name)
	if err := filestore.AtomicWrite(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}
