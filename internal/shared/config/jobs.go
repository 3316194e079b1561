package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"ferry/internal/domain/agent"
	"ferry/internal/domain/job"
	ferryerrors "ferry/internal/shared/errors"
)

// DefaultJobsFile is the job list looked up in the working directory.
const DefaultJobsFile = "ferry.yaml"

const defaultRemoteBranch = "main"

// EnvLookup resolves the value for an environment variable.
type EnvLookup func(string) (string, bool)

// DefaultEnvLookup delegates to os.LookupEnv.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// Option customises the job list loader.
type Option func(*loadOptions)

type loadOptions struct {
	envLookup EnvLookup
	readFile  func(string) ([]byte, error)
}

// WithEnv supplies a custom environment lookup implementation.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) {
		if lookup != nil {
			o.envLookup = lookup
		}
	}
}

// WithFileReader injects a custom reader, used primarily for tests.
func WithFileReader(reader func(string) ([]byte, error)) Option {
	return func(o *loadOptions) {
		if reader != nil {
			o.readFile = reader
		}
	}
}

// JobsFile is the on-disk shape of the job list.
type JobsFile struct {
	Jobs []JobEntry `yaml:"jobs"`
}

// JobEntry is one job as written by the user.
type JobEntry struct {
	Name         string        `yaml:"name"`
	Source       string        `yaml:"source"`
	Target       string        `yaml:"target"`
	Instructions string        `yaml:"instructions"`
	Agent        string        `yaml:"agent"`
	Remotes      []RemoteEntry `yaml:"remotes"`
}

// RemoteEntry is one remote descriptor as written by the user.
type RemoteEntry struct {
	Name     string `yaml:"name"`
	Branch   string `yaml:"branch"`
	AutoPush bool   `yaml:"auto_push"`
}

// LoadJobList reads, expands and validates the job list at path. Relative
// paths inside the file resolve against the file's directory. ${VAR}
// references in names, paths and remotes are expanded; instructions are
// taken verbatim.
func LoadJobList(path string, opts ...Option) (job.List, error) {
	options := loadOptions{
		envLookup: DefaultEnvLookup,
		readFile:  os.ReadFile,
	}
	for _, opt := range opts {
		opt(&options)
	}

	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultJobsFile
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve job list path: %w", err)
	}

	data, err := options.readFile(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ferryerrors.InvalidArgument("job list %s does not exist", absPath)
		}
		return nil, fmt.Errorf("read job list: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ferryerrors.InvalidArgument("job list %s is empty", absPath)
	}

	var parsed JobsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%w: parse job list %s: %v", ferryerrors.ErrInvalidArgument, absPath, err)
	}

	list, err := parsed.toJobs(filepath.Dir(absPath), options.envLookup)
	if err != nil {
		return nil, err
	}
	if err := list.Validate(); err != nil {
		return nil, err
	}
	return list, nil
}

func (f JobsFile) toJobs(baseDir string, lookup EnvLookup) (job.List, error) {
	list := make(job.List, 0, len(f.Jobs))
	for i, entry := range f.Jobs {
		kind, err := agent.ParseKind(entry.Agent)
		if err != nil {
			return nil, fmt.Errorf("job %d of %d: %w", i+1, len(f.Jobs), err)
		}
		j := job.SyncJob{
			Name:         strings.TrimSpace(expandEnvValue(lookup, entry.Name)),
			SourcePath:   resolvePath(baseDir, expandEnvValue(lookup, entry.Source)),
			TargetRepo:   resolvePath(baseDir, expandEnvValue(lookup, entry.Target)),
			Instructions: entry.Instructions,
			Agent:        kind,
		}
		for _, remote := range entry.Remotes {
			branch := strings.TrimSpace(expandEnvValue(lookup, remote.Branch))
			if branch == "" {
				branch = defaultRemoteBranch
			}
			j.Remotes = append(j.Remotes, job.RemoteDescriptor{
				Name:     strings.TrimSpace(expandEnvValue(lookup, remote.Name)),
				Branch:   branch,
				AutoPush: remote.AutoPush,
			})
		}
		list = append(list, j)
	}
	return list, nil
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvValue replaces ${VAR} references. Unset variables expand to "".
func expandEnvValue(lookup EnvLookup, value string) string {
	if lookup == nil || !strings.Contains(value, "${") {
		return value
	}
	return envRefPattern.ReplaceAllStringFunc(value, func(match string) string {
		key := envRefPattern.FindStringSubmatch(match)[1]
		resolved, _ := lookup(key)
		return resolved
	})
}

func resolvePath(baseDir, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			value = filepath.Join(home, value[2:])
		}
	}
	if !filepath.IsAbs(value) {
		value = filepath.Join(baseDir, value)
	}
	return filepath.Clean(value)
}
