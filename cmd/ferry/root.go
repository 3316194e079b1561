package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"ferry/internal/shared/config"
	"ferry/internal/shared/logging"
)

var version = "dev"

// app carries state shared by every subcommand.
type app struct {
	viper        *viper.Viper
	settingsFile string
	envFiles     []string
	runtime      config.Runtime
	stdout       io.Writer
	stderr       io.Writer
	// build is swapped in tests.
	build func(config.Runtime) (*Container, error)
}

// NewRootCommand creates the ferry command tree.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{
		viper:  config.NewViper(),
		stdout: stdout,
		stderr: stderr,
		build:  buildContainer,
	}

	root := &cobra.Command{
		Use:     "ferry",
		Short:   "Keep a target repository in step with a source repository using a coding agent",
		Version: version,
		Long: fmt.Sprintf(`%s

ferry reads a list of sync jobs, writes analysis and migration prompts for each
one and hands the migration prompt to a coding agent running in the target
repository.

%s
  ferry jobs validate            # Check ferry.yaml
  ferry sync                     # Run every job once
  ferry loop --interval 30s      # Keep syncing until interrupted
  ferry remote pull ../upstream  # Pull upstream changes, then sync`,
			bold("ferry"),
			bold("EXAMPLES:")),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.initialize()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringP("jobs", "c", config.DefaultJobsFile, "Job list file")
	flags.StringVar(&a.settingsFile, "settings", "", "Settings file (default ./ferry.settings.yaml when present)")
	flags.StringSliceVar(&a.envFiles, "env-file", []string{".env"}, "Dotenv files loaded before settings")
	flags.String("scratch-dir", ".ferry/scratch", "Directory for generated prompts")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.String("log-format", "console", "Log format: console or json")
	a.bind(flags, config.KeyJobsFile, "jobs")
	a.bind(flags, config.KeyScratchDir, "scratch-dir")
	a.bind(flags, config.KeyLogLevel, "log-level")
	a.bind(flags, config.KeyLogFormat, "log-format")

	root.AddCommand(
		newSyncCommand(a),
		newLoopCommand(a),
		newRemoteCommand(a),
		newJobsCommand(a),
	)
	return root
}

func (a *app) bind(flags *pflag.FlagSet, key, name string) {
	if err := a.viper.BindPFlag(key, flags.Lookup(name)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", name, err))
	}
}

func (a *app) initialize() error {
	if err := config.LoadDotEnv(a.envFiles...); err != nil {
		return err
	}
	rt, err := config.LoadRuntime(a.viper, a.settingsFile)
	if err != nil {
		return err
	}
	if err := logging.Configure(logging.Options{Level: rt.Log.Level, Format: rt.Log.Format, Output: a.stderr}); err != nil {
		return &ExitCodeError{Code: exitUsage, Err: err}
	}
	a.runtime = rt
	if rt.SettingsFile != "" {
		logging.NewComponentLogger("Main").Debug("Loaded settings from %s", rt.SettingsFile)
	}
	return nil
}

// container builds the services for one command. The returned release
// function flushes telemetry and must be deferred.
func (a *app) container() (*Container, func(), error) {
	c, err := a.build(a.runtime)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if err := c.Cleanup(); err != nil {
			fmt.Fprintf(a.stderr, "Cleanup error: %v\n", err)
		}
	}
	return c, release, nil
}
