package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"ferry/internal/app/remotesync"
	"ferry/internal/shared/logging"
)

type remoteFlags struct {
	remote string
	branch string
}

func (f *remoteFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.remote, "remote", "origin", "Remote to fetch from")
	cmd.Flags().StringVar(&f.branch, "branch", "", "Remote branch (default: current branch)")
}

func newRemoteCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Check and pull upstream changes into a source repository",
	}
	cmd.AddCommand(newRemoteStatusCommand(a), newRemotePreviewCommand(a), newRemotePullCommand(a))
	return cmd
}

func pathArg(args []string) string {
	if len(args) == 0 {
		return "."
	}
	return args[0]
}

func newRemoteStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status [path]",
		Short: "Show repository, branch and worktree state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, release, err := a.container()
			if err != nil {
				return err
			}
			defer release()
			path := pathArg(args)
			status, err := c.Inspector.CheckStatus(path)
			if err != nil {
				return err
			}
			printStatus(a.stdout, path, status)
			return nil
		},
	}
}

func newRemotePreviewCommand(a *app) *cobra.Command {
	var flags remoteFlags
	cmd := &cobra.Command{
		Use:   "preview [path]",
		Short: "Fetch and list commits that a pull would bring in",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, release, err := a.container()
			if err != nil {
				return err
			}
			defer release()
			service, err := remotesync.NewService(c.Inspector, c.Remote, remotesync.WithLogger(logging.NewComponentLogger("RemoteSync")))
			if err != nil {
				return err
			}
			outcome, err := service.Preview(cmd.Context(), remotesync.Request{Path: pathArg(args), Remote: flags.remote, Branch: flags.branch})
			if err != nil {
				return err
			}
			branch := flags.branch
			if branch == "" {
				branch = outcome.Status.CurrentBranch
			}
			printSummary(a.stdout, flags.remote, branch, outcome.Summary)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newRemotePullCommand(a *app) *cobra.Command {
	var (
		flags     remoteFlags
		sync      bool
		noSync    bool
		loopAfter bool
		force     bool
	)
	cmd := &cobra.Command{
		Use:   "pull [path]",
		Short: "Pull upstream changes and optionally run the sync afterwards",
		Long: `Pull upstream changes into the repository at path. Merge conflicts are
reported and left in the working tree for manual resolution.

After a successful pull, --sync runs the job list once and --loop starts the
loop. Without either flag the remote.auto_sync setting decides.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := afterPullAction(sync, loopAfter, noSync)
			if err != nil {
				return err
			}
			c, release, err := a.container()
			if err != nil {
				return err
			}
			defer release()
			service, err := remotesync.NewService(c.Inspector, c.Remote,
				remotesync.WithPipeline(c.Pipeline, c.LoadJobs),
				remotesync.WithLoop(func(ctx context.Context) error { return runLoop(ctx, a, c, true) }),
				remotesync.WithAutoSync(c.Runtime.Remote.AutoSync),
				remotesync.WithMetrics(c.Metrics),
				remotesync.WithTracer(c.Tracer),
				remotesync.WithLogger(logging.NewComponentLogger("RemoteSync")),
			)
			if err != nil {
				return err
			}

			outcome, err := service.Sync(cmd.Context(), remotesync.Request{
				Path:      pathArg(args),
				Remote:    flags.remote,
				Branch:    flags.branch,
				AfterPull: action,
				Force:     force,
			})
			if outcome.Pull != nil && outcome.Pull.ConflictsDetected {
				fmt.Fprintln(a.stdout, red("Pull stopped on merge conflicts."))
			}
			if outcome.Skipped {
				fmt.Fprintln(a.stdout, green("Already up to date; nothing pulled."))
			} else if outcome.Pull != nil && outcome.Pull.Success {
				fmt.Fprintf(a.stdout, "%s %d commit(s)\n", green("Pulled"), outcome.Summary.CommitCount)
			}
			if outcome.Batch != nil {
				printBatch(a.stdout, *outcome.Batch)
			}
			for _, pushed := range outcome.Pushed {
				fmt.Fprintf(a.stdout, "%s %s\n", green("Pushed"), pushed)
			}
			if outcome.Action == remotesync.AfterPullLoop && errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&sync, "sync", false, "Run the job list once after pulling")
	cmd.Flags().BoolVar(&loopAfter, "loop", false, "Start the loop after pulling")
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "Only pull, even when remote.auto_sync is set")
	cmd.Flags().BoolVar(&force, "force", false, "Pull even when the preview shows no new commits")
	cmd.MarkFlagsMutuallyExclusive("sync", "loop", "no-sync")
	return cmd
}

func afterPullAction(sync, startLoop, noSync bool) (remotesync.AfterPull, error) {
	switch {
	case sync && startLoop:
		return "", &ExitCodeError{Code: exitUsage, Err: fmt.Errorf("--sync and --loop cannot be combined")}
	case sync:
		return remotesync.AfterPullSyncOnce, nil
	case startLoop:
		return remotesync.AfterPullLoop, nil
	case noSync:
		return remotesync.AfterPullNone, nil
	default:
		return remotesync.AfterPullDefault, nil
	}
}
