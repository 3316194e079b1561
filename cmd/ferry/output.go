package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"ferry/internal/app/loop"
	"ferry/internal/app/pipeline"
	"ferry/internal/domain/job"
	"ferry/internal/infra/git"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func printBatch(w io.Writer, report pipeline.BatchReport) {
	for _, run := range report.Runs {
		name := run.Job.DisplayName()
		if run.Succeeded() {
			fmt.Fprintf(w, "%s %s %s\n", green("✓"), bold(name), gray(run.Duration().Round(time.Millisecond).String()))
			continue
		}
		fmt.Fprintf(w, "%s %s %s\n", red("✗"), bold(name), gray("failed after "+string(run.Stage)))
	}
	summary := report.Summary()
	if report.Succeeded() {
		fmt.Fprintln(w, green(summary))
		return
	}
	fmt.Fprintln(w, red(summary))
}

func printIteration(w io.Writer, result loop.IterationResult) {
	prefix := cyan(fmt.Sprintf("[#%d]", result.Index))
	elapsed := gray(result.Duration.Round(time.Millisecond).String())
	if result.Succeeded() {
		fmt.Fprintf(w, "%s %s %s\n", prefix, green(result.Report.Summary()), elapsed)
		return
	}
	fmt.Fprintf(w, "%s %s %s\n", prefix, red(result.Report.Summary()+": "+result.Err.Error()), elapsed)
}

func printJobs(w io.Writer, list job.List) {
	for i, j := range list {
		fmt.Fprintf(w, "%d. %s %s\n", i+1, bold(j.DisplayName()), gray("("+string(j.Agent)+")"))
		fmt.Fprintf(w, "   source: %s\n", j.SourcePath)
		fmt.Fprintf(w, "   target: %s\n", j.TargetRepo)
		for _, remote := range j.Remotes {
			push := ""
			if remote.AutoPush {
				push = yellow(" auto-push")
			}
			fmt.Fprintf(w, "   remote: %s/%s%s\n", remote.Name, remote.Branch, push)
		}
	}
}

func printStatus(w io.Writer, path string, status git.Status) {
	if !status.IsGitRepo {
		fmt.Fprintf(w, "%s %s\n", yellow("not a git repository:"), path)
		return
	}
	fmt.Fprintf(w, "repository: %s\n", path)
	fmt.Fprintf(w, "branch:     %s\n", status.CurrentBranch)
	remotes := "none"
	if status.HasRemotes {
		remotes = strings.Join(status.Remotes, ", ")
	}
	fmt.Fprintf(w, "remotes:    %s\n", remotes)
	if status.HasUncommittedChanges {
		fmt.Fprintf(w, "worktree:   %s\n", yellow("uncommitted changes"))
	} else {
		fmt.Fprintf(w, "worktree:   %s\n", green("clean"))
	}
}

func printSummary(w io.Writer, remote, branch string, summary git.PullSummary) {
	if !summary.HasNewCommits {
		fmt.Fprintf(w, "%s %s/%s\n", green("up to date with"), remote, branch)
		return
	}
	fmt.Fprintf(w, "%s new commit(s) on %s/%s\n", bold(fmt.Sprint(summary.CommitCount)), remote, branch)
	for _, msg := range summary.PreviewMessages {
		fmt.Fprintf(w, "  %s %s\n", gray("•"), msg)
	}
	if hidden := summary.CommitCount - len(summary.PreviewMessages); hidden > 0 {
		fmt.Fprintf(w, "  %s\n", gray(fmt.Sprintf("… and %d more", hidden)))
	}
}
