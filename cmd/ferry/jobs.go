package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ferry/internal/shared/config"
)

func newJobsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect the job list",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the job list",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				jobs, err := config.LoadJobList(a.runtime.JobsFile)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "%s %d job(s) in %s\n", green("valid:"), len(jobs), a.runtime.JobsFile)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "Print the jobs in execution order",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				jobs, err := config.LoadJobList(a.runtime.JobsFile)
				if err != nil {
					return err
				}
				printJobs(a.stdout, jobs)
				return nil
			},
		},
	)
	return cmd
}
