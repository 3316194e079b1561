package main

import (
	"github.com/spf13/cobra"
)

func newSyncCommand(a *app) *cobra.Command {
	var jobName string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run every job in the job list once, stopping at the first failure",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, release, err := a.container()
			if err != nil {
				return err
			}
			defer release()
			jobs, err := c.LoadJobs()
			if err != nil {
				return err
			}
			jobs, err = jobs.Filter(jobName)
			if err != nil {
				return err
			}
			report := c.Pipeline.RunBatch(cmd.Context(), jobs)
			printBatch(a.stdout, report)
			return report.Err
		},
	}
	cmd.Flags().StringVar(&jobName, "job", "", "Run only the job with this name")
	return cmd
}
