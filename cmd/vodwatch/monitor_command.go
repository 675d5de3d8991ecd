package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newMonitorCommand(ctx *commandContext) *cobra.Command {
	var includeStuck bool
	var stuckThresholdMinutes int

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Show job counts and stuck jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.Monitor(cmd.Context(), includeStuck, stuckThresholdMinutes)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			counts := resp.Counts
			rows := [][]string{
				{"queued", strconv.Itoa(counts.Queued)},
				{"in_progress", strconv.Itoa(counts.InProgress)},
				{"ready", strconv.Itoa(counts.Ready)},
				{"failed", strconv.Itoa(counts.Failed)},
				{"total", strconv.Itoa(counts.Total)},
			}
			fmt.Fprintln(out, renderTable([]string{"State", "Jobs"}, rows, []columnAlignment{alignLeft, alignRight}))

			if !includeStuck {
				return nil
			}
			if len(resp.Stuck) == 0 {
				fmt.Fprintf(out, "No jobs stuck longer than %d minutes\n", resp.StuckThresholdMinutes)
				return nil
			}
			fmt.Fprintf(out, "Jobs without movement for %d minutes:\n", resp.StuckThresholdMinutes)
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Title", "State", "Progress", "External ID", "Updated"},
				buildJobRows(resp.Stuck),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&includeStuck, "include-stuck", true, "Include jobs that have not moved recently")
	cmd.Flags().IntVar(&stuckThresholdMinutes, "stuck-threshold", 0, "Override the stuck threshold in minutes")
	return cmd
}

func newPollCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Run one reconciliation cycle now",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.Poll(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Checked %d job(s): %d applied, %d recovered, %d skipped, %d error(s)\n",
				resp.Checked, resp.Applied, resp.Recovered, resp.Skipped, resp.Errors)
			counts := resp.Counts
			fmt.Fprintf(out, "Now tracking %d job(s): %d queued, %d in progress, %d ready, %d failed\n",
				counts.Total, counts.Queued, counts.InProgress, counts.Ready, counts.Failed)
			return nil
		},
	}
}
