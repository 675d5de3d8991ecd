package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and job counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			running := "no"
			if status.Running {
				running = fmt.Sprintf("yes (pid %d)", status.PID)
			}
			reconciling := "no"
			if status.Reconciling {
				reconciling = "yes"
			}
			fmt.Fprintf(out, "Daemon running: %s\n", running)
			fmt.Fprintf(out, "Reconciling:    %s\n", reconciling)
			fmt.Fprintf(out, "Database:       %s\n", status.DBPath)
			fmt.Fprintf(out, "Lock file:      %s\n", status.LockFilePath)

			rows := [][]string{
				{"queued", strconv.Itoa(status.Jobs.Queued)},
				{"in_progress", strconv.Itoa(status.Jobs.InProgress)},
				{"ready", strconv.Itoa(status.Jobs.Ready)},
				{"failed", strconv.Itoa(status.Jobs.Failed)},
				{"total", strconv.Itoa(status.Jobs.Total)},
			}
			fmt.Fprintln(out, renderTable([]string{"State", "Jobs"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
}
