package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"vodwatch/internal/daemonctl"
)

func newRetryCommand(ctx *commandContext) *cobra.Command {
	var maxRetries int

	cmd := &cobra.Command{
		Use:   "retry [job-id]",
		Short: "Re-check failed jobs against the transcoder",
		Long: `Runs a retry sequence for one failed job, or for every retryable
failed job when no job id is given. Orphaned jobs and jobs without an
external id are skipped.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := ""
			if len(args) == 1 {
				jobID = strings.TrimSpace(args[0])
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.Retry(cmd.Context(), jobID, maxRetries)
			if err != nil {
				if errors.Is(err, daemonctl.ErrNotFound) && jobID != "" {
					return fmt.Errorf("job %s not found", jobID)
				}
				return err
			}

			out := cmd.OutOrStdout()
			if len(resp.Outcomes) == 0 {
				fmt.Fprintln(out, "No retryable failed jobs")
				return nil
			}
			rows := make([][]string, 0, len(resp.Outcomes))
			for _, outcome := range resp.Outcomes {
				result := "still failed"
				switch {
				case outcome.Recovered:
					result = "recovered"
				case outcome.Orphaned:
					result = "orphaned"
				}
				rows = append(rows, []string{
					outcome.JobID,
					strconv.Itoa(outcome.Attempts),
					result,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Job", "Attempts", "Result"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft},
			))
			fmt.Fprintf(out, "Recovered %d of %d job(s)\n", resp.Recovered, len(resp.Outcomes))
			return nil
		},
	}

	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Override the configured attempt cap for this run")
	return cmd
}
