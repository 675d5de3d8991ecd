package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vodwatch/internal/api"
	"vodwatch/internal/daemonctl"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect tracked transcode jobs",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var listStates []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			jobsList, err := client.ListJobs(cmd.Context(), listStates...)
			if err != nil {
				return err
			}
			if len(jobsList) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tracked jobs")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Title", "State", "Progress", "External ID", "Updated"},
				buildJobRows(jobsList),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&listStates, "state", nil, "Filter by state (queued, in_progress, ready, failed)")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job and its retry history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			detail, err := client.DescribeJob(cmd.Context(), args[0])
			if err != nil {
				if errors.Is(err, daemonctl.ErrNotFound) {
					return fmt.Errorf("job %s not found", args[0])
				}
				return err
			}

			out := cmd.OutOrStdout()
			job := detail.Job
			fmt.Fprintf(out, "ID:          %s\n", job.ID)
			fmt.Fprintf(out, "Title:       %s\n", job.Title)
			fmt.Fprintf(out, "State:       %s\n", job.State)
			fmt.Fprintf(out, "Progress:    %d%%\n", job.ProgressPercent)
			if job.ExternalID != "" {
				fmt.Fprintf(out, "External ID: %s\n", job.ExternalID)
			}
			if job.ErrorCode != "" {
				fmt.Fprintf(out, "Error:       %s", job.ErrorCode)
				if job.ErrorMessage != "" {
					fmt.Fprintf(out, " (%s)", job.ErrorMessage)
				}
				fmt.Fprintln(out)
			}
			if job.DurationSeconds > 0 {
				fmt.Fprintf(out, "Duration:    %s\n", (time.Duration(job.DurationSeconds) * time.Second).String())
			}
			if job.PlaybackURL != "" {
				fmt.Fprintf(out, "Playback:    %s\n", job.PlaybackURL)
			}
			fmt.Fprintf(out, "Created:     %s\n", job.CreatedAt.Local().Format(time.RFC3339))
			fmt.Fprintf(out, "Updated:     %s\n", job.UpdatedAt.Local().Format(time.RFC3339))

			if len(detail.Attempts) == 0 {
				return nil
			}
			rows := make([][]string, 0, len(detail.Attempts))
			for _, attempt := range detail.Attempts {
				result := "failed"
				if attempt.Success {
					result = "recovered"
				}
				rows = append(rows, []string{
					strconv.Itoa(attempt.AttemptNumber),
					attempt.AttemptedAt.Local().Format(time.RFC3339),
					result,
					attempt.Error,
				})
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, renderTable(
				[]string{"Attempt", "When", "Result", "Error"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func newTrackCommand(ctx *commandContext) *cobra.Command {
	var externalID string

	cmd := &cobra.Command{
		Use:   "track <title>",
		Short: "Register a transcode job for tracking",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.TrimSpace(strings.Join(args, " "))
			if title == "" {
				return errors.New("job title is required")
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := client.RegisterJob(cmd.Context(), title, strings.TrimSpace(externalID))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tracking %q as %s\n", job.Title, job.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&externalID, "external-id", "", "External transcoder job identifier, if already known")
	return cmd
}

func buildJobRows(jobsList []api.JobView) [][]string {
	rows := make([][]string, 0, len(jobsList))
	for _, job := range jobsList {
		rows = append(rows, []string{
			job.ID,
			truncate(job.Title, 40),
			job.State,
			fmt.Sprintf("%d%%", job.ProgressPercent),
			job.ExternalID,
			job.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	return rows
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	if limit <= 1 {
		return string(runes[:limit])
	}
	return string(runes[:limit-1]) + "…"
}
