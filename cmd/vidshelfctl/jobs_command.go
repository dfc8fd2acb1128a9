package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/snarg/vidshelf/internal/database"
	"github.com/snarg/vidshelf/internal/media"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage remembered transcription jobs",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsForgetCommand(ctx))
	jobsCmd.AddCommand(newJobsPruneCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var source string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List remembered jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDB(cmd.Context(), func(db *database.DB) error {
				jobs, err := db.ListJobs(cmd.Context(), source, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No remembered jobs")
					return nil
				}
				fmt.Fprintln(out, renderJobs(jobs, time.Now()))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "only list jobs of this source")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of jobs to list")
	return cmd
}

func renderJobs(jobs []database.RememberedJob, now time.Time) string {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{
			j.SourceID,
			j.RelativePath,
			j.JobID,
			j.Language,
			j.Model,
			now.Sub(j.SubmittedAt).Truncate(time.Second).String(),
		})
	}
	return renderTable(
		[]string{"Source", "Path", "Job", "Language", "Model", "Age"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	)
}

func newJobsForgetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <sourceId> <relativePath>",
		Short: "Forget an item's remembered job so no view resumes it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rel, err := media.CleanRelative(args[1])
			if err != nil {
				return err
			}
			return ctx.withDB(cmd.Context(), func(db *database.DB) error {
				if err := db.ForgetJob(cmd.Context(), args[0], rel); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Forgot %s\n", media.Item{SourceID: args[0], RelativePath: rel}.Key())
				return nil
			})
		},
	}
}

func newJobsPruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Forget jobs submitted longer ago than the retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if olderThan <= 0 {
				olderThan = cfg.JobRetention
			}
			if olderThan <= 0 {
				return fmt.Errorf("nothing to prune: retention is %s", olderThan)
			}
			return ctx.withDB(cmd.Context(), func(db *database.DB) error {
				out := cmd.OutOrStdout()
				if dryRun {
					jobs, err := db.ListJobs(cmd.Context(), "", 10000)
					if err != nil {
						return err
					}
					stale := staleJobs(jobs, time.Now().Add(-olderThan))
					fmt.Fprintf(out, "Would forget %d job(s) older than %s\n", len(stale), olderThan)
					if len(stale) > 0 {
						fmt.Fprintln(out, renderJobs(stale, time.Now()))
					}
					return nil
				}
				n, err := db.PruneJobs(cmd.Context(), olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Forgot %s job(s) older than %s\n", strconv.FormatInt(n, 10), olderThan)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "retention (default JOB_RETENTION)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only show what would be forgotten")
	return cmd
}

func staleJobs(jobs []database.RememberedJob, cutoff time.Time) []database.RememberedJob {
	var out []database.RememberedJob
	for _, j := range jobs {
		if j.SubmittedAt.Before(cutoff) {
			out = append(out, j)
		}
	}
	return out
}
