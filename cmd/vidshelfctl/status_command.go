package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/snarg/vidshelf/internal/database"
	"github.com/snarg/vidshelf/internal/jobclient"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the Job Service and database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			rows := [][]string{}
			client := jobclient.New(jobclient.Options{
				BaseURL: cfg.JobServiceURL,
				Token:   cfg.JobServiceToken,
				Timeout: cfg.JobServiceTimeout,
				Log:     ctx.logger(),
			})
			pingCtx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			rows = append(rows, []string{"job_service", checkResult(client.Ping(pingCtx)), cfg.JobServiceURL})
			cancel()

			if cfg.DatabaseURL == "" {
				rows = append(rows, []string{"database", "not_configured", ""})
			} else {
				err := ctx.withDB(cmd.Context(), func(db *database.DB) error {
					n, err := db.CountRows(cmd.Context(), "remembered_jobs")
					if err != nil {
						return err
					}
					rows = append(rows, []string{"database", "ok", strconv.FormatInt(n, 10) + " remembered job(s)"})
					return nil
				})
				if err != nil {
					rows = append(rows, []string{"database", checkResult(err), ""})
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Check", "Status", "Detail"}, rows, nil))
			return nil
		},
	}
}

func checkResult(err error) string {
	if err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}
