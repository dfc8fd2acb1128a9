package main

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/snarg/vidshelf"
	"github.com/snarg/vidshelf/internal/config"
	"github.com/snarg/vidshelf/internal/database"
)

type commandContext struct {
	overrides config.Overrides
	verbose   bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.Load(c.overrides)
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() zerolog.Logger {
	level := zerolog.WarnLevel
	if c.verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(level)
}

// withDB opens the database named by the config for the length of fn.
func (c *commandContext) withDB(ctx context.Context, fn func(db *database.DB) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set")
	}
	db, err := database.Connect(ctx, cfg.DatabaseURL, c.logger())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Ready(ctx, vidshelf.SchemaSQL); err != nil {
		return err
	}
	return fn(db)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "vidshelfctl",
		Short:         "Operator tool for the vidshelf gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&ctx.overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flags.StringVar(&ctx.overrides.DatabaseURL, "database-url", "", "PostgreSQL URL (overrides DATABASE_URL)")
	flags.StringVar(&ctx.overrides.JobServiceURL, "job-service-url", "", "Job Service base URL (overrides JOB_SERVICE_URL)")
	flags.BoolVarP(&ctx.verbose, "verbose", "v", false, "log debug output to stderr")

	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newResolveCommand())
	rootCmd.AddCommand(newTranscribeCommand(ctx))

	return rootCmd
}
