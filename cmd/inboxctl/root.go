package main

import (
	"database/sql"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/kirillkom/records-inbox/internal/config"
	"github.com/kirillkom/records-inbox/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/records-inbox/internal/observability/logging"
)

type commandContext struct {
	dsnFlag string

	configOnce sync.Once
	config     config.Config

	openDB func(dsn string) (*sql.DB, error)
}

func newCommandContext() *commandContext {
	return &commandContext{openDB: postgres.OpenDB}
}

func (c *commandContext) cfg() config.Config {
	c.configOnce.Do(func() {
		c.config = config.Load()
		if dsn := strings.TrimSpace(c.dsnFlag); dsn != "" {
			c.config.PostgresDSN = dsn
		}
	})
	return c.config
}

func (c *commandContext) withDB(fn func(*sql.DB) error) error {
	db, err := c.openDB(c.cfg().PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func newRootCommand(ctx *commandContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "inboxctl",
		Short:         "Operate the records inbox",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(logging.New(cmd.ErrOrStderr(), "inboxctl", ctx.cfg().LogLevel))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVar(&ctx.dsnFlag, "dsn", "", "Postgres DSN (overrides POSTGRES_DSN)")

	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newRescanCommand(ctx))
	rootCmd.AddCommand(newFailedJobsCommand(ctx))
	rootCmd.AddCommand(newMappingsCommand(ctx))
	rootCmd.AddCommand(newSettingsCommand(ctx))
	rootCmd.AddCommand(newNotificationsCommand(ctx))

	return rootCmd
}

func lookupEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
