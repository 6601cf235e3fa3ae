package main

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/kirillkom/records-inbox/internal/bootstrap"
	"github.com/kirillkom/records-inbox/internal/config"
	"github.com/kirillkom/records-inbox/internal/core/domain"
	"github.com/kirillkom/records-inbox/internal/infrastructure/redis"
	"github.com/kirillkom/records-inbox/internal/infrastructure/repository/postgres"
)

const stampLayout = "2006-01-02 15:04"

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDB(func(db *sql.DB) error {
				if err := postgres.Migrate(cmd.Context(), db); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
				return nil
			})
		},
	}
}

func newRescanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rescan",
		Short: "Queue every drop-folder file that has no inbox record",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap.New(cmd.Context(), ctx.cfg(), bootstrap.Options{})
			if err != nil {
				return err
			}
			defer app.Close()

			submitted, err := app.IngestUC.Rescan(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted %d file(s) from %s\n", submitted, app.Drop.Path())
			return nil
		},
	}
}

func newFailedJobsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "failed-jobs",
		Short: "Show the recent failed ingest deliveries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.cfg()
			if !strings.EqualFold(cfg.LeaseBackend, "redis") {
				return errors.New("failed-job history is only shared across processes with LEASE_BACKEND=redis")
			}
			client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
			defer client.Close()

			jobs, err := redis.NewFailedJobLog(client, cfg.QueueFailedHistory).List(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderFailedJobs(jobs))
			return nil
		},
	}
}

func renderFailedJobs(jobs []domain.FailedJob) string {
	if len(jobs) == 0 {
		return "No failed jobs"
	}
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		final := ""
		if job.Final {
			final = "yes"
		}
		rows = append(rows, []string{
			job.FailedAt.Local().Format(stampLayout),
			job.JobID,
			job.Path,
			strconv.Itoa(job.Attempt),
			final,
			job.Error,
		})
	}
	return renderTable(
		[]string{"Failed at", "Job", "Path", "Attempt", "Final", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}

func newMappingsCommand(ctx *commandContext) *cobra.Command {
	mappingsCmd := &cobra.Command{
		Use:   "mappings",
		Short: "List classification mappings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDB(func(db *sql.DB) error {
				mappings, err := postgres.NewMappingRepository(db).List(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderMappings(mappings))
				return nil
			})
		},
	}

	var seedFile string
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert seed mappings when the table is empty",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := seedFile
			if path == "" {
				path = ctx.cfg().MappingsSeedFile
			}
			seed, err := config.LoadMappingSeed(path)
			if err != nil {
				return err
			}
			return ctx.withDB(func(db *sql.DB) error {
				inserted, err := postgres.NewMappingRepository(db).SeedDefaults(cmd.Context(), seed)
				if err != nil {
					return err
				}
				if inserted == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Mappings already present; nothing inserted")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Inserted %d mapping(s)\n", inserted)
				return nil
			})
		},
	}
	seedCmd.Flags().StringVar(&seedFile, "file", "", "YAML seed file (defaults to MAPPINGS_SEED_FILE or built-in rules)")
	mappingsCmd.AddCommand(seedCmd)

	return mappingsCmd
}

func renderMappings(mappings []domain.FileMapping) string {
	if len(mappings) == 0 {
		return "No mappings configured"
	}
	rows := make([][]string, 0, len(mappings))
	for _, m := range mappings {
		rows = append(rows, []string{m.QRType, m.Category, m.NamePattern})
	}
	return renderTable([]string{"QR type", "Category", "Name pattern"}, rows, nil)
}

func newSettingsCommand(ctx *commandContext) *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and change stored settings",
	}

	settingsCmd.AddCommand(&cobra.Command{
		Use:   "show-email",
		Short: "Show the mailbox configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDB(func(db *sql.DB) error {
				settings, ok, err := postgres.NewSettingsRepository(db).GetEmailSettings(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !ok {
					fmt.Fprintln(out, "Email polling is not configured")
					return nil
				}
				fmt.Fprintf(out, "Enabled:  %t\n", settings.EmailEnabled)
				fmt.Fprintf(out, "Server:   %s:%d (tls=%t)\n", settings.IMAP.Host, settings.IMAP.PortOrDefault(), settings.IMAP.TLS)
				fmt.Fprintf(out, "User:     %s\n", settings.IMAP.User)
				fmt.Fprintf(out, "Password: %s\n", maskSecret(settings.IMAP.Password))
				return nil
			})
		},
	})

	var (
		settings    domain.EmailSettings
		disabled    bool
		passwordEnv string
	)
	setCmd := &cobra.Command{
		Use:   "set-email",
		Short: "Store the IMAP mailbox configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings.EmailEnabled = !disabled
			if passwordEnv != "" {
				settings.IMAP.Password = lookupEnv(passwordEnv)
			}
			if settings.EmailEnabled && !settings.Ready() {
				return errors.New("--host and --user are required unless --disabled is set")
			}
			return ctx.withDB(func(db *sql.DB) error {
				if err := postgres.NewSettingsRepository(db).SaveEmailSettings(cmd.Context(), settings); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Email settings saved")
				return nil
			})
		},
	}
	flags := setCmd.Flags()
	flags.StringVar(&settings.IMAP.Host, "host", "", "IMAP host")
	flags.IntVar(&settings.IMAP.Port, "port", 0, "IMAP port (993 with TLS, 143 without)")
	flags.BoolVar(&settings.IMAP.TLS, "tls", true, "Use implicit TLS")
	flags.StringVar(&settings.IMAP.User, "user", "", "IMAP user")
	flags.StringVar(&settings.IMAP.Password, "password", "", "IMAP password")
	flags.StringVar(&passwordEnv, "password-env", "", "Read the IMAP password from this environment variable")
	flags.BoolVar(&disabled, "disabled", false, "Store the settings with polling disabled")
	settingsCmd.AddCommand(setCmd)

	return settingsCmd
}

func maskSecret(secret string) string {
	if secret == "" {
		return "(empty)"
	}
	return strings.Repeat("*", 8)
}

func newNotificationsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List unread admin notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDB(func(db *sql.DB) error {
				items, err := postgres.NewNotificationRepository(db).ListUnread(cmd.Context(), limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderNotifications(items))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum notifications to show")
	return cmd
}

func renderNotifications(items []domain.Notification) string {
	if len(items) == 0 {
		return "No unread notifications"
	}
	rows := make([][]string, 0, len(items))
	for _, n := range items {
		rows = append(rows, []string{n.CreatedAt.Local().Format(stampLayout), n.Title, n.Message, n.ActionURL})
	}
	return renderTable([]string{"Created", "Title", "Message", "Link"}, rows, nil)
}
