package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/poolspy/internal/migrate"
	"github.com/ethpandaops/poolspy/internal/spy"
	"github.com/ethpandaops/poolspy/internal/version"
)

var (
	cfgFile  string
	logLevel string

	days                int
	endTime             string
	monthly             bool
	extraRigs           []string
	notifyEnabled       bool
	noNotifyAttachments bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poolspy",
		Short: "Mining pool rig activity reporter",
		Long: `poolspy reconstructs how long each rig of a NiceHash organization
actually mined, at what hash rate and at what earnings rate, from the
pool's sparse stats samples, and reports it over a lookback window or
the current month.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	cmd.PersistentFlags().StringVar(
		&cfgFile, "config", "",
		"path to config file (required)",
	)
	cmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "",
		"override log level (debug, info, warn, error)",
	)

	cmd.Flags().IntVar(
		&days, "days", 0,
		"override the lookback window in days",
	)
	cmd.Flags().StringVar(
		&endTime, "end", "",
		"window end as RFC 3339 or YYYY-MM-DD (default now)",
	)
	cmd.Flags().BoolVar(
		&monthly, "monthly", false,
		"report the current UTC month to date",
	)
	cmd.Flags().StringSliceVar(
		&extraRigs, "rigs", nil,
		"additional rig ids to report",
	)
	cmd.Flags().BoolVar(
		&notifyEnabled, "notify", false,
		"send the report to the configured webhook",
	)
	cmd.Flags().BoolVar(
		&noNotifyAttachments, "no-notify-attachments", false,
		"send the notification without CSV attachments",
	)

	cmd.AddCommand(versionCmd())
	cmd.AddCommand(migrateCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.FullWithPlatform())
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the ClickHouse report schema",
	}

	action := func(name, short string, fn func(context.Context, migrate.Migrator) error) *cobra.Command {
		return &cobra.Command{
			Use:   name,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				log, cfg, err := setup()
				if err != nil {
					return err
				}

				if !cfg.Exports.ClickHouse.Enabled {
					return fmt.Errorf("exports.clickhouse is not enabled")
				}

				return fn(cmd.Context(), migrate.New(log, cfg.Exports.ClickHouse.DSN()))
			},
		}
	}

	cmd.AddCommand(
		action("up", "Apply all pending migrations", func(ctx context.Context, m migrate.Migrator) error {
			return m.Up(ctx)
		}),
		action("down", "Roll back the last migration", func(ctx context.Context, m migrate.Migrator) error {
			return m.Down(ctx)
		}),
		action("status", "Print the current schema version", func(ctx context.Context, m migrate.Migrator) error {
			v, dirty, err := m.Status(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("version=%d dirty=%t\n", v, dirty)

			return nil
		}),
	)

	return cmd
}

// setup loads the config file and builds the logger.
func setup() (*logrus.Logger, *spy.Config, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if cfgFile == "" {
		return nil, nil, fmt.Errorf("required flag \"config\" not set")
	}

	cfg, err := spy.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	// CLI flag overrides config file.
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing log level %q: %w", cfg.LogLevel, err)
	}

	log.SetLevel(level)

	return log, cfg, nil
}

func run(cmd *cobra.Command, args []string) error {
	log, cfg, err := setup()
	if err != nil {
		return err
	}

	flags := cmd.Flags()

	if flags.Changed("days") {
		cfg.Window.Days = days
		cfg.Window.Monthly = false
	}

	if flags.Changed("monthly") {
		cfg.Window.Monthly = monthly
	}

	if len(extraRigs) > 0 {
		cfg.Rigs = append(cfg.Rigs, extraRigs...)
	}

	if flags.Changed("notify") {
		cfg.Notify.Enabled = notifyEnabled
	}

	if noNotifyAttachments {
		cfg.Notify.Attachments = false
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating flags: %w", err)
	}

	end, err := parseEnd(endTime)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	runner, err := spy.New(log, cfg)
	if err != nil {
		return fmt.Errorf("creating runner: %w", err)
	}

	if _, err := runner.Run(ctx, end); err != nil {
		return fmt.Errorf("running report: %w", err)
	}

	return nil
}

// parseEnd accepts an RFC 3339 timestamp or a UTC date. An empty value
// yields the zero time, which the runner reads as now.
func parseEnd(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}

	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing --end %q: expected RFC 3339 or YYYY-MM-DD", value)
	}

	return t, nil
}
