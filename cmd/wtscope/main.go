package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/wtscope/internal/agent"
	"github.com/ethpandaops/wtscope/internal/migrate"
	"github.com/ethpandaops/wtscope/internal/version"
)

var (
	cfgFile  string
	logLevel string
	dsn      string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.Name,
		Short: "WiredTiger probe event correlation agent",
		Long: `wtscope consumes probe firings from a WiredTiger host process,
pairs entries with exits per thread, tracks live allocations, sessions
and transactions, and exports finished events to ClickHouse or HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	cmd.PersistentFlags().StringVar(
		&cfgFile, "config", "",
		"path to config file",
	)
	cmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "",
		"override log level (debug, info, warn, error)",
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
		Short: "Manage the ClickHouse schema used by the events sink",
	}

	cmd.PersistentFlags().StringVar(
		&dsn, "dsn", "",
		"ClickHouse DSN, e.g. clickhouse://host:9000/default (defaults to the events sink config)",
	)

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := newMigrator()
			if err != nil {
				return err
			}

			return m.Up(cmd.Context())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := newMigrator()
			if err != nil {
				return err
			}

			return m.Down(cmd.Context())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the current migration version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := newMigrator()
			if err != nil {
				return err
			}

			v, dirty, err := m.Status(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("version: %d, dirty: %t\n", v, dirty)

			return nil
		},
	})

	return cmd
}

func newLogger(level string) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if level == "" {
		level = "info"
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", level, err)
	}

	log.SetLevel(parsed)

	return log, nil
}

func newMigrator() (migrate.Migrator, error) {
	log, err := newLogger(logLevel)
	if err != nil {
		return nil, err
	}

	target := dsn
	if target == "" {
		if cfgFile == "" {
			return nil, errors.New("either --dsn or --config is required")
		}

		cfg, err := agent.LoadConfig(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}

		if cfg.Sinks.Events.ClickHouse.Endpoint == "" {
			return nil, errors.New("sinks.events.clickhouse.endpoint is not set")
		}

		target = migrate.DSN(cfg.Sinks.Events.ClickHouse)
	}

	return migrate.New(log, target), nil
}

func run(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return errors.New(`required flag "config" not set`)
	}

	cfg, err := agent.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// CLI flag overrides config file.
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	a, err := agent.New(log, cfg)
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	log.WithField("version", version.Full()).Info("Starting wtscope agent")

	if err := a.Start(ctx); err != nil {
		if stopErr := a.Stop(); stopErr != nil {
			log.WithError(stopErr).Error("Error during shutdown")
		}

		return fmt.Errorf("starting agent: %w", err)
	}

	<-ctx.Done()

	log.Info("Shutting down wtscope agent")

	if err := a.Stop(); err != nil {
		log.WithError(err).Error("Error during shutdown")

		return fmt.Errorf("stopping agent: %w", err)
	}

	log.Info("Shutdown complete")

	return nil
}
