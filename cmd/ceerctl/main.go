package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/ceer-lab/ceer/internal/repository/postgres"
	"github.com/ceer-lab/ceer/pkg/config"
	"github.com/ceer-lab/ceer/pkg/logger"
)

const programName = "ceerctl"

var globalFlags = struct {
	debug       bool
	databaseURL string
}{}

func commonLogger() *slog.Logger {
	level := slog.LevelInfo
	if globalFlags.debug {
		level = slog.LevelDebug
	}
	return logger.New(programName, level)
}

// connect opens a pool against the configured database and returns the repository on top of it.
func connect(ctx context.Context) (*pgxpool.Pool, *postgres.Repository, error) {
	dsn := globalFlags.databaseURL
	if dsn == "" {
		dsn = config.LoadAPIConfig().DatabaseURL
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return pool, postgres.New(pool), nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Operator tooling for the CEER lab BOM service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVar(&globalFlags.databaseURL, "database-url", "", "postgres DSN (defaults to DATABASE_URL)")

	rootCmd.AddCommand(migrateCommand())
	rootCmd.AddCommand(seedCommand())
	rootCmd.AddCommand(userCommand())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", programName, err)
		stop()
		os.Exit(1)
	}
}
