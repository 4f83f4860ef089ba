package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/ceer-lab/ceer/internal/app/migrate"
)

func migrateCommand() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", time.Minute, "command timeout")

	withRunner := func(cmd *cobra.Command, fn func(context.Context, migrate.Runner) error) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		pool, _, err := connect(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		runner, err := migrate.New(pool, commonLogger())
		if err != nil {
			return err
		}
		if err := runner.Ping(ctx); err != nil {
			return err
		}
		return fn(ctx, runner)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRunner(cmd, func(ctx context.Context, r migrate.Runner) error {
				return r.Ensure(ctx)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRunner(cmd, func(ctx context.Context, r migrate.Runner) error {
				return r.Status(ctx)
			})
		},
	})

	var target int64
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration, or down to --target",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRunner(cmd, func(ctx context.Context, r migrate.Runner) error {
				return r.Down(ctx, target)
			})
		},
	}
	down.Flags().Int64Var(&target, "target", 0, "target version (optional)")
	cmd.AddCommand(down)
	return cmd
}
