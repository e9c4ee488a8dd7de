package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"finanalyst/internal/adapters/config"
	pgclient "finanalyst/internal/adapters/postgres"
	"finanalyst/pkg/errors"
	"finanalyst/pkg/logger"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPostgres(cmd.Context(), func(ctx context.Context, pg *pgclient.Client) error {
				return pg.Migrate(ctx)
			})
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withPostgres(cmd.Context(), func(ctx context.Context, pg *pgclient.Client) error {
					return pg.MigrateDown(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withPostgres(cmd.Context(), func(ctx context.Context, pg *pgclient.Client) error {
					v, err := pg.MigrationVersion(ctx)
					if err != nil {
						return err
					}
					fmt.Println(v)
					return nil
				})
			},
		},
	)
	return cmd
}

func withPostgres(ctx context.Context, fn func(context.Context, *pgclient.Client) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		return errors.Wrap(err, "init logger")
	}
	defer func() { _ = logger.Sync() }()

	if !cfg.Postgres.Enabled() {
		return errors.Wrap(errors.ErrUnavailable, "POSTGRES_HOST is not set")
	}

	pg, err := pgclient.NewClient(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pg.Close()

	return fn(ctx, pg)
}
