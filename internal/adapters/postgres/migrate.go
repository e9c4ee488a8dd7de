package postgres

import (
	"context"
	"embed"

	"github.com/pressly/goose/v3"

	"finanalyst/pkg/errors"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationsDir = "migrations"

func init() {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		panic(err)
	}
}

// Migrate applies every pending migration.
func (c *Client) Migrate(ctx context.Context) error {
	if err := goose.UpContext(ctx, c.db.DB, migrationsDir); err != nil {
		return errors.Wrap(err, "apply migrations")
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func (c *Client) MigrateDown(ctx context.Context) error {
	if err := goose.DownContext(ctx, c.db.DB, migrationsDir); err != nil {
		return errors.Wrap(err, "roll back migration")
	}
	return nil
}

// MigrationVersion returns the current schema version.
func (c *Client) MigrationVersion(ctx context.Context) (int64, error) {
	v, err := goose.GetDBVersionContext(ctx, c.db.DB)
	if err != nil {
		return 0, errors.Wrap(err, "read migration version")
	}
	return v, nil
}
