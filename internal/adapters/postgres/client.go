package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"finanalyst/internal/adapters/config"
	"finanalyst/pkg/errors"
)

// Client owns the PostgreSQL pool that stores analysis runs and document chunks.
type Client struct {
	db *sqlx.DB
}

// NewClient opens the pool and pings it within ctx.
func NewClient(ctx context.Context, cfg config.PostgresConfig) (*Client, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}

	maxConns := max(cfg.MaxConns, 2)
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.ConnMaxLifetime / 2)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "ping postgres %s:%d", cfg.Host, cfg.Port)
	}
	return &Client{db: db}, nil
}

func (c *Client) DB() *sqlx.DB { return c.db }

func (c *Client) Close() error { return c.db.Close() }

// Health pings with a short deadline so a stuck pool cannot hang /health.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return c.db.PingContext(ctx)
}
