package clickhouse

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"finanalyst/internal/adapters/config"
	"finanalyst/pkg/errors"
)

// Client holds the native-protocol connection used for tool usage analytics.
type Client struct {
	conn driver.Conn
}

// NewClient connects and pings within ctx.
func NewClient(ctx context.Context, cfg config.ClickHouseConfig) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr()},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     5 * time.Second,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open clickhouse")
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "ping clickhouse %s", cfg.Addr())
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Conn() driver.Conn { return c.conn }

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) Health(ctx context.Context) error {
	return c.conn.Ping(ctx)
}
