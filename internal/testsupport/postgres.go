package testsupport

import (
	"context"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"

	"finanalyst/internal/adapters/config"
	"finanalyst/internal/adapters/postgres"
)

var migrateOnce sync.Once

// PostgresTestHelper hands a test one transaction that is rolled back at
// cleanup, so repositories under test never leave rows behind.
type PostgresTestHelper struct {
	client *postgres.Client
	tx     *sqlx.Tx
	done   sync.Once
}

func NewPostgresTestHelper(t *testing.T, cfg config.PostgresConfig) *PostgresTestHelper {
	t.Helper()
	ctx := context.Background()

	client, err := postgres.NewClient(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	// Migrations run once per test binary.
	var migrateErr error
	migrateOnce.Do(func() { migrateErr = client.Migrate(ctx) })
	if migrateErr != nil {
		t.Fatalf("migrate: %v", migrateErr)
	}

	tx, err := client.DB().BeginTxx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	h := &PostgresTestHelper{client: client, tx: tx}
	t.Cleanup(h.Rollback)
	return h
}

// NewTestPostgres skips unless POSTGRES_HOST is set.
func NewTestPostgres(t *testing.T) *PostgresTestHelper {
	t.Helper()
	return NewPostgresTestHelper(t, PostgresConfigFromEnv(t))
}

func (h *PostgresTestHelper) Tx() *sqlx.Tx  { return h.tx }
func (h *PostgresTestHelper) DB() *sqlx.DB { return h.client.DB() }

// Rollback is safe to call more than once.
func (h *PostgresTestHelper) Rollback() {
	h.done.Do(func() { _ = h.tx.Rollback() })
}
