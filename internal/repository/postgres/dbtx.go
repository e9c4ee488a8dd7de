package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"finanalyst/pkg/errors"
)

// DBTX is satisfied by both *sqlx.DB and *sqlx.Tx, so tests can run a
// repository inside a transaction they roll back.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
}

type txBeginner interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// inTx runs fn in a new transaction when db can start one. A db that is
// already a transaction is used as is.
func inTx(ctx context.Context, db DBTX, fn func(DBTX) error) (err error) {
	b, ok := db.(txBeginner)
	if !ok {
		return fn(db)
	}

	tx, err := b.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit tx")
}
