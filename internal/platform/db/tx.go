package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TxFromContext returns the open transaction on the context, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx begins a transaction on the tenant-scoped connection and returns a
// derived context carrying it. Repositories resolve their querier through
// the context, so everything executed under the returned context joins the
// transaction. The caller owns commit/rollback.
func WithTx(ctx context.Context) (context.Context, pgx.Tx, error) {
	conn := ConnFromContext(ctx)
	if conn == nil {
		return ctx, nil, fmt.Errorf("no database connection in context")
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return context.WithValue(ctx, DBTxKey, tx), tx, nil
}

// InTx runs fn inside a transaction, committing on success and rolling
// back on error. Without a tenant-scoped connection on the context fn runs
// as-is; callers outside a request (tests, one-off tools) keep working
// against whatever querier their repositories resolve.
func InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ConnFromContext(ctx) == nil {
		return fn(ctx)
	}
	txCtx, tx, err := WithTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(txCtx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
